package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient maps to the patient table. NationalID is the only dedup key.
type Patient struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	NationalID string     `db:"national_id" json:"national_id"`
	FullName   string     `db:"full_name" json:"full_name"`
	BirthDate  *time.Time `db:"birth_date" json:"birth_date,omitempty"`
	Phone      *string    `db:"phone" json:"phone,omitempty"`
	MotherName *string    `db:"mother_name" json:"mother_name,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// RegisterInput is the front-desk registration form.
type RegisterInput struct {
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone,omitempty"`
	MotherName string `json:"mother_name,omitempty"`
	// BirthDate is YYYY-MM-DD.
	BirthDate string `json:"birth_date,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
