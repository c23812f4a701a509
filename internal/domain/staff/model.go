package staff

import (
	"time"

	"github.com/google/uuid"

	"github.com/patientflow/patientflow/internal/platform/auth"
)

// Operator maps to the operator table: anyone who acts at a station.
type Operator struct {
	ID        uuid.UUID `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (o *Operator) IsClinician() bool {
	return o.Active && o.Role == auth.RolePhysician
}

var validRoles = map[string]bool{
	auth.RoleReceptionist: true,
	auth.RoleNurse:        true,
	auth.RoleDispatcher:   true,
	auth.RolePhysician:    true,
	auth.RoleAdmin:        true,
}

// ValidRole reports whether role is one of the station roles.
func ValidRole(role string) bool {
	return validRoles[role]
}
