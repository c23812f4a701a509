package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound   = errors.New("patient not found")
	ErrInvalidNationalID = errors.New("national id must have 11 digits")
	ErrNameRequired      = errors.New("full_name is required")
	ErrInvalidBirthDate  = errors.New("birth_date must be YYYY-MM-DD")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterPatient creates the patient or, when the national id is already
// known, refreshes name and phone in place. created reports which happened.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterInput) (*Patient, bool, error) {
	p, err := in.toPatient()
	if err != nil {
		return nil, false, err
	}
	created, err := s.repo.Upsert(ctx, p)
	if err != nil {
		return nil, false, fmt.Errorf("upsert patient: %w", err)
	}
	return p, created, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) FindByNationalID(ctx context.Context, raw string) (*Patient, error) {
	nid, err := NormalizeNationalID(raw)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByNationalID(ctx, nid)
}

func (s *Service) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (in RegisterInput) toPatient() (*Patient, error) {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, ErrNameRequired
	}
	nid, err := NormalizeNationalID(in.NationalID)
	if err != nil {
		return nil, err
	}
	p := &Patient{
		NationalID: nid,
		FullName:   name,
		Phone:      optional(strings.TrimSpace(in.Phone)),
		MotherName: optional(strings.TrimSpace(in.MotherName)),
	}
	if in.BirthDate != "" {
		bd, err := time.Parse("2006-01-02", in.BirthDate)
		if err != nil {
			return nil, ErrInvalidBirthDate
		}
		p.BirthDate = &bd
	}
	return p, nil
}

// IsValidationError reports whether err was caused by bad registration input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidNationalID) || errors.Is(err, ErrNameRequired) ||
		errors.Is(err, ErrInvalidBirthDate)
}
