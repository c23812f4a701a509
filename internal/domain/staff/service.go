package staff

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/patientflow/patientflow/internal/platform/auth"
)

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrNotAClinician    = errors.New("operator is not an active physician")
	ErrInvalidRole      = errors.New("invalid role")
	ErrNameRequired     = errors.New("full_name is required")
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateOperator(ctx context.Context, o *Operator) error {
	o.FullName = strings.TrimSpace(o.FullName)
	if o.FullName == "" {
		return ErrNameRequired
	}
	if !ValidRole(o.Role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, o.Role)
	}
	o.Active = true
	return s.repo.Create(ctx, o)
}

func (s *Service) GetOperator(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) DeactivateOperator(ctx context.Context, id uuid.UUID) error {
	return s.repo.SetActive(ctx, id, false)
}

func (s *Service) ListOperators(ctx context.Context, limit, offset int) ([]*Operator, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListClinicians returns the active physicians offered to the routing desk.
func (s *Service) ListClinicians(ctx context.Context) ([]*Operator, error) {
	return s.repo.ListActiveByRole(ctx, auth.RolePhysician)
}

// GetClinician returns id only if it names an active physician.
func (s *Service) GetClinician(ctx context.Context, id uuid.UUID) (*Operator, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.IsClinician() {
		return nil, ErrNotAClinician
	}
	return o, nil
}
