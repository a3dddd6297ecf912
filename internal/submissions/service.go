// Package submissions is the public intake for candidate applications.
package submissions

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/metrics"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
)

// EventSubmissionCreated is published to the organization room after a successful submission.
const EventSubmissionCreated = "submission_created"

// EventPublisher delivers an event to everyone watching an organization.
type EventPublisher interface {
	PublishToOrganization(orgID, event string, payload interface{})
}

// Application is one untrusted submission. The three ids must agree along
// role -> production -> organization.
type Application struct {
	OrganizationID string  `json:"organization_id" validate:"required"`
	ProductionID   string  `json:"production_id" validate:"required"`
	RoleID         string  `json:"role_id" validate:"required"`
	FirstName      string  `json:"first_name" validate:"required,max=100"`
	LastName       string  `json:"last_name" validate:"required,max=100"`
	Email          string  `json:"email" validate:"required,email,max=254"`
	Phone          *string `json:"phone" validate:"omitempty,max=40"`
}

// Created is the payload of submission_created.
type Created struct {
	SubmissionID string `json:"submission_id"`
	ProductionID string `json:"production_id"`
	RoleID       string `json:"role_id"`
	CandidateID  string `json:"candidate_id"`
	NewCandidate bool   `json:"new_candidate"`
}

// PublicOrganization is what an anonymous visitor may see of an organization.
type PublicOrganization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PublicRole is a casting role together with its production.
type PublicRole struct {
	models.Role
	Production models.Production `json:"production"`
}

// Service validates and records submissions.
type Service struct {
	store    store.Store
	events   EventPublisher
	logger   *zap.Logger
	validate *validator.Validate
}

// NewService creates the intake service. events may be nil.
func NewService(st store.Store, events EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{store: st, events: events, logger: logger, validate: v}
}

// Submit records one application and returns the new submission id. The
// candidate for (organization, email) is reused when it exists; lookup,
// creation and the submission insert commit together.
func (s *Service) Submit(ctx context.Context, app Application) (string, error) {
	app = normalize(app)
	if err := s.check(app); err != nil {
		metrics.Submission(metrics.OutcomeRejected)
		return "", err
	}

	var created Created
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := resolveChain(ctx, tx, app.OrganizationID, app.ProductionID, app.RoleID); err != nil {
			return err
		}

		if err := tx.LockCandidateEmail(ctx, app.OrganizationID, app.Email); err != nil {
			return fmt.Errorf("lock candidate email: %w", err)
		}
		candidate, err := tx.FindCandidateByEmail(ctx, app.OrganizationID, app.Email)
		switch {
		case errors.Is(err, store.ErrNotFound):
			candidate = &models.Candidate{
				ID:             id.New(id.PrefixCandidate),
				OrganizationID: app.OrganizationID,
				FirstName:      app.FirstName,
				LastName:       app.LastName,
				Email:          app.Email,
				Phone:          app.Phone,
			}
			if err := tx.CreateCandidate(ctx, candidate); err != nil {
				if errors.Is(err, store.ErrDuplicate) {
					return ErrConflict
				}
				return fmt.Errorf("create candidate: %w", err)
			}
			created.NewCandidate = true
		case err != nil:
			return fmt.Errorf("find candidate: %w", err)
		}

		sub := &models.Submission{
			ID:           id.New(id.PrefixSubmission),
			ProductionID: app.ProductionID,
			RoleID:       app.RoleID,
			CandidateID:  candidate.ID,
			FirstName:    app.FirstName,
			LastName:     app.LastName,
			Email:        app.Email,
			Phone:        app.Phone,
		}
		if err := tx.CreateSubmission(ctx, sub); err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		created.SubmissionID = sub.ID
		created.ProductionID = sub.ProductionID
		created.RoleID = sub.RoleID
		created.CandidateID = candidate.ID
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRoleNotAvailable):
			metrics.Submission(metrics.OutcomeRejected)
		case errors.Is(err, ErrConflict):
			metrics.Submission(metrics.OutcomeError)
			s.logger.Warn("candidate insert conflicted", zap.String("organization_id", app.OrganizationID))
		default:
			metrics.Submission(metrics.OutcomeError)
			s.logger.Error("submission failed", zap.String("organization_id", app.OrganizationID), zap.Error(err))
		}
		return "", err
	}

	metrics.Submission(metrics.OutcomeOK)
	if created.NewCandidate {
		metrics.CandidateCreated()
	}
	if s.events != nil {
		s.events.PublishToOrganization(app.OrganizationID, EventSubmissionCreated, created)
	}
	return created.SubmissionID, nil
}

// GetPublicOrganization returns the public view of an organization.
func (s *Service) GetPublicOrganization(ctx context.Context, orgID string) (*PublicOrganization, error) {
	var out *PublicOrganization
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return notFound(err)
		}
		out = &PublicOrganization{ID: org.ID, Name: org.Name}
		return nil
	})
	return out, err
}

// ListPublicProductions returns an organization's productions with their roles, newest first.
func (s *Service) ListPublicProductions(ctx context.Context, orgID string) ([]models.ProductionWithRoles, error) {
	var out []models.ProductionWithRoles
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetOrganization(ctx, orgID); err != nil {
			return notFound(err)
		}
		prods, err := tx.ListProductions(ctx, orgID)
		if err != nil {
			return err
		}
		out = make([]models.ProductionWithRoles, 0, len(prods))
		for _, p := range prods {
			roles, err := tx.ListRoles(ctx, p.ID)
			if err != nil {
				return err
			}
			out = append(out, models.ProductionWithRoles{Production: p.Production, Roles: nonNil(roles)})
		}
		return nil
	})
	return out, err
}

// GetPublicProduction returns one production of orgID with its roles.
func (s *Service) GetPublicProduction(ctx context.Context, orgID, productionID string) (*models.ProductionWithRoles, error) {
	var out *models.ProductionWithRoles
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		p, err := tx.GetProduction(ctx, productionID)
		if err != nil {
			return notFound(err)
		}
		if p.OrganizationID != orgID {
			return ErrNotFound
		}
		roles, err := tx.ListRoles(ctx, p.ID)
		if err != nil {
			return err
		}
		out = &models.ProductionWithRoles{Production: *p, Roles: nonNil(roles)}
		return nil
	})
	return out, err
}

// GetPublicRole returns a role after the same chain check Submit applies.
func (s *Service) GetPublicRole(ctx context.Context, orgID, productionID, roleID string) (*PublicRole, error) {
	var out *PublicRole
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = resolveChain(ctx, tx, orgID, productionID, roleID)
		return err
	})
	return out, err
}

// resolveChain checks role -> production -> organization. Every mismatch is
// ErrRoleNotAvailable so callers learn nothing about other tenants.
func resolveChain(ctx context.Context, tx store.Tx, orgID, productionID, roleID string) (*PublicRole, error) {
	role, err := tx.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoleNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	if role.ProductionID != productionID {
		return nil, ErrRoleNotAvailable
	}
	prod, err := tx.GetProduction(ctx, role.ProductionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRoleNotAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("load production: %w", err)
	}
	if prod.OrganizationID != orgID {
		return nil, ErrRoleNotAvailable
	}
	return &PublicRole{Role: *role, Production: *prod}, nil
}

func normalize(app Application) Application {
	app.OrganizationID = strings.TrimSpace(app.OrganizationID)
	app.ProductionID = strings.TrimSpace(app.ProductionID)
	app.RoleID = strings.TrimSpace(app.RoleID)
	app.FirstName = strings.TrimSpace(app.FirstName)
	app.LastName = strings.TrimSpace(app.LastName)
	app.Email = strings.TrimSpace(app.Email)
	if app.Phone != nil {
		phone := strings.TrimSpace(*app.Phone)
		if phone == "" {
			app.Phone = nil
		} else {
			app.Phone = &phone
		}
	}
	return app
}

func (s *Service) check(app Application) error {
	err := s.validate.Struct(app)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidApplication, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, describe(fe))
	}
	return &ValidationError{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func nonNil(roles []models.Role) []models.Role {
	if roles == nil {
		return []models.Role{}
	}
	return roles
}
