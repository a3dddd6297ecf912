// Package productions manages an organization's productions and their casting roles.
package productions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/organizations"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
)

// EventProductionCreated is published to the organization room after a production is created.
const EventProductionCreated = "production_created"

const (
	maxNameLen        = 200
	maxDescriptionLen = 5000
	maxRolesPerCreate = 100
)

var (
	ErrNotFound     = errors.New("production not found")
	ErrInvalidInput = errors.New("invalid production")
)

// EventPublisher delivers an event to everyone watching an organization.
type EventPublisher interface {
	PublishToOrganization(orgID, event string, payload interface{})
}

// RoleInput describes a casting role to create.
type RoleInput struct {
	Name        string  `json:"name" binding:"required"`
	Description *string `json:"description"`
}

// Detail is a production with each role's submissions.
type Detail struct {
	models.Production
	Roles []models.RoleWithSubmissions `json:"roles"`
}

// Service handles production CRUD. Every call checks the caller is a member
// of the organization in the same transaction as the read or write.
type Service struct {
	store  store.Store
	events EventPublisher
	logger *zap.Logger
}

// NewService creates a productions service. events may be nil.
func NewService(st store.Store, events EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, events: events, logger: logger}
}

// CreateProduction creates a production and its initial roles together.
func (s *Service) CreateProduction(ctx context.Context, orgID, userID, name string, description *string, roles []RoleInput) (*models.ProductionWithRoles, error) {
	name, description, err := clean(name, description)
	if err != nil {
		return nil, err
	}
	if len(roles) > maxRolesPerCreate {
		return nil, fmt.Errorf("%w: at most %d roles", ErrInvalidInput, maxRolesPerCreate)
	}
	cleaned := make([]RoleInput, 0, len(roles))
	for _, r := range roles {
		rn, rd, err := clean(r.Name, r.Description)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", r.Name, err)
		}
		cleaned = append(cleaned, RoleInput{Name: rn, Description: rd})
	}

	out := &models.ProductionWithRoles{Roles: []models.Role{}}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		out.Production = models.Production{
			ID:             id.New(id.PrefixProduction),
			OrganizationID: orgID,
			Name:           name,
			Description:    description,
		}
		if err := tx.CreateProduction(ctx, &out.Production); err != nil {
			return fmt.Errorf("create production: %w", err)
		}
		for _, r := range cleaned {
			role := models.Role{
				ID:           id.New(id.PrefixRole),
				ProductionID: out.Production.ID,
				Name:         r.Name,
				Description:  r.Description,
			}
			if err := tx.CreateRole(ctx, &role); err != nil {
				return fmt.Errorf("create role: %w", err)
			}
			out.Roles = append(out.Roles, role)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("production created",
		zap.String("organization_id", orgID),
		zap.String("production_id", out.ID),
		zap.Int("roles", len(out.Roles)),
	)
	if s.events != nil {
		s.events.PublishToOrganization(orgID, EventProductionCreated, out)
	}
	return out, nil
}

// CreateRole adds a casting role to a production of orgID.
func (s *Service) CreateRole(ctx context.Context, orgID, userID, productionID, name string, description *string) (*models.Role, error) {
	name, description, err := clean(name, description)
	if err != nil {
		return nil, err
	}
	var role *models.Role
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		if _, err := ownedProduction(ctx, tx, orgID, productionID); err != nil {
			return err
		}
		role = &models.Role{
			ID:           id.New(id.PrefixRole),
			ProductionID: productionID,
			Name:         name,
			Description:  description,
		}
		if err := tx.CreateRole(ctx, role); err != nil {
			return fmt.Errorf("create role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return role, nil
}

// ListProductions returns orgID's productions with submission counts, newest first.
func (s *Service) ListProductions(ctx context.Context, orgID, userID string) ([]models.ProductionSummary, error) {
	list := []models.ProductionSummary{}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		prods, err := tx.ListProductions(ctx, orgID)
		if err != nil {
			return err
		}
		list = append(list, prods...)
		return nil
	})
	return list, err
}

// GetProduction returns one production with its roles, each carrying its submissions.
func (s *Service) GetProduction(ctx context.Context, orgID, userID, productionID string) (*Detail, error) {
	var out *Detail
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := organizations.RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		p, err := ownedProduction(ctx, tx, orgID, productionID)
		if err != nil {
			return err
		}
		roles, err := tx.ListRoles(ctx, p.ID)
		if err != nil {
			return err
		}
		subs, err := tx.ListSubmissionsByProduction(ctx, p.ID)
		if err != nil {
			return err
		}
		byRole := make(map[string][]models.Submission, len(roles))
		for _, sub := range subs {
			byRole[sub.RoleID] = append(byRole[sub.RoleID], sub)
		}
		out = &Detail{Production: *p, Roles: make([]models.RoleWithSubmissions, 0, len(roles))}
		for _, r := range roles {
			rs := byRole[r.ID]
			if rs == nil {
				rs = []models.Submission{}
			}
			out.Roles = append(out.Roles, models.RoleWithSubmissions{Role: r, Submissions: rs})
		}
		return nil
	})
	return out, err
}

// ownedProduction loads productionID and hides productions of other organizations.
func ownedProduction(ctx context.Context, tx store.Tx, orgID, productionID string) (*models.Production, error) {
	p, err := tx.GetProduction(ctx, productionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load production: %w", err)
	}
	if p.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return p, nil
}

func clean(name string, description *string) (string, *string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidInput, maxNameLen)
	}
	if description == nil {
		return name, nil, nil
	}
	d := strings.TrimSpace(*description)
	if d == "" {
		return name, nil, nil
	}
	if utf8.RuneCountInString(d) > maxDescriptionLen {
		return "", nil, fmt.Errorf("%w: description too long", ErrInvalidInput)
	}
	return name, &d, nil
}
