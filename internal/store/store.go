// Package store is the persistence boundary. All reads and writes go through
// a Tx obtained from Store.InTx, so multi-step operations commit or roll back
// as a unit.
package store

import (
	"context"
	"errors"

	"github.com/castline/backend/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write violates a uniqueness constraint.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store runs functions inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned unchanged.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of queries available inside a transaction.
type Tx interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateOrganization(ctx context.Context, o *models.Organization) error
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	UpdateOrganizationName(ctx context.Context, id, name string) error
	// LockOrganization serializes membership changes on one organization until
	// the transaction ends. Returns ErrNotFound for an unknown organization.
	LockOrganization(ctx context.Context, id string) error
	// ListOrganizationsForUser returns the user's organizations, oldest membership first.
	ListOrganizationsForUser(ctx context.Context, userID string) ([]models.OrganizationMembership, error)

	CreateMember(ctx context.Context, m *models.Member) error
	GetMemberByUser(ctx context.Context, orgID, userID string) (*models.Member, error)
	// GetMember returns ErrNotFound when memberID belongs to another organization.
	GetMember(ctx context.Context, orgID, memberID string) (*models.Member, error)
	UpdateMemberRole(ctx context.Context, memberID string, role models.OrgRole) error
	DeleteMember(ctx context.Context, memberID string) error
	ListMembers(ctx context.Context, orgID string) ([]models.MemberDetail, error)

	CreateInvitation(ctx context.Context, inv *models.Invitation) error

	CreateProduction(ctx context.Context, p *models.Production) error
	GetProduction(ctx context.Context, id string) (*models.Production, error)
	// ListProductions returns productions with submission counts, newest first.
	ListProductions(ctx context.Context, orgID string) ([]models.ProductionSummary, error)
	CreateRole(ctx context.Context, r *models.Role) error
	GetRole(ctx context.Context, id string) (*models.Role, error)
	// ListRoles returns a production's roles in creation order.
	ListRoles(ctx context.Context, productionID string) ([]models.Role, error)

	// LockCandidateEmail serializes candidate resolution for one
	// (organization, email) pair until the transaction ends.
	LockCandidateEmail(ctx context.Context, orgID, email string) error
	// FindCandidateByEmail matches case-insensitively; ErrNotFound when absent.
	FindCandidateByEmail(ctx context.Context, orgID, email string) (*models.Candidate, error)
	CreateCandidate(ctx context.Context, c *models.Candidate) error
	// ListCandidates orders by last name, then first name.
	ListCandidates(ctx context.Context, orgID string) ([]models.CandidateSummary, error)

	CreateSubmission(ctx context.Context, s *models.Submission) error
	// ListSubmissionsByProduction returns submissions oldest first.
	ListSubmissionsByProduction(ctx context.Context, productionID string) ([]models.Submission, error)

	CreateExport(ctx context.Context, e *models.Export) error
	GetExport(ctx context.Context, id string) (*models.Export, error)
	UpdateExport(ctx context.Context, e *models.Export) error
}
