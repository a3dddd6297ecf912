package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/castline/backend/internal/middleware"
	"github.com/castline/backend/internal/models"
)

const activeOrgKeyPrefix = "session:active_org:"

// ErrNotMember is returned when activating an organization the user does not belong to.
var ErrNotMember = errors.New("not a member of this organization")

// SessionStore remembers each user's active organization.
type SessionStore interface {
	// ActiveOrganization returns "" when nothing is stored.
	ActiveOrganization(ctx context.Context, userID string) (string, error)
	SetActiveOrganization(ctx context.Context, userID, orgID string, ttl time.Duration) error
}

// RedisSessionStore keeps the active organization under one Redis key per user.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore creates a Redis-backed session store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func (s *RedisSessionStore) ActiveOrganization(ctx context.Context, userID string) (string, error) {
	v, err := s.client.Get(ctx, activeOrgKeyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get active organization: %w", err)
	}
	return v, nil
}

func (s *RedisSessionStore) SetActiveOrganization(ctx context.Context, userID, orgID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, activeOrgKeyPrefix+userID, orgID, ttl).Err(); err != nil {
		return fmt.Errorf("set active organization: %w", err)
	}
	return nil
}

// Memberships is what the resolver needs to know about a user's organizations.
type Memberships interface {
	ListMyOrganizations(ctx context.Context, userID string) ([]models.OrganizationMembership, error)
	GetMemberRole(ctx context.Context, orgID, userID string) (models.OrgRole, error)
}

// Identity is the resolved caller. ActiveOrganizationID is "" for a user with no organizations.
type Identity struct {
	UserID               string `json:"user_id"`
	ActiveOrganizationID string `json:"active_organization_id,omitempty"`
}

// Resolver turns an authenticated request into an Identity. The active
// organization is a UI convenience; core operations take explicit ids.
type Resolver struct {
	sessions SessionStore
	members  Memberships
	ttl      time.Duration
	logger   *zap.Logger
}

// NewResolver creates a resolver. ttl bounds how long an active organization choice is kept.
func NewResolver(sessions SessionStore, members Memberships, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{sessions: sessions, members: members, ttl: ttl, logger: logger}
}

// Resolve returns nil for an unauthenticated request. A stored active
// organization is used while the user is still a member of it; otherwise the
// oldest membership is.
func (r *Resolver) Resolve(c *gin.Context) (*Identity, error) {
	userID := middleware.UserID(c)
	if userID == "" {
		return nil, nil
	}
	ctx := c.Request.Context()
	ident := &Identity{UserID: userID}

	active, err := r.sessions.ActiveOrganization(ctx, userID)
	if err != nil {
		r.logger.Warn("session lookup failed, falling back to first membership", zap.String("user_id", userID), zap.Error(err))
	}
	if active != "" {
		role, err := r.members.GetMemberRole(ctx, active, userID)
		if err != nil {
			return nil, err
		}
		if role != "" {
			ident.ActiveOrganizationID = active
			return ident, nil
		}
	}

	orgs, err := r.members.ListMyOrganizations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(orgs) > 0 {
		ident.ActiveOrganizationID = orgs[0].ID
	}
	return ident, nil
}

// SetActiveOrganization stores orgID as userID's active organization after checking membership.
func (r *Resolver) SetActiveOrganization(ctx context.Context, userID, orgID string) error {
	role, err := r.members.GetMemberRole(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return ErrNotMember
	}
	return r.sessions.SetActiveOrganization(ctx, userID, orgID, r.ttl)
}
