package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
)

// RequireRole loads userID's membership in orgID from tx and checks it is at
// least min. A missing membership is ErrNotPermitted, never a not-found, so
// callers cannot enumerate other tenants.
func RequireRole(ctx context.Context, tx store.Tx, orgID, userID string, min models.OrgRole) (*models.Member, error) {
	m, err := tx.GetMemberByUser(ctx, orgID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotPermitted
	}
	if err != nil {
		return nil, fmt.Errorf("load caller membership: %w", err)
	}
	if !m.Role.AtLeast(min) {
		return nil, ErrNotPermitted
	}
	return m, nil
}

// canManage reports whether actor may change or remove target. The owner
// manages everyone else; an admin manages plain members only.
func canManage(actor, target models.OrgRole) bool {
	switch {
	case target == models.OrgRoleOwner:
		return false
	case actor == models.OrgRoleOwner:
		return true
	case actor == models.OrgRoleAdmin:
		return target == models.OrgRoleMember
	default:
		return false
	}
}
