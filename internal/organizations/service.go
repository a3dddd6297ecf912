package organizations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/castline/backend/internal/metrics"
	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
)

// Event names published to an organization's room.
const (
	EventMemberAdded          = "member_added"
	EventMemberRoleChanged    = "member_role_changed"
	EventMemberRemoved        = "member_removed"
	EventOwnershipTransferred = "ownership_transferred"
)

const (
	maxNameLen   = 100
	slugAttempts = 3
)

// EventPublisher delivers an event to everyone watching an organization.
type EventPublisher interface {
	PublishToOrganization(orgID, event string, payload interface{})
}

// Service is the membership authority: every membership mutation runs in one
// transaction that locks the organization and re-reads the caller's role.
type Service struct {
	store  store.Store
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the membership service. events may be nil.
func NewService(st store.Store, events EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, events: events, logger: logger, now: time.Now}
}

// MemberChange is the payload of membership events.
type MemberChange struct {
	MemberID string         `json:"member_id"`
	UserID   string         `json:"user_id"`
	Role     models.OrgRole `json:"role,omitempty"`
	ActorID  string         `json:"actor_id"`
}

// OwnershipChange is the payload of ownership_transferred.
type OwnershipChange struct {
	PreviousOwnerID string `json:"previous_owner_id"`
	NewOwnerID      string `json:"new_owner_id"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// InviteMember adds the account registered under email to the organization.
// There is no acceptance step: an accepted Invitation is written as an audit
// record alongside the new Member.
func (s *Service) InviteMember(ctx context.Context, orgID, actingUserID, email string, role models.OrgRole) (*models.Member, error) {
	email = normalizeEmail(email)

	var member *models.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := s.lockAndAuthorize(ctx, tx, orgID, actingUserID, models.OrgRoleAdmin); err != nil {
			return err
		}
		if !role.Assignable() {
			return ErrInvalidRole
		}
		user, err := tx.GetUserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("look up invitee: %w", err)
		}
		if _, err := tx.GetMemberByUser(ctx, orgID, user.ID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("check existing membership: %w", err)
		}

		inv := &models.Invitation{
			ID:             id.New(id.PrefixInvitation),
			OrganizationID: orgID,
			Email:          email,
			Role:           role,
			Status:         models.InvitationAccepted,
			ExpiresAt:      s.now().Add(models.InvitationTTL),
			InviterID:      actingUserID,
		}
		if err := tx.CreateInvitation(ctx, inv); err != nil {
			return fmt.Errorf("create invitation: %w", err)
		}
		member = &models.Member{
			ID:             id.New(id.PrefixMember),
			OrganizationID: orgID,
			UserID:         user.ID,
			Role:           role,
		}
		if err := tx.CreateMember(ctx, member); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyMember
			}
			return fmt.Errorf("create member: %w", err)
		}
		return nil
	})
	if err := s.record("invite", err); err != nil {
		return nil, err
	}
	s.publish(orgID, EventMemberAdded, MemberChange{
		MemberID: member.ID, UserID: member.UserID, Role: member.Role, ActorID: actingUserID,
	})
	return member, nil
}

// ChangeMemberRole sets a member's role to admin or member.
func (s *Service) ChangeMemberRole(ctx context.Context, orgID, actingUserID, memberID string, newRole models.OrgRole) error {
	var target *models.Member
	changed := false
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		actor, err := s.lockAndAuthorize(ctx, tx, orgID, actingUserID, models.OrgRoleAdmin)
		if err != nil {
			return err
		}
		if !newRole.Assignable() {
			return ErrInvalidRole
		}
		target, err = loadTarget(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if target.UserID == actor.UserID || !canManage(actor.Role, target.Role) {
			return ErrNotPermitted
		}
		if target.Role == newRole {
			return nil
		}
		if err := tx.UpdateMemberRole(ctx, target.ID, newRole); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		changed = true
		return nil
	})
	if err := s.record("change_role", err); err != nil {
		return err
	}
	if changed {
		s.publish(orgID, EventMemberRoleChanged, MemberChange{
			MemberID: target.ID, UserID: target.UserID, Role: newRole, ActorID: actingUserID,
		})
	}
	return nil
}

// RemoveMember deletes a membership. Removing yourself is refused before any
// role rule is considered.
func (s *Service) RemoveMember(ctx context.Context, orgID, actingUserID, memberID string) error {
	var target *models.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		actor, err := s.lockAndAuthorize(ctx, tx, orgID, actingUserID, models.OrgRoleMember)
		if err != nil {
			return err
		}
		target, err = tx.GetMember(ctx, orgID, memberID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if !actor.Role.AtLeast(models.OrgRoleAdmin) {
				return ErrNotPermitted
			}
			return ErrMemberNotFound
		case err != nil:
			return fmt.Errorf("load member: %w", err)
		}
		if target.UserID == actor.UserID {
			return ErrCannotRemoveSelf
		}
		if !canManage(actor.Role, target.Role) {
			return ErrNotPermitted
		}
		if err := tx.DeleteMember(ctx, target.ID); err != nil {
			return fmt.Errorf("delete member: %w", err)
		}
		return nil
	})
	if err := s.record("remove", err); err != nil {
		return err
	}
	s.publish(orgID, EventMemberRemoved, MemberChange{
		MemberID: target.ID, UserID: target.UserID, ActorID: actingUserID,
	})
	return nil
}

// TransferOwnership makes the target the owner and demotes the caller to
// admin. Both updates commit together, so no reader sees zero or two owners.
func (s *Service) TransferOwnership(ctx context.Context, orgID, actingUserID, memberID string) error {
	var target *models.Member
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		actor, err := s.lockAndAuthorize(ctx, tx, orgID, actingUserID, models.OrgRoleOwner)
		if err != nil {
			return err
		}
		target, err = loadTarget(ctx, tx, orgID, memberID)
		if err != nil {
			return err
		}
		if target.ID == actor.ID {
			return ErrAlreadyOwner
		}
		if err := tx.UpdateMemberRole(ctx, target.ID, models.OrgRoleOwner); err != nil {
			return fmt.Errorf("promote new owner: %w", err)
		}
		if err := tx.UpdateMemberRole(ctx, actor.ID, models.OrgRoleAdmin); err != nil {
			return fmt.Errorf("demote previous owner: %w", err)
		}
		return nil
	})
	if err := s.record("transfer_ownership", err); err != nil {
		return err
	}
	s.publish(orgID, EventOwnershipTransferred, OwnershipChange{
		PreviousOwnerID: actingUserID, NewOwnerID: target.UserID,
	})
	return nil
}

// CreateOrganization creates an organization with userID as its owner.
func (s *Service) CreateOrganization(ctx context.Context, userID, name string) (*models.Organization, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	var org *models.Organization
	for attempt := 1; ; attempt++ {
		org = &models.Organization{ID: id.New(id.PrefixOrganization), Name: name, Slug: id.Slug(name)}
		err = s.store.InTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateOrganization(ctx, org); err != nil {
				return err
			}
			return tx.CreateMember(ctx, &models.Member{
				ID:             id.New(id.PrefixMember),
				OrganizationID: org.ID,
				UserID:         userID,
				Role:           models.OrgRoleOwner,
			})
		})
		// A duplicate here can only be a slug collision; the ids are fresh.
		if errors.Is(err, store.ErrDuplicate) && attempt < slugAttempts {
			s.logger.Warn("organization slug collision, retrying", zap.String("slug", org.Slug))
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("create organization: %w", err)
	}
	s.logger.Info("organization created", zap.String("organization_id", org.ID), zap.String("owner_id", userID))
	return org, nil
}

// UpdateOrganization renames an organization. Owner or admin only.
func (s *Service) UpdateOrganization(ctx context.Context, orgID, userID, name string) (*models.Organization, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	var org *models.Organization
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := RequireRole(ctx, tx, orgID, userID, models.OrgRoleAdmin); err != nil {
			return err
		}
		if err := tx.UpdateOrganizationName(ctx, orgID, name); err != nil {
			return fmt.Errorf("rename organization: %w", err)
		}
		updated, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("reload organization: %w", err)
		}
		org = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganization returns an organization to one of its members.
func (s *Service) GetOrganization(ctx context.Context, orgID, userID string) (*models.OrganizationMembership, error) {
	var out *models.OrganizationMembership
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember)
		if err != nil {
			return err
		}
		org, err := tx.GetOrganization(ctx, orgID)
		if err != nil {
			return fmt.Errorf("load organization: %w", err)
		}
		out = &models.OrganizationMembership{Organization: *org, Role: m.Role}
		return nil
	})
	return out, err
}

// ListMembers returns an organization's members with their contact details.
func (s *Service) ListMembers(ctx context.Context, orgID, userID string) ([]models.MemberDetail, error) {
	var list []models.MemberDetail
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := RequireRole(ctx, tx, orgID, userID, models.OrgRoleMember); err != nil {
			return err
		}
		var err error
		list, err = tx.ListMembers(ctx, orgID)
		return err
	})
	return list, err
}

// ListMyOrganizations returns every organization userID belongs to, oldest membership first.
func (s *Service) ListMyOrganizations(ctx context.Context, userID string) ([]models.OrganizationMembership, error) {
	var list []models.OrganizationMembership
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListOrganizationsForUser(ctx, userID)
		return err
	})
	return list, err
}

// GetMemberRole returns userID's role in orgID, or "" when they are not a member.
func (s *Service) GetMemberRole(ctx context.Context, orgID, userID string) (models.OrgRole, error) {
	var role models.OrgRole
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		m, err := tx.GetMemberByUser(ctx, orgID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		role = m.Role
		return nil
	})
	return role, err
}

// lockAndAuthorize serializes membership changes on orgID and re-reads the
// caller's role. An unknown organization is indistinguishable from not being a member.
func (s *Service) lockAndAuthorize(ctx context.Context, tx store.Tx, orgID, userID string, min models.OrgRole) (*models.Member, error) {
	if err := tx.LockOrganization(ctx, orgID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotPermitted
		}
		return nil, fmt.Errorf("lock organization: %w", err)
	}
	return RequireRole(ctx, tx, orgID, userID, min)
}

func loadTarget(ctx context.Context, tx store.Tx, orgID, memberID string) (*models.Member, error) {
	m, err := tx.GetMember(ctx, orgID, memberID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	return m, nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLen {
		return "", ErrInvalidName
	}
	return name, nil
}

// record counts the outcome of a membership operation and passes err through.
func (s *Service) record(op string, err error) error {
	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, ErrNotPermitted):
		outcome = metrics.OutcomeDenied
	case isDomainError(err):
		outcome = metrics.OutcomeRejected
	default:
		outcome = metrics.OutcomeError
		s.logger.Error("membership operation failed", zap.String("op", op), zap.Error(err))
	}
	metrics.MembershipOp(op, outcome)
	return err
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrMemberNotFound, ErrUserNotFound, ErrAlreadyMember, ErrCannotRemoveSelf,
		ErrAlreadyOwner, ErrInvalidRole, ErrInvalidName,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Service) publish(orgID, event string, payload interface{}) {
	if s.events == nil {
		return
	}
	s.events.PublishToOrganization(orgID, event, payload)
}
