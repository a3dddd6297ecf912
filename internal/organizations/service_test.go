package organizations

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
)

type publishedEvent struct {
	orgID   string
	event   string
	payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishToOrganization(orgID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{orgID, event, payload})
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.event)
	}
	return out
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	st     *store.Memory
	svc    *Service
	events *recordingPublisher
	org    *models.Organization

	owner, admin, member *models.User
	ownerM, adminM, memM *models.Member
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), st: store.NewMemory(), events: &recordingPublisher{}}
	f.svc = NewService(f.st, f.events, nil)

	f.owner = f.user("olive@acme.test")
	f.admin = f.user("adam@acme.test")
	f.member = f.user("mia@acme.test")

	org, err := f.svc.CreateOrganization(f.ctx, f.owner.ID, "Acme Theatre")
	require.NoError(t, err)
	f.org = org

	f.adminM, err = f.svc.InviteMember(f.ctx, org.ID, f.owner.ID, f.admin.Email, models.OrgRoleAdmin)
	require.NoError(t, err)
	f.memM, err = f.svc.InviteMember(f.ctx, org.ID, f.owner.ID, f.member.Email, models.OrgRoleMember)
	require.NoError(t, err)
	f.ownerM = f.memberOf(org.ID, f.owner.ID)
	return f
}

func (f *fixture) user(email string) *models.User {
	f.t.Helper()
	u := &models.User{ID: id.New(id.PrefixUser), Email: email, Name: email}
	require.NoError(f.t, f.st.InTx(f.ctx, func(tx store.Tx) error { return tx.CreateUser(f.ctx, u) }))
	return u
}

func (f *fixture) memberOf(orgID, userID string) *models.Member {
	f.t.Helper()
	var m *models.Member
	require.NoError(f.t, f.st.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		m, err = tx.GetMemberByUser(f.ctx, orgID, userID)
		return err
	}))
	return m
}

func (f *fixture) roles() map[string]models.OrgRole {
	f.t.Helper()
	var list []models.MemberDetail
	require.NoError(f.t, f.st.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		list, err = tx.ListMembers(f.ctx, f.org.ID)
		return err
	}))
	out := map[string]models.OrgRole{}
	for _, m := range list {
		out[m.UserID] = m.Role
	}
	return out
}

func (f *fixture) assertSingleOwner() {
	f.t.Helper()
	owners := 0
	for _, r := range f.roles() {
		if r == models.OrgRoleOwner {
			owners++
		}
	}
	assert.Equal(f.t, 1, owners, "organization must have exactly one owner")
}

func TestCreateOrganizationMakesCreatorOwner(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, models.OrgRoleOwner, f.ownerM.Role)
	assert.Regexp(t, `^acme-theatre-[0-9a-z]{8}$`, f.org.Slug)
	f.assertSingleOwner()

	_, err := f.svc.CreateOrganization(f.ctx, f.owner.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestInviteMember(t *testing.T) {
	f := newFixture(t)
	newbie := f.user("Newbie@Acme.test")

	t.Run("unknown email", func(t *testing.T) {
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, f.owner.ID, "ghost@acme.test", models.OrgRoleMember)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
	t.Run("already a member", func(t *testing.T) {
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, f.owner.ID, "MIA@acme.test", models.OrgRoleMember)
		assert.ErrorIs(t, err, ErrAlreadyMember)
	})
	t.Run("member cannot invite", func(t *testing.T) {
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, f.member.ID, newbie.Email, models.OrgRoleMember)
		assert.ErrorIs(t, err, ErrNotPermitted)
	})
	t.Run("outsider cannot invite", func(t *testing.T) {
		outsider := f.user("out@else.test")
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, outsider.ID, newbie.Email, models.OrgRoleMember)
		assert.ErrorIs(t, err, ErrNotPermitted)
	})
	t.Run("unknown organization", func(t *testing.T) {
		_, err := f.svc.InviteMember(f.ctx, "org-missing", f.owner.ID, newbie.Email, models.OrgRoleMember)
		assert.ErrorIs(t, err, ErrNotPermitted)
	})
	t.Run("owner role cannot be granted", func(t *testing.T) {
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, f.owner.ID, newbie.Email, models.OrgRoleOwner)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
	t.Run("unauthorized caller asking for owner is refused before the role is judged", func(t *testing.T) {
		outsider := f.user("stranger@else.test")
		_, err := f.svc.InviteMember(f.ctx, f.org.ID, outsider.ID, newbie.Email, models.OrgRoleOwner)
		assert.ErrorIs(t, err, ErrNotPermitted)
		_, err = f.svc.InviteMember(f.ctx, f.org.ID, f.member.ID, newbie.Email, models.OrgRoleOwner)
		assert.ErrorIs(t, err, ErrNotPermitted)
		_, err = f.svc.InviteMember(f.ctx, "org-missing", outsider.ID, newbie.Email, models.OrgRole("bogus"))
		assert.ErrorIs(t, err, ErrNotPermitted)
	})
	t.Run("admin invites with case-insensitive email", func(t *testing.T) {
		m, err := f.svc.InviteMember(f.ctx, f.org.ID, f.admin.ID, "  newbie@acme.TEST ", models.OrgRoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, newbie.ID, m.UserID)
		assert.Equal(t, models.OrgRoleAdmin, m.Role)
	})
	f.assertSingleOwner()
}

func TestAdminCannotTouchAnotherAdmin(t *testing.T) {
	f := newFixture(t)
	other := f.user("ada@acme.test")
	otherM, err := f.svc.InviteMember(f.ctx, f.org.ID, f.owner.ID, other.Email, models.OrgRoleAdmin)
	require.NoError(t, err)

	err = f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.admin.ID, otherM.ID, models.OrgRoleMember)
	assert.ErrorIs(t, err, ErrNotPermitted)
	err = f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, otherM.ID)
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, models.OrgRoleAdmin, f.roles()[other.ID])

	// The same admin may manage a plain member.
	require.NoError(t, f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.admin.ID, f.memM.ID, models.OrgRoleAdmin))
	assert.Equal(t, models.OrgRoleAdmin, f.roles()[f.member.ID])

	third := f.user("max@acme.test")
	thirdM, err := f.svc.InviteMember(f.ctx, f.org.ID, f.admin.ID, third.Email, models.OrgRoleMember)
	require.NoError(t, err)
	require.NoError(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, thirdM.ID))
	_, present := f.roles()[third.ID]
	assert.False(t, present)
}

func TestChangeMemberRole(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		actor   string
		target  string
		role    models.OrgRole
		wantErr error
	}{
		{"member has no management rights", f.member.ID, f.adminM.ID, models.OrgRoleMember, ErrNotPermitted},
		{"owner cannot be demoted", f.admin.ID, f.ownerM.ID, models.OrgRoleMember, ErrNotPermitted},
		{"owner cannot demote self", f.owner.ID, f.ownerM.ID, models.OrgRoleAdmin, ErrNotPermitted},
		{"admin cannot demote self", f.admin.ID, f.adminM.ID, models.OrgRoleMember, ErrNotPermitted},
		{"cannot grant owner", f.owner.ID, f.memM.ID, models.OrgRoleOwner, ErrInvalidRole},
		{"member asking for owner", f.member.ID, f.adminM.ID, models.OrgRoleOwner, ErrNotPermitted},
		{"member asking for unknown role", f.member.ID, f.adminM.ID, models.OrgRole("bogus"), ErrNotPermitted},
		{"admin asking for unknown role", f.admin.ID, f.memM.ID, models.OrgRole("bogus"), ErrInvalidRole},
		{"unknown target", f.owner.ID, "mem-missing", models.OrgRoleAdmin, ErrMemberNotFound},
		{"owner demotes admin", f.owner.ID, f.adminM.ID, models.OrgRoleMember, nil},
		{"no-op when role unchanged", f.owner.ID, f.adminM.ID, models.OrgRoleMember, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.svc.ChangeMemberRole(f.ctx, f.org.ID, tt.actor, tt.target, tt.role)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
	err := f.svc.ChangeMemberRole(f.ctx, "org-missing", "user-nobody", f.memM.ID, models.OrgRole("bogus"))
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Equal(t, models.OrgRoleMember, f.roles()[f.admin.ID])
	f.assertSingleOwner()

	changes := 0
	for _, name := range f.events.names() {
		if name == EventMemberRoleChanged {
			changes++
		}
	}
	assert.Equal(t, 1, changes, "a no-op change publishes nothing")
}

func TestTargetInAnotherOrganizationIsNotFound(t *testing.T) {
	f := newFixture(t)
	otherOrg, err := f.svc.CreateOrganization(f.ctx, f.member.ID, "Other Co")
	require.NoError(t, err)
	foreign := f.memberOf(otherOrg.ID, f.member.ID)

	assert.ErrorIs(t, f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.owner.ID, foreign.ID, models.OrgRoleAdmin), ErrMemberNotFound)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.owner.ID, foreign.ID), ErrMemberNotFound)
	assert.ErrorIs(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, foreign.ID), ErrMemberNotFound)
}

func TestRemoveSelfIsRefusedForEveryRole(t *testing.T) {
	f := newFixture(t)

	for _, m := range []*models.Member{f.ownerM, f.adminM, f.memM} {
		err := f.svc.RemoveMember(f.ctx, f.org.ID, m.UserID, m.ID)
		assert.ErrorIs(t, err, ErrCannotRemoveSelf, "role %s", m.Role)
	}
	assert.Len(t, f.roles(), 3)
}

func TestRemoveMember(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID), ErrNotPermitted)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.member.ID, f.adminM.ID), ErrNotPermitted)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.member.ID, "mem-missing"), ErrNotPermitted)
	assert.ErrorIs(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.owner.ID, "mem-missing"), ErrMemberNotFound)

	require.NoError(t, f.svc.RemoveMember(f.ctx, f.org.ID, f.owner.ID, f.adminM.ID))
	role, err := f.svc.GetMemberRole(f.ctx, f.org.ID, f.admin.ID)
	require.NoError(t, err)
	assert.Empty(t, role)
	assert.Contains(t, f.events.names(), EventMemberRemoved)

	// A removed admin has lost every right immediately.
	_, err = f.svc.InviteMember(f.ctx, f.org.ID, f.admin.ID, f.member.Email, models.OrgRoleMember)
	assert.ErrorIs(t, err, ErrNotPermitted)
}

func TestTransferOwnership(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.admin.ID, f.memM.ID), ErrNotPermitted)
	assert.ErrorIs(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, f.ownerM.ID), ErrAlreadyOwner)
	assert.ErrorIs(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, "mem-missing"), ErrMemberNotFound)

	require.NoError(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, f.memM.ID))

	roles := f.roles()
	assert.Equal(t, models.OrgRoleOwner, roles[f.member.ID])
	assert.Equal(t, models.OrgRoleAdmin, roles[f.owner.ID])
	assert.Equal(t, models.OrgRoleAdmin, roles[f.admin.ID], "bystanders keep their role")
	f.assertSingleOwner()

	// The previous owner is now an admin and can no longer transfer.
	assert.ErrorIs(t, f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, f.adminM.ID), ErrNotPermitted)
	assert.Contains(t, f.events.names(), EventOwnershipTransferred)
}

func TestSingleOwnerAcrossOperationSequence(t *testing.T) {
	f := newFixture(t)
	extra := f.user("eve@acme.test")

	steps := []func() error{
		func() error {
			_, err := f.svc.InviteMember(f.ctx, f.org.ID, f.admin.ID, extra.Email, models.OrgRoleMember)
			return err
		},
		func() error { return f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID, models.OrgRoleMember) },
		func() error { return f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID) },
		func() error { return f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, f.adminM.ID) },
		func() error { return f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID) },
		func() error { return f.svc.TransferOwnership(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID) },
		func() error { return f.svc.RemoveMember(f.ctx, f.org.ID, f.owner.ID, f.memM.ID) },
		func() error { return f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.owner.ID, f.adminM.ID, models.OrgRoleMember) },
	}
	for _, step := range steps {
		_ = step()
		f.assertSingleOwner()
	}
	roles := f.roles()
	assert.Equal(t, models.OrgRoleOwner, roles[f.admin.ID])
	_, present := roles[f.owner.ID]
	assert.False(t, present, "the demoted owner was removed by the new owner")
}

func TestConcurrentMembershipChangesKeepSingleOwner(t *testing.T) {
	f := newFixture(t)

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			switch i % 4 {
			case 0:
				_ = f.svc.TransferOwnership(f.ctx, f.org.ID, f.owner.ID, f.adminM.ID)
			case 1:
				_ = f.svc.TransferOwnership(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID)
			case 2:
				_ = f.svc.RemoveMember(f.ctx, f.org.ID, f.admin.ID, f.ownerM.ID)
			default:
				_ = f.svc.ChangeMemberRole(f.ctx, f.org.ID, f.owner.ID, f.memM.ID, models.OrgRoleAdmin)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	f.assertSingleOwner()
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)

	got, err := f.svc.GetOrganization(f.ctx, f.org.ID, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, f.org.Name, got.Name)
	assert.Equal(t, models.OrgRoleMember, got.Role)

	outsider := f.user("out@else.test")
	_, err = f.svc.GetOrganization(f.ctx, f.org.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotPermitted)
	_, err = f.svc.ListMembers(f.ctx, f.org.ID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotPermitted)

	members, err := f.svc.ListMembers(f.ctx, f.org.ID, f.member.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, f.owner.Email, members[0].Email)

	_, err = f.svc.UpdateOrganization(f.ctx, f.org.ID, f.member.ID, "Renamed")
	assert.ErrorIs(t, err, ErrNotPermitted)
	renamed, err := f.svc.UpdateOrganization(f.ctx, f.org.ID, f.admin.ID, "  Renamed  ")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Name)
	assert.Equal(t, f.org.Slug, renamed.Slug)

	second, err := f.svc.CreateOrganization(f.ctx, f.member.ID, "Second")
	require.NoError(t, err)
	orgs, err := f.svc.ListMyOrganizations(f.ctx, f.member.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, f.org.ID, orgs[0].ID)
	assert.Equal(t, second.ID, orgs[1].ID)
	assert.Equal(t, models.OrgRoleOwner, orgs[1].Role)
}

func TestEventsCarryOrganization(t *testing.T) {
	f := newFixture(t)

	require.Len(t, f.events.events, 2)
	for _, e := range f.events.events {
		assert.Equal(t, f.org.ID, e.orgID)
		assert.Equal(t, EventMemberAdded, e.event)
	}
	change, ok := f.events.events[0].payload.(MemberChange)
	require.True(t, ok)
	assert.Equal(t, f.admin.ID, change.UserID)
	assert.Equal(t, f.owner.ID, change.ActorID)
}
