package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/castline/backend/internal/models"
)

type memoryState struct {
	users         map[string]models.User
	organizations map[string]models.Organization
	members       map[string]models.Member
	invitations   map[string]models.Invitation
	productions   map[string]models.Production
	roles         map[string]models.Role
	candidates    map[string]models.Candidate
	submissions   map[string]models.Submission
	exports       map[string]models.Export
}

func newMemoryState() memoryState {
	return memoryState{
		users:         map[string]models.User{},
		organizations: map[string]models.Organization{},
		members:       map[string]models.Member{},
		invitations:   map[string]models.Invitation{},
		productions:   map[string]models.Production{},
		roles:         map[string]models.Role{},
		candidates:    map[string]models.Candidate{},
		submissions:   map[string]models.Submission{},
		exports:       map[string]models.Export{},
	}
}

// clone copies every map. Values are plain structs whose pointer fields are
// never mutated in place, so a shallow copy per entry is enough.
func (s memoryState) clone() memoryState {
	return memoryState{
		users:         maps.Clone(s.users),
		organizations: maps.Clone(s.organizations),
		members:       maps.Clone(s.members),
		invitations:   maps.Clone(s.invitations),
		productions:   maps.Clone(s.productions),
		roles:         maps.Clone(s.roles),
		candidates:    maps.Clone(s.candidates),
		submissions:   maps.Clone(s.submissions),
		exports:       maps.Clone(s.exports),
	}
}

// Memory is an in-process Store for tests and local development.
// Transactions are fully serialized and work on a copy of the state that
// replaces the committed state only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state memoryState
	clock time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{state: newMemoryState()}
}

// InTx implements Store.
func (m *Memory) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{state: m.state.clone(), clock: m.clock}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = tx.state
	m.clock = tx.clock
	return nil
}

var (
	_ Store = (*Memory)(nil)
	_ Tx    = (*memTx)(nil)
)

type memTx struct {
	state memoryState
	clock time.Time
}

// now is strictly increasing so ordering by created_at is deterministic.
func (t *memTx) now() time.Time {
	n := time.Now().UTC()
	if !n.After(t.clock) {
		n = t.clock.Add(time.Microsecond)
	}
	t.clock = n
	return n
}

func sameEmail(a, b string) bool { return strings.EqualFold(a, b) }

func (t *memTx) CreateUser(_ context.Context, u *models.User) error {
	for _, existing := range t.state.users {
		if existing.ID == u.ID || sameEmail(existing.Email, u.Email) {
			return fmt.Errorf("%w: users_email_key", ErrDuplicate)
		}
	}
	u.CreatedAt = t.now()
	t.state.users[u.ID] = *u
	return nil
}

func (t *memTx) GetUserByID(_ context.Context, id string) (*models.User, error) {
	u, ok := t.state.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range t.state.users {
		if sameEmail(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateOrganization(_ context.Context, o *models.Organization) error {
	for _, existing := range t.state.organizations {
		if existing.ID == o.ID || existing.Slug == o.Slug {
			return fmt.Errorf("%w: organizations_slug_key", ErrDuplicate)
		}
	}
	o.CreatedAt = t.now()
	t.state.organizations[o.ID] = *o
	return nil
}

func (t *memTx) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	o, ok := t.state.organizations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrganizationName(_ context.Context, id, name string) error {
	o, ok := t.state.organizations[id]
	if !ok {
		return ErrNotFound
	}
	o.Name = name
	t.state.organizations[id] = o
	return nil
}

// LockOrganization only checks existence: memory transactions are already serialized.
func (t *memTx) LockOrganization(_ context.Context, id string) error {
	if _, ok := t.state.organizations[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (t *memTx) ListOrganizationsForUser(_ context.Context, userID string) ([]models.OrganizationMembership, error) {
	var ms []models.Member
	for _, m := range t.state.members {
		if m.UserID == userID {
			ms = append(ms, m)
		}
	}
	sortMembers(ms)
	list := make([]models.OrganizationMembership, 0, len(ms))
	for _, m := range ms {
		list = append(list, models.OrganizationMembership{
			Organization: t.state.organizations[m.OrganizationID],
			Role:         m.Role,
		})
	}
	return list, nil
}

func sortMembers(ms []models.Member) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

func (t *memTx) CreateMember(_ context.Context, m *models.Member) error {
	if _, ok := t.state.organizations[m.OrganizationID]; !ok {
		return fmt.Errorf("member organization %s: %w", m.OrganizationID, ErrNotFound)
	}
	if _, ok := t.state.users[m.UserID]; !ok {
		return fmt.Errorf("member user %s: %w", m.UserID, ErrNotFound)
	}
	for _, existing := range t.state.members {
		if existing.ID == m.ID || (existing.OrganizationID == m.OrganizationID && existing.UserID == m.UserID) {
			return fmt.Errorf("%w: members_organization_id_user_id_key", ErrDuplicate)
		}
	}
	m.CreatedAt = t.now()
	t.state.members[m.ID] = *m
	return nil
}

func (t *memTx) GetMemberByUser(_ context.Context, orgID, userID string) (*models.Member, error) {
	for _, m := range t.state.members {
		if m.OrganizationID == orgID && m.UserID == userID {
			return &m, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) GetMember(_ context.Context, orgID, memberID string) (*models.Member, error) {
	m, ok := t.state.members[memberID]
	if !ok || m.OrganizationID != orgID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (t *memTx) UpdateMemberRole(_ context.Context, memberID string, role models.OrgRole) error {
	m, ok := t.state.members[memberID]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	t.state.members[memberID] = m
	return nil
}

func (t *memTx) DeleteMember(_ context.Context, memberID string) error {
	if _, ok := t.state.members[memberID]; !ok {
		return ErrNotFound
	}
	delete(t.state.members, memberID)
	return nil
}

func (t *memTx) ListMembers(_ context.Context, orgID string) ([]models.MemberDetail, error) {
	var ms []models.Member
	for _, m := range t.state.members {
		if m.OrganizationID == orgID {
			ms = append(ms, m)
		}
	}
	sortMembers(ms)
	list := make([]models.MemberDetail, 0, len(ms))
	for _, m := range ms {
		u := t.state.users[m.UserID]
		list = append(list, models.MemberDetail{Member: m, Email: u.Email, Name: u.Name})
	}
	return list, nil
}

func (t *memTx) CreateInvitation(_ context.Context, inv *models.Invitation) error {
	if _, ok := t.state.invitations[inv.ID]; ok {
		return fmt.Errorf("%w: invitations_pkey", ErrDuplicate)
	}
	inv.CreatedAt = t.now()
	t.state.invitations[inv.ID] = *inv
	return nil
}

func (t *memTx) CreateProduction(_ context.Context, p *models.Production) error {
	if _, ok := t.state.organizations[p.OrganizationID]; !ok {
		return fmt.Errorf("production organization %s: %w", p.OrganizationID, ErrNotFound)
	}
	if _, ok := t.state.productions[p.ID]; ok {
		return fmt.Errorf("%w: productions_pkey", ErrDuplicate)
	}
	p.CreatedAt = t.now()
	t.state.productions[p.ID] = *p
	return nil
}

func (t *memTx) GetProduction(_ context.Context, id string) (*models.Production, error) {
	p, ok := t.state.productions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) ListProductions(_ context.Context, orgID string) ([]models.ProductionSummary, error) {
	counts := map[string]int{}
	for _, s := range t.state.submissions {
		counts[s.ProductionID]++
	}
	var list []models.ProductionSummary
	for _, p := range t.state.productions {
		if p.OrganizationID == orgID {
			list = append(list, models.ProductionSummary{Production: p, SubmissionCount: counts[p.ID]})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID > list[j].ID
	})
	return list, nil
}

func (t *memTx) CreateRole(_ context.Context, r *models.Role) error {
	if _, ok := t.state.productions[r.ProductionID]; !ok {
		return fmt.Errorf("role production %s: %w", r.ProductionID, ErrNotFound)
	}
	if _, ok := t.state.roles[r.ID]; ok {
		return fmt.Errorf("%w: casting_roles_pkey", ErrDuplicate)
	}
	r.CreatedAt = t.now()
	t.state.roles[r.ID] = *r
	return nil
}

func (t *memTx) GetRole(_ context.Context, id string) (*models.Role, error) {
	r, ok := t.state.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) ListRoles(_ context.Context, productionID string) ([]models.Role, error) {
	var list []models.Role
	for _, r := range t.state.roles {
		if r.ProductionID == productionID {
			list = append(list, r)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// LockCandidateEmail is a no-op: memory transactions are already serialized.
func (t *memTx) LockCandidateEmail(context.Context, string, string) error { return nil }

func (t *memTx) FindCandidateByEmail(_ context.Context, orgID, email string) (*models.Candidate, error) {
	for _, c := range t.state.candidates {
		if c.OrganizationID == orgID && sameEmail(c.Email, email) {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) CreateCandidate(_ context.Context, c *models.Candidate) error {
	for _, existing := range t.state.candidates {
		if existing.ID == c.ID || (existing.OrganizationID == c.OrganizationID && sameEmail(existing.Email, c.Email)) {
			return fmt.Errorf("%w: candidates_org_email_key", ErrDuplicate)
		}
	}
	c.CreatedAt = t.now()
	t.state.candidates[c.ID] = *c
	return nil
}

func (t *memTx) ListCandidates(_ context.Context, orgID string) ([]models.CandidateSummary, error) {
	counts := map[string]int{}
	for _, s := range t.state.submissions {
		counts[s.CandidateID]++
	}
	var list []models.CandidateSummary
	for _, c := range t.state.candidates {
		if c.OrganizationID == orgID {
			list = append(list, models.CandidateSummary{Candidate: c, SubmissionCount: counts[c.ID]})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return list, nil
}

func (t *memTx) CreateSubmission(_ context.Context, s *models.Submission) error {
	if _, ok := t.state.roles[s.RoleID]; !ok {
		return fmt.Errorf("submission role %s: %w", s.RoleID, ErrNotFound)
	}
	if _, ok := t.state.candidates[s.CandidateID]; !ok {
		return fmt.Errorf("submission candidate %s: %w", s.CandidateID, ErrNotFound)
	}
	if _, ok := t.state.submissions[s.ID]; ok {
		return fmt.Errorf("%w: submissions_pkey", ErrDuplicate)
	}
	s.CreatedAt = t.now()
	t.state.submissions[s.ID] = *s
	return nil
}

func (t *memTx) ListSubmissionsByProduction(_ context.Context, productionID string) ([]models.Submission, error) {
	var list []models.Submission
	for _, s := range t.state.submissions {
		if s.ProductionID == productionID {
			list = append(list, s)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (t *memTx) CreateExport(_ context.Context, e *models.Export) error {
	if _, ok := t.state.exports[e.ID]; ok {
		return fmt.Errorf("%w: exports_pkey", ErrDuplicate)
	}
	e.CreatedAt = t.now()
	t.state.exports[e.ID] = *e
	return nil
}

func (t *memTx) GetExport(_ context.Context, id string) (*models.Export, error) {
	e, ok := t.state.exports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (t *memTx) UpdateExport(_ context.Context, e *models.Export) error {
	existing, ok := t.state.exports[e.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = e.Status
	existing.ObjectKey = e.ObjectKey
	existing.Error = e.Error
	existing.CompletedAt = e.CompletedAt
	t.state.exports[e.ID] = existing
	return nil
}
