package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/castline/backend/internal/models"
)

// TxStarter begins transactions. *pgxpool.Pool satisfies it.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool TxStarter
}

// NewPostgres creates a Postgres store.
func NewPostgres(pool TxStarter) *Postgres {
	return &Postgres{pool: pool}
}

// InTx implements Store.
func (p *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", classify(err))
	}
	return nil
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

var (
	_ Store = (*Postgres)(nil)
	_ Tx    = (*pgTx)(nil)
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) exec(ctx context.Context, q string, args ...any) (pgconn.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, q, args...)
	return tag, classify(err)
}

func affected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) CreateUser(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, u.ID, u.Email, u.Name, u.PasswordHash).Scan(&u.CreatedAt))
}

func (t *pgTx) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `SELECT id, email, name, password_hash, created_at FROM users WHERE id = $1`
	var u models.User
	err := t.tx.QueryRow(ctx, q, id).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

func (t *pgTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, name, password_hash, created_at FROM users WHERE lower(email) = lower($1)`
	var u models.User
	err := t.tx.QueryRow(ctx, q, email).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &u, nil
}

func (t *pgTx) CreateOrganization(ctx context.Context, o *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, slug) VALUES ($1, $2, $3) RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, o.ID, o.Name, o.Slug).Scan(&o.CreatedAt))
}

func (t *pgTx) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	const q = `SELECT id, name, slug, created_at FROM organizations WHERE id = $1`
	var o models.Organization
	if err := t.tx.QueryRow(ctx, q, id).Scan(&o.ID, &o.Name, &o.Slug, &o.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

func (t *pgTx) UpdateOrganizationName(ctx context.Context, id, name string) error {
	return affected(t.exec(ctx, `UPDATE organizations SET name = $2 WHERE id = $1`, id, name))
}

func (t *pgTx) LockOrganization(ctx context.Context, id string) error {
	var locked string
	err := t.tx.QueryRow(ctx, `SELECT id FROM organizations WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	return classify(err)
}

func (t *pgTx) ListOrganizationsForUser(ctx context.Context, userID string) ([]models.OrganizationMembership, error) {
	const q = `SELECT o.id, o.name, o.slug, o.created_at, m.role
		FROM members m
		INNER JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1
		ORDER BY m.created_at ASC, m.id ASC`
	rows, err := t.tx.Query(ctx, q, userID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.OrganizationMembership
	for rows.Next() {
		var om models.OrganizationMembership
		if err := rows.Scan(&om.ID, &om.Name, &om.Slug, &om.CreatedAt, &om.Role); err != nil {
			return nil, err
		}
		list = append(list, om)
	}
	return list, rows.Err()
}

func (t *pgTx) CreateMember(ctx context.Context, m *models.Member) error {
	const q = `INSERT INTO members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, m.ID, m.OrganizationID, m.UserID, m.Role).Scan(&m.CreatedAt))
}

const memberColumns = `id, organization_id, user_id, role, created_at`

func scanMember(row pgx.Row) (*models.Member, error) {
	var m models.Member
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &m, nil
}

func (t *pgTx) GetMemberByUser(ctx context.Context, orgID, userID string) (*models.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE organization_id = $1 AND user_id = $2`
	return scanMember(t.tx.QueryRow(ctx, q, orgID, userID))
}

func (t *pgTx) GetMember(ctx context.Context, orgID, memberID string) (*models.Member, error) {
	q := `SELECT ` + memberColumns + ` FROM members WHERE organization_id = $1 AND id = $2`
	return scanMember(t.tx.QueryRow(ctx, q, orgID, memberID))
}

func (t *pgTx) UpdateMemberRole(ctx context.Context, memberID string, role models.OrgRole) error {
	return affected(t.exec(ctx, `UPDATE members SET role = $2 WHERE id = $1`, memberID, role))
}

func (t *pgTx) DeleteMember(ctx context.Context, memberID string) error {
	return affected(t.exec(ctx, `DELETE FROM members WHERE id = $1`, memberID))
}

func (t *pgTx) ListMembers(ctx context.Context, orgID string) ([]models.MemberDetail, error) {
	const q = `SELECT m.id, m.organization_id, m.user_id, m.role, m.created_at, u.email, u.name
		FROM members m
		INNER JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at ASC, m.id ASC`
	rows, err := t.tx.Query(ctx, q, orgID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.MemberDetail
	for rows.Next() {
		var d models.MemberDetail
		if err := rows.Scan(&d.ID, &d.OrganizationID, &d.UserID, &d.Role, &d.CreatedAt, &d.Email, &d.Name); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (t *pgTx) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	const q = `INSERT INTO invitations (id, organization_id, email, role, status, expires_at, inviter_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q,
		inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.Status, inv.ExpiresAt, inv.InviterID,
	).Scan(&inv.CreatedAt))
}

func (t *pgTx) CreateProduction(ctx context.Context, p *models.Production) error {
	const q = `INSERT INTO productions (id, organization_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, p.ID, p.OrganizationID, p.Name, p.Description).Scan(&p.CreatedAt))
}

func (t *pgTx) GetProduction(ctx context.Context, id string) (*models.Production, error) {
	const q = `SELECT id, organization_id, name, description, created_at FROM productions WHERE id = $1`
	var p models.Production
	if err := t.tx.QueryRow(ctx, q, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (t *pgTx) ListProductions(ctx context.Context, orgID string) ([]models.ProductionSummary, error) {
	const q = `SELECT p.id, p.organization_id, p.name, p.description, p.created_at,
			(SELECT COUNT(*) FROM submissions s WHERE s.production_id = p.id)
		FROM productions p
		WHERE p.organization_id = $1
		ORDER BY p.created_at DESC, p.id DESC`
	rows, err := t.tx.Query(ctx, q, orgID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.ProductionSummary
	for rows.Next() {
		var ps models.ProductionSummary
		if err := rows.Scan(&ps.ID, &ps.OrganizationID, &ps.Name, &ps.Description, &ps.CreatedAt, &ps.SubmissionCount); err != nil {
			return nil, err
		}
		list = append(list, ps)
	}
	return list, rows.Err()
}

func (t *pgTx) CreateRole(ctx context.Context, r *models.Role) error {
	const q = `INSERT INTO casting_roles (id, production_id, name, description)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, r.ID, r.ProductionID, r.Name, r.Description).Scan(&r.CreatedAt))
}

func (t *pgTx) GetRole(ctx context.Context, id string) (*models.Role, error) {
	const q = `SELECT id, production_id, name, description, created_at FROM casting_roles WHERE id = $1`
	var r models.Role
	if err := t.tx.QueryRow(ctx, q, id).Scan(&r.ID, &r.ProductionID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
		return nil, classify(err)
	}
	return &r, nil
}

func (t *pgTx) ListRoles(ctx context.Context, productionID string) ([]models.Role, error) {
	const q = `SELECT id, production_id, name, description, created_at
		FROM casting_roles
		WHERE production_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := t.tx.Query(ctx, q, productionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.Role
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r.ID, &r.ProductionID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

func (t *pgTx) LockCandidateEmail(ctx context.Context, orgID, email string) error {
	_, err := t.exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1::text || ':' || lower($2::text)))`, orgID, email)
	return err
}

func (t *pgTx) FindCandidateByEmail(ctx context.Context, orgID, email string) (*models.Candidate, error) {
	const q = `SELECT id, organization_id, first_name, last_name, email, phone, created_at
		FROM candidates
		WHERE organization_id = $1 AND lower(email) = lower($2)`
	var c models.Candidate
	err := t.tx.QueryRow(ctx, q, orgID, email).
		Scan(&c.ID, &c.OrganizationID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.CreatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &c, nil
}

func (t *pgTx) CreateCandidate(ctx context.Context, c *models.Candidate) error {
	const q = `INSERT INTO candidates (id, organization_id, first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, c.ID, c.OrganizationID, c.FirstName, c.LastName, c.Email, c.Phone).
		Scan(&c.CreatedAt))
}

func (t *pgTx) ListCandidates(ctx context.Context, orgID string) ([]models.CandidateSummary, error) {
	const q = `SELECT c.id, c.organization_id, c.first_name, c.last_name, c.email, c.phone, c.created_at,
			(SELECT COUNT(*) FROM submissions s WHERE s.candidate_id = c.id)
		FROM candidates c
		WHERE c.organization_id = $1
		ORDER BY c.last_name ASC, c.first_name ASC, c.id ASC`
	rows, err := t.tx.Query(ctx, q, orgID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.CandidateSummary
	for rows.Next() {
		var cs models.CandidateSummary
		if err := rows.Scan(&cs.ID, &cs.OrganizationID, &cs.FirstName, &cs.LastName, &cs.Email, &cs.Phone,
			&cs.CreatedAt, &cs.SubmissionCount); err != nil {
			return nil, err
		}
		list = append(list, cs)
	}
	return list, rows.Err()
}

func (t *pgTx) CreateSubmission(ctx context.Context, s *models.Submission) error {
	const q = `INSERT INTO submissions
			(id, production_id, role_id, candidate_id, first_name, last_name, email, phone, resume_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q,
		s.ID, s.ProductionID, s.RoleID, s.CandidateID, s.FirstName, s.LastName, s.Email, s.Phone, s.ResumeURL,
	).Scan(&s.CreatedAt))
}

func (t *pgTx) ListSubmissionsByProduction(ctx context.Context, productionID string) ([]models.Submission, error) {
	const q = `SELECT id, production_id, role_id, candidate_id, first_name, last_name, email, phone, resume_url, created_at
		FROM submissions
		WHERE production_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := t.tx.Query(ctx, q, productionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var list []models.Submission
	for rows.Next() {
		var s models.Submission
		if err := rows.Scan(&s.ID, &s.ProductionID, &s.RoleID, &s.CandidateID, &s.FirstName, &s.LastName,
			&s.Email, &s.Phone, &s.ResumeURL, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (t *pgTx) CreateExport(ctx context.Context, e *models.Export) error {
	const q = `INSERT INTO exports (id, organization_id, production_id, requested_by, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	return classify(t.tx.QueryRow(ctx, q, e.ID, e.OrganizationID, e.ProductionID, e.RequestedBy, e.Status).
		Scan(&e.CreatedAt))
}

func (t *pgTx) GetExport(ctx context.Context, id string) (*models.Export, error) {
	const q = `SELECT id, organization_id, production_id, requested_by, status, object_key, error, created_at, completed_at
		FROM exports WHERE id = $1`
	var e models.Export
	err := t.tx.QueryRow(ctx, q, id).Scan(&e.ID, &e.OrganizationID, &e.ProductionID, &e.RequestedBy, &e.Status,
		&e.ObjectKey, &e.Error, &e.CreatedAt, &e.CompletedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &e, nil
}

func (t *pgTx) UpdateExport(ctx context.Context, e *models.Export) error {
	const q = `UPDATE exports SET status = $2, object_key = $3, error = $4, completed_at = $5 WHERE id = $1`
	return affected(t.exec(ctx, q, e.ID, e.Status, e.ObjectKey, e.Error, e.CompletedAt))
}
