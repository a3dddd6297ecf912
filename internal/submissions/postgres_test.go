package submissions

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castline/backend/internal/store"
)

var pgNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// expectChain queues the role and production reads that open every submission.
func expectChain(mock pgxmock.PgxPoolIface) {
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectQuery(regexp.QuoteMeta("FROM casting_roles WHERE id = $1")).
		WithArgs("role_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "production_id", "name", "description", "created_at"}).
			AddRow("role_1", "prod_1", "Lead", (*string)(nil), pgNow))
	mock.ExpectQuery(regexp.QuoteMeta("FROM productions WHERE id = $1")).
		WithArgs("prod_1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id", "name", "description", "created_at"}).
			AddRow("prod_1", "org_1", "Hamlet", (*string)(nil), pgNow))
	mock.ExpectExec(regexp.QuoteMeta("pg_advisory_xact_lock")).
		WithArgs("org_1", "jane@x.com").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func newPostgresService(t *testing.T) (*Service, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewService(store.NewPostgres(mock), nil, nil), mock
}

func TestSubmitOnPostgresLocksEmailBeforeCandidateLookup(t *testing.T) {
	svc, mock := newPostgresService(t)

	expectChain(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM candidates")).
		WithArgs("org_1", "jane@x.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO candidates")).
		WithArgs(pgxmock.AnyArg(), "org_1", "Jane", "Doe", "jane@x.com", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(pgNow))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO submissions")).
		WithArgs(pgxmock.AnyArg(), "prod_1", "role_1", pgxmock.AnyArg(), "Jane", "Doe", "jane@x.com", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(pgNow))
	mock.ExpectCommit()

	subID, err := svc.Submit(context.Background(), jane("org_1", "prod_1", "role_1"))
	require.NoError(t, err)
	assert.NotEmpty(t, subID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOnPostgresReusesLockedCandidate(t *testing.T) {
	svc, mock := newPostgresService(t)

	expectChain(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM candidates")).
		WithArgs("org_1", "jane@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id", "first_name", "last_name", "email", "phone", "created_at"}).
			AddRow("cand_existing", "org_1", "Jane", "Doe", "JANE@x.com", (*string)(nil), pgNow))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO submissions")).
		WithArgs(pgxmock.AnyArg(), "prod_1", "role_1", "cand_existing", "Jane", "Doe", "jane@x.com", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(pgNow))
	mock.ExpectCommit()

	_, err := svc.Submit(context.Background(), jane("org_1", "prod_1", "role_1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitOnPostgresUniqueViolationIsConflict(t *testing.T) {
	svc, mock := newPostgresService(t)

	expectChain(mock)
	mock.ExpectQuery(regexp.QuoteMeta("FROM candidates")).
		WithArgs("org_1", "jane@x.com").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO candidates")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "candidates_org_email_idx"})
	mock.ExpectRollback()

	_, err := svc.Submit(context.Background(), jane("org_1", "prod_1", "role_1"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
