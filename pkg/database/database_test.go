package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newMockDB(t *testing.T) (DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), newTestLogger()), mock
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrUniqueViolation, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("insert: %w", ErrUniqueViolation), want: true},
		{name: "pq unique", err: &pq.Error{Code: "23505", Constraint: "leads_phone_key"}, want: true},
		{name: "pq other", err: &pq.Error{Code: "23502"}, want: false},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestConstraintName(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &pq.Error{Code: "23505", Constraint: "leads_google_url_key"})
	assert.Equal(t, "leads_google_url_key", ConstraintName(err))
	assert.Equal(t, "", ConstraintName(errors.New("x")))
}

func TestJSONB_ScanAndValue(t *testing.T) {
	var j JSONB[[]string]
	require.NoError(t, j.Scan([]byte(`["a","b"]`)))
	assert.Equal(t, []string{"a", "b"}, j.GetValue())

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.GetValue())

	require.NoError(t, j.Scan(`["c"]`))
	assert.Equal(t, []string{"c"}, j.Data)

	assert.Error(t, j.Scan(42))

	v, err := JSONB[map[string]int]{Data: map[string]int{"x": 1}}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(v.([]byte)))
}

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE agents`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := NewTransactor(db).InTx(context.Background(), func(ctx context.Context) error {
		_, err := Executor(ctx, db).ExecContext(ctx, "UPDATE agents SET total_leads = total_leads + 1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := NewTransactor(db).InTx(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactor_NestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()

	transactor := NewTransactor(db)
	err := transactor.InTx(context.Background(), func(ctx context.Context) error {
		return transactor.InTx(ctx, func(ctx context.Context) error { return nil })
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_WithoutTx(t *testing.T) {
	db, _ := newMockDB(t)
	assert.Equal(t, Queryer(db), Executor(context.Background(), db))
}

func TestGetLatestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000001_init.up.sql", "000001_init.down.sql", "000003_idx.up.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600))
	}

	latest, err := getLatestVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, latest)

	_, err = getLatestVersion(t.TempDir())
	assert.Error(t, err)
}
