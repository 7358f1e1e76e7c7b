package agent

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	anaID  = "0b6f0c2a-7f55-4b7e-9d0b-0f4f9f5d1a01"
	beaID  = "0b6f0c2a-7f55-4b7e-9d0b-0f4f9f5d1a02"
	selectQuery = "SELECT"
)

func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	return NewRepository(database.NewDatabaseInstance(sqlx.NewDb(sqlDB, "postgres"), logger), logger), mock
}

func agentRows() *sqlmock.Rows {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "name", "email", "active", "province", "total_leads", "total_contacted", "created_at", "updated_at"}).
		AddRow(anaID, "Ana", "ana@example.com", true, "Salta", 4, 1, now, now).
		AddRow(beaID, "Bea", "bea@example.com", true, nil, 0, 0, now, now)
}

func TestRepository_FindActive(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("active = $1 AND id IN ($2, $3) AND LOWER(province) = $4 ORDER BY name, id")).
		WithArgs(true, anaID, beaID, "salta").
		WillReturnRows(agentRows())

	got, err := repo.FindActive(context.Background(), models.AgentFilter{
		IDs:      []string{anaID, "bogus", beaID},
		Province: " Salta ",
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Salta", got[0].Province)
	assert.Equal(t, 4, got[0].TotalLeads)
	assert.Equal(t, "", got[1].Province)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_FindActive_OnlyInvalidIDs(t *testing.T) {
	repo, mock := newTestRepository(t)

	got, err := repo.FindActive(context.Background(), models.AgentFilter{IDs: []string{"nope"}})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Get(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(selectQuery).WithArgs(anaID).WillReturnRows(agentRows())
	got, err := repo.Get(context.Background(), anaID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)

	mock.ExpectQuery(selectQuery).WithArgs(beaID).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = repo.Get(context.Background(), beaID)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	_, err = repo.Get(context.Background(), "not-an-id")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Create(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO agents").WillReturnResult(sqlmock.NewResult(0, 1))
	got, err := repo.Create(context.Background(), models.Agent{Name: " Ana ", Email: "Ana@Example.com", Active: true, TotalLeads: 9})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "ana@example.com", got.Email)
	assert.Zero(t, got.TotalLeads)

	mock.ExpectExec("INSERT INTO agents").WillReturnError(&pq.Error{Code: "23505", Constraint: "agents_email_key"})
	_, err = repo.Create(context.Background(), models.Agent{Name: "Ana", Email: "ana@example.com"})
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_IncrementCounter(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("total_leads = total_leads + $1")).
		WithArgs(3, sqlmock.AnyArg(), anaID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.IncrementCounter(context.Background(), anaID, models.AgentCounterTotalLeads, 3))

	mock.ExpectExec(regexp.QuoteMeta("total_contacted = total_contacted + $1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.IncrementCounter(context.Background(), beaID, models.AgentCounterTotalContacted, 1)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	assert.Error(t, repo.IncrementCounter(context.Background(), anaID, models.AgentCounter("name"), 1))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_DeleteAndSetActive(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("DELETE FROM agents").WithArgs(anaID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), anaID))

	mock.ExpectExec("UPDATE agents").WithArgs(false, sqlmock.AnyArg(), beaID).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.SetActive(context.Background(), beaID, false))

	err := repo.Delete(context.Background(), "x")
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
