package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type memoryRunStore struct {
	created   []*models.ImportRun
	finalized []models.ImportRun
	createErr error
}

func (s *memoryRunStore) Create(_ context.Context, run *models.ImportRun) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, run)
	return nil
}

func (s *memoryRunStore) Finalize(_ context.Context, run *models.ImportRun) error {
	s.finalized = append(s.finalized, *run)
	return nil
}

func newRecorder(store RunStore, max int) *Recorder {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return NewRecorder(store, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), Options{
		MaxLogEntries: max,
		Now:           func() time.Time { return now },
	})
}

func TestRecorder_Lifecycle(t *testing.T) {
	store := &memoryRunStore{}
	r := newRecorder(store, 0)
	ctx := context.Background()

	run, err := r.Start(ctx, models.ImportRequest{Filename: "f.csv", UploadedBy: "admin", SkipDuplicates: true})
	require.NoError(t, err)
	require.Len(t, store.created, 1)
	assert.Equal(t, models.ImportStateProcessing, run.Status)
	assert.NotEmpty(t, run.ID)

	for i := 0; i < 3; i++ {
		r.Scanned()
	}
	r.Accepted()
	r.Duplicate("row %d duplicates phone", 2)
	r.Rejected(fmt.Errorf("row 3: missing name"))
	r.Created(1)
	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 1, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, r.Stats())

	done, err := r.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ImportStats{TotalRows: 3, ValidRows: 1, DuplicatesRemoved: 1, InvalidRemoved: 1, LeadsCreated: 1}, done.Stats)
	assert.Equal(t, models.ImportStateCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	require.Len(t, done.Logs, 2)
	assert.Equal(t, models.LogLevelInfo, done.Logs[0].Level)
	assert.Equal(t, "row 2 duplicates phone", done.Logs[0].Message)
	assert.Equal(t, models.LogLevelWarning, done.Logs[1].Level)

	// immutable after finalize
	r.Scanned()
	r.Error("late")
	again, err := r.Fail(ctx, errors.New("late failure"))
	require.NoError(t, err)
	assert.Equal(t, models.ImportStateCompleted, again.Status)
	assert.Equal(t, 3, again.Stats.TotalRows)
	assert.Len(t, store.finalized, 1)
}

func TestRecorder_Fail(t *testing.T) {
	store := &memoryRunStore{}
	r := newRecorder(store, 0)
	ctx := context.Background()

	_, err := r.Start(ctx, models.ImportRequest{Filename: "f.csv"})
	require.NoError(t, err)

	run, err := r.Fail(ctx, errors.New("file unreadable"))
	require.NoError(t, err)
	assert.Equal(t, models.ImportStateFailed, run.Status)
	assert.Equal(t, "file unreadable", run.ErrorMessage)
	assert.Equal(t, models.LogLevelError, run.Logs[len(run.Logs)-1].Level)
}

func TestRecorder_LogCap(t *testing.T) {
	store := &memoryRunStore{}
	r := newRecorder(store, 2)
	ctx := context.Background()

	_, err := r.Start(ctx, models.ImportRequest{Filename: "f.csv"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Duplicate("dup %d", i)
	}

	run, err := r.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, run.Stats.DuplicatesRemoved)
	require.Len(t, run.Logs, 3)
	assert.Equal(t, "3 additional log entries were omitted", run.Logs[2].Message)
}

func TestRecorder_StartErrors(t *testing.T) {
	r := newRecorder(&memoryRunStore{createErr: errors.New("db down")}, 0)
	_, err := r.Start(context.Background(), models.ImportRequest{Filename: "f.csv"})
	assert.EqualError(t, err, "db down")

	_, err = r.Complete(context.Background())
	assert.Error(t, err)

	ok := newRecorder(&memoryRunStore{}, 0)
	_, err = ok.Start(context.Background(), models.ImportRequest{})
	require.NoError(t, err)
	_, err = ok.Start(context.Background(), models.ImportRequest{})
	assert.Error(t, err)
}
