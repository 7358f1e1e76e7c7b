// Package history records the audit trail of one import run.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

const DefaultMaxLogEntries = 1000

// RunStore persists import runs. Finalize must refuse a run that is already final.
type RunStore interface {
	Create(ctx context.Context, run *models.ImportRun) error
	Finalize(ctx context.Context, run *models.ImportRun) error
}

type Options struct {
	MaxLogEntries int
	Now           func() time.Time
}

// Recorder accumulates stats and log entries for a single run and persists them once.
type Recorder struct {
	mu        sync.Mutex
	store     RunStore
	logger    ectologger.Logger
	run       *models.ImportRun
	maxLogs   int
	dropped   int
	finalized bool
	now       func() time.Time
}

func NewRecorder(store RunStore, logger ectologger.Logger, opts Options) *Recorder {
	if opts.MaxLogEntries <= 0 {
		opts.MaxLogEntries = DefaultMaxLogEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		maxLogs: opts.MaxLogEntries,
		now:     opts.Now,
	}
}

// Start creates the run in the processing state.
func (r *Recorder) Start(ctx context.Context, req models.ImportRequest) (*models.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run != nil {
		return nil, fmt.Errorf("import run %s already started", r.run.ID)
	}

	run := &models.ImportRun{
		ID:             uuid.New().String(),
		Filename:       req.Filename,
		UploadedBy:     req.UploadedBy,
		ColumnMapping:  req.ColumnMapping,
		SkipDuplicates: req.SkipDuplicates,
		Status:         models.ImportStateProcessing,
		Logs:           []models.LogEntry{},
		StartedAt:      r.now().UTC(),
	}

	if err := r.store.Create(ctx, run); err != nil {
		return nil, err
	}
	r.run = run

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"import_run_id": run.ID,
		"filename":      run.Filename,
	}).Info("Import run started")

	return run, nil
}

func (r *Recorder) Info(msg string, args ...any) { r.append(models.LogLevelInfo, msg, args...) }

func (r *Recorder) Warn(msg string, args ...any) { r.append(models.LogLevelWarning, msg, args...) }

func (r *Recorder) Error(msg string, args ...any) { r.append(models.LogLevelError, msg, args...) }

func (r *Recorder) append(level models.LogLevel, msg string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil || r.finalized {
		return
	}
	if len(r.run.Logs) >= r.maxLogs {
		r.dropped++
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	r.run.Logs = append(r.run.Logs, models.LogEntry{
		Level:     level,
		Message:   msg,
		Timestamp: r.now().UTC(),
	})
}

func (r *Recorder) count(fn func(s *models.ImportStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil || r.finalized {
		return
	}
	fn(&r.run.Stats)
}

// Scanned counts one non-header row read from the file.
func (r *Recorder) Scanned() { r.count(func(s *models.ImportStats) { s.TotalRows++ }) }

// Accepted counts a row that passed mapping and the duplicate pre-check.
func (r *Recorder) Accepted() { r.count(func(s *models.ImportStats) { s.ValidRows++ }) }

func (r *Recorder) Rejected(rej error) {
	r.count(func(s *models.ImportStats) { s.InvalidRemoved++ })
	r.Warn("%s", rej.Error())
}

func (r *Recorder) Duplicate(msg string, args ...any) {
	r.count(func(s *models.ImportStats) { s.DuplicatesRemoved++ })
	r.Info(msg, args...)
}

func (r *Recorder) InsertFailed(msg string, args ...any) {
	r.count(func(s *models.ImportStats) { s.InvalidRemoved++ })
	r.Error(msg, args...)
}

func (r *Recorder) Created(n int) { r.count(func(s *models.ImportStats) { s.LeadsCreated += n }) }

// Stats returns a copy of the running totals.
func (r *Recorder) Stats() models.ImportStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.run == nil {
		return models.ImportStats{}
	}
	return r.run.Stats
}

func (r *Recorder) Complete(ctx context.Context) (*models.ImportRun, error) {
	return r.finalize(ctx, models.ImportStateCompleted, "")
}

func (r *Recorder) Fail(ctx context.Context, cause error) (*models.ImportRun, error) {
	msg := "import failed"
	if cause != nil {
		msg = cause.Error()
	}
	return r.finalize(ctx, models.ImportStateFailed, msg)
}

func (r *Recorder) finalize(ctx context.Context, status models.ImportState, errMsg string) (*models.ImportRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.run == nil {
		return nil, fmt.Errorf("import run not started")
	}
	if r.finalized {
		return r.run, nil
	}

	if r.dropped > 0 {
		r.run.Logs = append(r.run.Logs, models.LogEntry{
			Level:     models.LogLevelWarning,
			Message:   fmt.Sprintf("%d additional log entries were omitted", r.dropped),
			Timestamp: r.now().UTC(),
		})
	}
	if errMsg != "" {
		r.run.Logs = append(r.run.Logs, models.LogEntry{
			Level:     models.LogLevelError,
			Message:   errMsg,
			Timestamp: r.now().UTC(),
		})
	}

	completedAt := r.now().UTC()
	r.run.Status = status
	r.run.ErrorMessage = errMsg
	r.run.CompletedAt = &completedAt
	r.finalized = true

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"import_run_id":      r.run.ID,
		"status":             status,
		"total_rows":         r.run.Stats.TotalRows,
		"valid_rows":         r.run.Stats.ValidRows,
		"duplicates_removed": r.run.Stats.DuplicatesRemoved,
		"invalid_removed":    r.run.Stats.InvalidRemoved,
		"leads_created":      r.run.Stats.LeadsCreated,
	})

	// persisting uses a fresh context so a cancelled request still records the outcome
	if err := r.store.Finalize(context.WithoutCancel(ctx), r.run); err != nil {
		log.WithError(err).Error("Failed to persist import run")
		return r.run, err
	}

	log.Info("Import run finished")
	return r.run, nil
}
