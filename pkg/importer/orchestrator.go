// Package importer drives an uploaded lead file through mapping, normalization,
// duplicate detection and insertion.
package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/cache"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/history"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/sheet"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// LeadStore is the persistence the pipeline needs. InsertMany must either apply every
// non-conflicting row or none of them; InsertOne reports conflicts as
// database.ErrUniqueViolation.
type LeadStore interface {
	dedup.LeadLookup
	InsertMany(ctx context.Context, leads []models.Lead) (models.InsertManyResult, error)
	InsertOne(ctx context.Context, lead models.Lead) (string, error)
}

// FileStore resolves and removes uploaded files. *uploads.Store satisfies it.
type FileStore interface {
	Path(filename string) (string, error)
	Remove(ctx context.Context, filename string) error
}

type Options struct {
	DefaultProvince string
	MaxLogEntries   int
	LockTTL         time.Duration
	Checks          []dedup.Check
}

type Orchestrator struct {
	leads    LeadStore
	runs     history.RunStore
	files    FileStore
	detector *dedup.Detector
	locker   Locker
	cache    cache.Cache
	emitter  *events.Emitter
	logger   ectologger.Logger
	opts     Options
	now      func() time.Time
}

type Dependencies struct {
	Leads   LeadStore
	Runs    history.RunStore
	Files   FileStore
	Locker  Locker
	Cache   cache.Cache
	Emitter *events.Emitter
	Logger  ectologger.Logger
}

func NewOrchestrator(deps Dependencies, opts Options) *Orchestrator {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	locker := deps.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Orchestrator{
		leads:    deps.Leads,
		runs:     deps.Runs,
		files:    deps.Files,
		detector: dedup.NewDetector(deps.Leads, opts.Checks...),
		locker:   locker,
		cache:    deps.Cache,
		emitter:  deps.Emitter,
		logger:   deps.Logger,
		opts:     opts,
		now:      time.Now,
	}
}

func lockKey(filename string) string {
	return "import:" + filename
}

// Run processes one uploaded file end to end and returns the finalized run. When the
// run fails the returned error is a *RunFatalError and the run carries the message.
func (o *Orchestrator) Run(ctx context.Context, req models.ImportRequest) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.Run")
	defer span.End()

	if err := req.ColumnMapping.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}

	path, err := o.files.Path(req.Filename)
	if err != nil {
		return nil, err
	}

	var run *models.ImportRun
	err = o.locker.WithLock(ctx, lockKey(req.Filename), o.opts.LockTTL, func(ctx context.Context) error {
		var runErr error
		run, runErr = o.run(ctx, req, path)
		return runErr
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, ErrAlreadyRunning
	}
	if err != nil {
		tracing.RecordError(span, err)
	}
	return run, err
}

func (o *Orchestrator) run(ctx context.Context, req models.ImportRequest, path string) (*models.ImportRun, error) {
	started := o.now()

	rec := history.NewRecorder(o.runs, o.logger, history.Options{MaxLogEntries: o.opts.MaxLogEntries})
	run, err := rec.Start(ctx, req)
	if err != nil {
		if rmErr := o.files.Remove(ctx, req.Filename); rmErr != nil {
			o.logger.WithContext(ctx).WithError(rmErr).Warn("Failed to remove uploaded file")
		}
		return nil, &RunFatalError{Err: fmt.Errorf("failed to create import run: %w", err)}
	}
	ctx = appctx.SetImportRunID(ctx, run.ID)

	log := o.logger.WithContext(ctx).WithFields(map[string]any{
		"import_run_id":   run.ID,
		"filename":        req.Filename,
		"skip_duplicates": req.SkipDuplicates,
	})

	procErr := o.process(ctx, rec, req, path, run.ID)

	if err := o.files.Remove(ctx, req.Filename); err != nil {
		rec.Warn("failed to remove uploaded file: %v", err)
	}

	if procErr != nil {
		log.WithError(procErr).Error("Import run failed")
		run, err = rec.Fail(ctx, procErr)
		o.afterRun(ctx, run, req.Filename, started)
		if err != nil {
			log.WithError(err).Error("Failed to record import failure")
		}
		return run, &RunFatalError{RunID: run.ID, Err: procErr}
	}

	run, err = rec.Complete(ctx)
	o.afterRun(ctx, run, req.Filename, started)
	if err != nil {
		return run, &RunFatalError{RunID: run.ID, Err: fmt.Errorf("failed to save import run: %w", err)}
	}
	return run, nil
}

// process scans every row, then inserts what was accepted. A returned error is fatal for the run.
func (o *Orchestrator) process(ctx context.Context, rec *history.Recorder, req models.ImportRequest, path, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.process")
	defer span.End()

	sh, err := sheet.Read(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	defaultProvince := req.DefaultProvince
	if defaultProvince == "" {
		defaultProvince = o.opts.DefaultProvince
	}

	batch := dedup.NewBatch(len(sh.Rows))
	rowIndexes := make([]int, 0, len(sh.Rows))

	for i, row := range sh.Rows {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		rowIndex := sh.Line(i)
		rec.Scanned()

		lead, rej := mapping.MapRow(row, req.ColumnMapping, rowIndex, defaultProvince)
		if rej != nil {
			rec.Rejected(rej)
			continue
		}

		normalizers.NormalizeLead(lead)
		lead.ImportRunID = runID

		if req.SkipDuplicates {
			result, err := o.detector.Check(ctx, lead, batch)
			if err != nil {
				return fmt.Errorf("duplicate check failed on row %d: %w", rowIndex, err)
			}
			if result.IsDuplicate {
				rec.Duplicate("row %d: %q duplicates an existing lead by %s", rowIndex, lead.Name, result.Against)
				continue
			}
		}

		o.detector.Index(lead, batch)
		rowIndexes = append(rowIndexes, rowIndex)
		rec.Accepted()
	}

	scanned := rec.Stats()
	o.logger.WithContext(ctx).WithFields(map[string]any{
		"import_run_id":      runID,
		"total_rows":         scanned.TotalRows,
		"valid_rows":         scanned.ValidRows,
		"duplicates_removed": scanned.DuplicatesRemoved,
		"invalid_removed":    scanned.InvalidRemoved,
	}).Info("Scan finished")

	return o.insert(ctx, rec, batch.Leads(), rowIndexes)
}

func (o *Orchestrator) insert(ctx context.Context, rec *history.Recorder, accepted []*models.Lead, rowIndexes []int) error {
	if len(accepted) == 0 {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "importer.Orchestrator.insert")
	defer span.End()

	leads := make([]models.Lead, len(accepted))
	for i, l := range accepted {
		leads[i] = *l
	}

	result, err := o.leads.InsertMany(ctx, leads)
	if err == nil {
		rec.Created(result.InsertedCount)
		for _, idx := range result.Skipped {
			rec.Duplicate("row %d: %q already exists", rowIndexes[idx], leads[idx].Name)
		}
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	tracing.RecordError(span, err)
	o.logger.WithContext(ctx).WithError(err).Warn("Bulk insert failed, inserting rows individually")
	rec.Warn("bulk insert failed, inserting rows individually: %v", err)

	for i, lead := range leads {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		_, err := o.leads.InsertOne(ctx, lead)
		switch {
		case err == nil:
			rec.Created(1)
		case database.IsUniqueViolation(err):
			rec.Duplicate("row %d: %q already exists", rowIndexes[i], lead.Name)
		default:
			rec.InsertFailed("row %d: failed to insert %q: %v", rowIndexes[i], lead.Name, err)
		}
	}
	return nil
}

func (o *Orchestrator) afterRun(ctx context.Context, run *models.ImportRun, filename string, started time.Time) {
	if run == nil {
		return
	}

	status := string(run.Status)
	metrics.ImportRunsTotal.WithLabelValues(status).Inc()
	metrics.ImportRunDuration.WithLabelValues(status).Observe(o.now().Sub(started).Seconds())
	metrics.ImportRowsTotal.WithLabelValues(metrics.OutcomeCreated).Add(float64(run.Stats.LeadsCreated))
	metrics.ImportRowsTotal.WithLabelValues(metrics.OutcomeDuplicate).Add(float64(run.Stats.DuplicatesRemoved))
	metrics.ImportRowsTotal.WithLabelValues(metrics.OutcomeRejected).Add(float64(run.Stats.InvalidRemoved))

	if o.cache != nil {
		if err := o.cache.Delete(ctx, cache.StatsKey, cache.PreviewKey(filename)); err != nil {
			o.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate cache after import")
		}
	}

	o.emitter.ImportFinished(ctx, run)
}
