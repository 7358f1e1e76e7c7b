package importrun

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const defaultListLimit = 50

// ErrAlreadyFinal is returned when a run has already been completed or failed.
var ErrAlreadyFinal = errors.New("import run is already final")

type ImportRunRepository interface {
	Create(ctx context.Context, run *models.ImportRun) error
	Finalize(ctx context.Context, run *models.ImportRun) error
	Get(ctx context.Context, id string) (*models.ImportRun, error)
	ListByUploader(ctx context.Context, uploader string, limit int) ([]models.ImportRun, error)
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) Create(ctx context.Context, run *models.ImportRun) error {
	ctx, span := tracing.StartSpan(ctx, "ImportRunRepository.Create")
	defer span.End()

	ib := importRunStruct.InsertInto(importRunsTable, FromImportRun(run))
	sql, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":       run.ID,
		"filename": run.Filename,
	}).Debug("Creating import run")

	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create import run")
		return fmt.Errorf("failed to create import run: %w", err)
	}
	return nil
}

// Finalize writes the final status, stats and logs. Only a run still processing can be finalized.
func (r *Repository) Finalize(ctx context.Context, run *models.ImportRun) error {
	ctx, span := tracing.StartSpan(ctx, "ImportRunRepository.Finalize")
	defer span.End()

	if !run.Status.Final() {
		return fmt.Errorf("cannot finalize import run %s with status %s", run.ID, run.Status)
	}

	row := FromImportRun(run)

	ub := database.NewUpdateBuilder()
	ub.Update(importRunsTable)
	ub.Set(
		ub.Assign("status", row.Status),
		ub.Assign("stats", row.Stats),
		ub.Assign("logs", row.Logs),
		ub.Assign("error_message", row.ErrorMessage),
		ub.Assign("completed_at", row.CompletedAt),
	)
	ub.Where(
		ub.Equal("id", run.ID),
		ub.Equal("status", string(models.ImportStateProcessing)),
	)

	sql, args := ub.Build()

	res, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).WithField("id", run.ID).Error("Failed to finalize import run")
		return fmt.Errorf("failed to finalize import run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("import run %s: %w", run.ID, ErrAlreadyFinal)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRunRepository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "import run not found")
	}

	sb := importRunStruct.SelectFrom(importRunsTable)
	sb.Where(sb.Equal("id", id))
	sql, args := sb.Build()

	var row ImportRunRow
	if err := database.Executor(ctx, r.db).GetContext(ctx, &row, sql, args...); err != nil {
		if database.IsNotFound(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "import run not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get import run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get import run")
	}

	return ToImportRun(&row), nil
}

// ListByUploader returns runs newest first. An empty uploader lists every run.
func (r *Repository) ListByUploader(ctx context.Context, uploader string, limit int) ([]models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ImportRunRepository.ListByUploader")
	defer span.End()

	if limit <= 0 {
		limit = defaultListLimit
	}

	sb := importRunStruct.SelectFrom(importRunsTable)
	if uploader != "" {
		sb.Where(sb.Equal("uploaded_by", uploader))
	}
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	sql, args := sb.Build()

	var rows []ImportRunRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list import runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import runs")
	}

	return ToImportRuns(rows), nil
}
