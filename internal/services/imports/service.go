package imports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/cache"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/importer"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/sheet"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/uploads"
)

type Importer interface {
	Run(ctx context.Context, req models.ImportRequest) (*models.ImportRun, error)
}

type FileStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (*uploads.StoredFile, error)
	Path(filename string) (string, error)
	Remove(ctx context.Context, filename string) error
}

type RunRepository interface {
	Get(ctx context.Context, id string) (*models.ImportRun, error)
	ListByUploader(ctx context.Context, uploader string, limit int) ([]models.ImportRun, error)
}

// ProcessRequest is the mapping an admin submits after reviewing the preview.
type ProcessRequest struct {
	Filename        string               `json:"filename" validate:"required"`
	ColumnMapping   models.ColumnMapping `json:"column_mapping" validate:"required"`
	SkipDuplicates  bool                 `json:"skip_duplicates"`
	DefaultProvince string               `json:"default_province"`
}

// Queued is returned when an import has been handed to the worker.
type Queued struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

type Options struct {
	PreviewRows int
	PreviewTTL  time.Duration
	// ImportTopicPublisher receives import requests for the worker. Nil disables async processing.
	ImportTopicPublisher events.Publisher
}

type Service struct {
	importer Importer
	files    FileStore
	runs     RunRepository
	cache    cache.Cache
	logger   ectologger.Logger
	opts     Options
}

func NewService(imp Importer, files FileStore, runs RunRepository, c cache.Cache, logger ectologger.Logger, opts Options) *Service {
	if opts.PreviewRows <= 0 {
		opts.PreviewRows = 5
	}
	return &Service{
		importer: imp,
		files:    files,
		runs:     runs,
		cache:    c,
		logger:   logger,
		opts:     opts,
	}
}

// Upload stores the file and returns its preview. The stored filename is the handle used
// by every later step.
func (s *Service) Upload(ctx context.Context, originalName string, r io.Reader) (*sheet.Preview, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.Upload")
	defer span.End()

	stored, err := s.files.Save(ctx, originalName, r)
	if err != nil {
		return nil, err
	}

	preview, err := sheet.BuildPreview(ctx, stored.Path, s.opts.PreviewRows)
	if err != nil {
		tracing.RecordError(span, err)
		if rmErr := s.files.Remove(ctx, stored.Filename); rmErr != nil {
			s.logger.WithContext(ctx).WithError(rmErr).Warn("Failed to remove unreadable upload")
		}
		return nil, httperror.WrapError(http.StatusBadRequest, err)
	}
	preview.Filename = stored.Filename

	s.cachePreview(ctx, preview)

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"filename":      stored.Filename,
		"original_name": originalName,
		"total_rows":    preview.TotalRows,
	}).Info("File uploaded")

	return preview, nil
}

// Preview returns the cached preview, rebuilding it from disk after expiry.
func (s *Service) Preview(ctx context.Context, filename string) (*sheet.Preview, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.Preview")
	defer span.End()

	var preview sheet.Preview
	err := cache.GetJSON(ctx, s.cache, cache.PreviewKey(filename), &preview)
	if err == nil {
		return &preview, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to read cached preview")
	}

	path, err := s.files.Path(filename)
	if err != nil {
		return nil, err
	}

	built, err := sheet.BuildPreview(ctx, path, s.opts.PreviewRows)
	if err != nil {
		return nil, httperror.WrapError(http.StatusBadRequest, err)
	}
	built.Filename = filename

	s.cachePreview(ctx, built)
	return built, nil
}

func (s *Service) cachePreview(ctx context.Context, preview *sheet.Preview) {
	if err := cache.SetJSON(ctx, s.cache, cache.PreviewKey(preview.Filename), preview, s.opts.PreviewTTL); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache preview")
	}
}

func (s *Service) toImportRequest(ctx context.Context, req ProcessRequest) (models.ImportRequest, error) {
	if err := req.ColumnMapping.Validate(); err != nil {
		return models.ImportRequest{}, fmt.Errorf("%w: %v", importer.ErrInvalidMapping, err)
	}
	return models.ImportRequest{
		Filename:        req.Filename,
		ColumnMapping:   req.ColumnMapping,
		SkipDuplicates:  req.SkipDuplicates,
		UploadedBy:      appctx.GetUserID(ctx),
		DefaultProvince: req.DefaultProvince,
	}, nil
}

// Process runs the import synchronously and returns the finalized run.
func (s *Service) Process(ctx context.Context, req ProcessRequest) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.Process")
	defer span.End()

	importReq, err := s.toImportRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.importer.Run(ctx, importReq)
}

// Enqueue hands the import to the worker through the import topic.
func (s *Service) Enqueue(ctx context.Context, req ProcessRequest) (*Queued, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.Enqueue")
	defer span.End()

	if s.opts.ImportTopicPublisher == nil {
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "asynchronous imports are not enabled")
	}

	importReq, err := s.toImportRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.files.Path(importReq.Filename); err != nil {
		return nil, err
	}

	err = s.opts.ImportTopicPublisher.Publish(ctx, kafka.Message{
		Key:     importReq.Filename,
		Type:    events.TypeImportRequested,
		Payload: importReq,
	})
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.WithContext(ctx).WithError(err).Error("Failed to enqueue import")
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "failed to enqueue import")
	}

	s.logger.WithContext(ctx).WithField("filename", importReq.Filename).Info("Import queued")
	return &Queued{Filename: importReq.Filename, Status: "queued"}, nil
}

// HandleImportRequest is the worker side of Enqueue. A run that fails is already recorded
// as failed, so only a cancelled context is returned for redelivery.
func (s *Service) HandleImportRequest(ctx context.Context, msg *kafka.IncomingMessage) error {
	if msg.EventType() != events.TypeImportRequested {
		s.logger.WithContext(ctx).WithField("type", msg.EventType()).Debug("Ignoring message")
		return nil
	}

	var req models.ImportRequest
	if err := msg.Decode(&req); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Dropping malformed import request")
		return nil
	}

	ctx = appctx.SetUserID(ctx, req.UploadedBy)
	run, err := s.importer.Run(ctx, req)
	switch {
	case err == nil:
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"import_run_id": run.ID,
			"leads_created": run.Stats.LeadsCreated,
		}).Info("Queued import finished")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, importer.ErrAlreadyRunning):
		s.logger.WithContext(ctx).WithField("filename", req.Filename).Warn("Import already running, dropping request")
		return nil
	default:
		s.logger.WithContext(ctx).WithError(err).WithField("filename", req.Filename).Error("Queued import failed")
		return nil
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.Get")
	defer span.End()

	run, err := s.runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appctx.IsAdmin(ctx) && run.UploadedBy != appctx.GetUserID(ctx) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "import run not found")
	}
	return run, nil
}

// List returns the caller's runs, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]models.ImportRun, error) {
	ctx, span := tracing.StartSpan(ctx, "imports.List")
	defer span.End()

	return s.runs.ListByUploader(ctx, appctx.GetUserID(ctx), limit)
}
