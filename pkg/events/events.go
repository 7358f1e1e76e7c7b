// Package events turns pipeline outcomes into domain events on the event bus.
package events

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

const (
	TypeImportCompleted = "import.completed"
	TypeImportFailed    = "import.failed"
	TypeLeadsAssigned   = "leads.assigned"
	TypeImportRequested = "import.requested"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

type ImportFinished struct {
	RunID        string             `json:"run_id"`
	Filename     string             `json:"filename"`
	UploadedBy   string             `json:"uploaded_by"`
	Status       models.ImportState `json:"status"`
	Stats        models.ImportStats `json:"stats"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

type LeadsAssigned struct {
	Strategy      string         `json:"strategy"`
	AssignedCount int            `json:"assigned_count"`
	PerAgent      map[string]int `json:"per_agent"`
	AssignedBy    string         `json:"assigned_by,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Emitter publishes domain events. Publish failures are logged and never returned:
// the pipeline outcome is already persisted by the time an event is emitted.
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
	now       func() time.Time
}

// NewEmitter accepts a nil publisher, in which case events are dropped.
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (e *Emitter) ImportFinished(ctx context.Context, run *models.ImportRun) {
	if e == nil || run == nil {
		return
	}

	eventType := TypeImportCompleted
	if run.Status == models.ImportStateFailed {
		eventType = TypeImportFailed
	}

	e.emit(ctx, kafka.Message{
		Key:  run.ID,
		Type: eventType,
		Payload: ImportFinished{
			RunID:        run.ID,
			Filename:     run.Filename,
			UploadedBy:   run.UploadedBy,
			Status:       run.Status,
			Stats:        run.Stats,
			ErrorMessage: run.ErrorMessage,
			Timestamp:    e.now().UTC(),
		},
	})
}

func (e *Emitter) LeadsAssigned(ctx context.Context, strategy string, assigned int, perAgent map[string]int, assignedBy string) {
	if e == nil || assigned == 0 {
		return
	}

	e.emit(ctx, kafka.Message{
		Key:  strategy,
		Type: TypeLeadsAssigned,
		Payload: LeadsAssigned{
			Strategy:      strategy,
			AssignedCount: assigned,
			PerAgent:      perAgent,
			AssignedBy:    assignedBy,
			Timestamp:     e.now().UTC(),
		},
	})
}

func (e *Emitter) emit(ctx context.Context, msg kafka.Message) {
	if e == nil || e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, msg); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(msg.Type, "error").Inc()
		e.logger.WithContext(ctx).WithError(err).WithField("event_type", msg.Type).Warn("Failed to publish event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(msg.Type, "ok").Inc()
}
