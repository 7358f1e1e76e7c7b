package lead

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/cache"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	List(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error)
	UpdateStatus(ctx context.Context, id string, update models.StatusUpdate) (*models.Lead, error)
	// MarkFirstContact stamps last_contact only when it is still unset and reports whether it did.
	MarkFirstContact(ctx context.Context, id string, at time.Time) (bool, error)
	CountByStatus(ctx context.Context, agentID string) ([]models.StatusCount, error)
}

type AgentCounters interface {
	IncrementCounter(ctx context.Context, id string, counter models.AgentCounter, delta int) error
}

type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusRequest is the body of a lead status change.
type StatusRequest struct {
	Status     string  `json:"status" validate:"required"`
	Note       string  `json:"note" validate:"max=2000"`
	NextAction *string `json:"next_action" validate:"omitempty,max=500"`
}

// Stats is the dashboard breakdown of leads by status.
type Stats struct {
	Total    int                       `json:"total"`
	ByStatus map[models.LeadStatus]int `json:"by_status"`
}

type Service struct {
	leads    LeadRepository
	agents   AgentCounters
	tx       Transactor
	cache    cache.Cache
	statsTTL time.Duration
	logger   ectologger.Logger
	now      func() time.Time
}

func NewService(leads LeadRepository, agents AgentCounters, tx Transactor, c cache.Cache, statsTTL time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		leads:    leads,
		agents:   agents,
		tx:       tx,
		cache:    c,
		statsTTL: statsTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// visible reports whether the caller may see the lead. Agents only see their own leads.
func visible(ctx context.Context, lead *models.Lead) bool {
	return appctx.IsAdmin(ctx) || lead.AssignedAgent() == appctx.GetUserID(ctx)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Get")
	defer span.End()

	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visible(ctx, lead) {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}
	return lead, nil
}

// List returns leads matching filter. Non-admin callers are restricted to their own leads.
func (s *Service) List(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.List")
	defer span.End()

	if !appctx.IsAdmin(ctx) {
		filter.AssignedTo = appctx.GetUserID(ctx)
		filter.Unassigned = false
		if filter.AssignedTo == "" {
			return []models.Lead{}, nil
		}
	}
	return s.leads.List(ctx, filter)
}

// UpdateStatus moves a lead to a new status, recording who changed it. Only the first
// contact of a lead counts toward the owning agent's contacted total; moving back to
// uncontacted and out again does not count twice.
func (s *Service) UpdateStatus(ctx context.Context, id string, req StatusRequest) (*models.Lead, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.UpdateStatus")
	defer span.End()

	status, err := models.ParseLeadStatus(req.Status)
	if err != nil {
		return nil, httperror.WrapError(http.StatusBadRequest, err)
	}

	var updated *models.Lead
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.leads.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !visible(ctx, current) {
			return httperror.NewHTTPError(http.StatusNotFound, "lead not found")
		}

		now := s.now()
		firstContact := false
		if status != models.LeadStatusUncontacted {
			firstContact, err = s.leads.MarkFirstContact(ctx, id, now)
			if err != nil {
				return err
			}
		}

		updated, err = s.leads.UpdateStatus(ctx, id, models.StatusUpdate{
			Status:     status,
			ChangedBy:  appctx.GetUserID(ctx),
			ChangedAt:  now,
			Note:       req.Note,
			NextAction: req.NextAction,
			Contacted:  status != models.LeadStatusUncontacted,
		})
		if err != nil {
			return err
		}

		if firstContact && current.IsAssigned() {
			return s.agents.IncrementCounter(ctx, current.AssignedAgent(), models.AgentCounterTotalContacted, 1)
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"lead_id": id,
		"status":  status,
	}).Info("Lead status updated")

	if err := s.cache.Delete(ctx, cache.StatsKey); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate lead stats")
	}
	return updated, nil
}

// Stats counts leads by status. Admin stats are cached; agent stats are scoped to the caller.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	ctx, span := tracing.StartSpan(ctx, "lead.Stats")
	defer span.End()

	if !appctx.IsAdmin(ctx) {
		return s.countStats(ctx, appctx.GetUserID(ctx))
	}

	var stats Stats
	err := cache.GetJSON(ctx, s.cache, cache.StatsKey, &stats)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to read cached lead stats")
	}

	stats, err = s.countStats(ctx, "")
	if err != nil {
		return Stats{}, err
	}

	if err := cache.SetJSON(ctx, s.cache, cache.StatsKey, stats, s.statsTTL); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("Failed to cache lead stats")
	}
	return stats, nil
}

func (s *Service) countStats(ctx context.Context, agentID string) (Stats, error) {
	stats := Stats{ByStatus: make(map[models.LeadStatus]int, len(models.LeadStatuses()))}
	for _, status := range models.LeadStatuses() {
		stats.ByStatus[status] = 0
	}
	if !appctx.IsAdmin(ctx) && agentID == "" {
		return stats, nil
	}

	counts, err := s.leads.CountByStatus(ctx, agentID)
	if err != nil {
		return Stats{}, err
	}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}
	return stats, nil
}
