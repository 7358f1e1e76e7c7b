package agent

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// AgentRepository defines the interface for agent data access
type AgentRepository interface {
	FindActive(ctx context.Context, filter models.AgentFilter) ([]models.Agent, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.Agent, error)
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, includeInactive bool) ([]models.Agent, error)
	Create(ctx context.Context, agent models.Agent) (*models.Agent, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
	IncrementCounter(ctx context.Context, id string, counter models.AgentCounter, delta int) error
}

type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new agent repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func validIDs(ids []string) []any {
	valid := ectolinq.Filter(ids, func(id string) bool {
		_, err := uuid.Parse(id)
		return err == nil
	})
	out := make([]any, 0, len(valid))
	for _, id := range valid {
		out = append(out, id)
	}
	return out
}

// FindActive returns active agents ordered by name. IDs and Province narrow the result.
func (r *Repository) FindActive(ctx context.Context, filter models.AgentFilter) ([]models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.FindActive")
	defer span.End()

	sb := agentStruct.SelectFrom(agentsTable)
	sb.Where(sb.Equal("active", true))
	if len(filter.IDs) > 0 {
		ids := validIDs(filter.IDs)
		if len(ids) == 0 {
			return []models.Agent{}, nil
		}
		sb.Where(sb.In("id", ids...))
	}
	if filter.Province != "" {
		sb.Where(sb.Equal("LOWER(province)", strings.ToLower(strings.TrimSpace(filter.Province))))
	}
	sb.OrderBy("name", "id")

	sql, args := sb.Build()

	var rows []AgentRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to find active agents")
		return nil, fmt.Errorf("failed to find active agents: %w", err)
	}

	return ToAgents(rows), nil
}

// GetByIDs returns the agents with the given ids, active or not.
func (r *Repository) GetByIDs(ctx context.Context, ids []string) ([]models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.GetByIDs")
	defer span.End()

	valid := validIDs(ids)
	if len(valid) == 0 {
		return []models.Agent{}, nil
	}

	sb := agentStruct.SelectFrom(agentsTable)
	sb.Where(sb.In("id", valid...))
	sb.OrderBy("name", "id")

	sql, args := sb.Build()

	var rows []AgentRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get agents")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get agents")
	}

	return ToAgents(rows), nil
}

// Get retrieves an agent by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.Get")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "agent not found")
	}

	sb := agentStruct.SelectFrom(agentsTable)
	sb.Where(sb.Equal("id", id))

	sql, args := sb.Build()

	var row AgentRow
	if err := database.Executor(ctx, r.db).GetContext(ctx, &row, sql, args...); err != nil {
		if database.IsNotFound(err) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "agent not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithField("id", id).Error("Failed to get agent")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get agent")
	}

	return ToAgent(&row), nil
}

// List retrieves agents ordered by name
func (r *Repository) List(ctx context.Context, includeInactive bool) ([]models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.List")
	defer span.End()

	sb := agentStruct.SelectFrom(agentsTable)
	if !includeInactive {
		sb.Where(sb.Equal("active", true))
	}
	sb.OrderBy("name", "id")

	sql, args := sb.Build()

	var rows []AgentRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list agents")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list agents")
	}

	return ToAgents(rows), nil
}

// Create inserts a new agent. A duplicate email is a conflict.
func (r *Repository) Create(ctx context.Context, agent models.Agent) (*models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.Create")
	defer span.End()

	now := Now()
	agent.ID = uuid.New().String()
	agent.TotalLeads = 0
	agent.TotalContacted = 0
	agent.CreatedAt = now
	agent.UpdatedAt = now

	row := FromAgent(&agent)
	ib := agentStruct.InsertInto(agentsTable, row)
	sql, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":    row.ID,
		"email": row.Email,
	}).Info("Creating agent")

	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "agent with email %s already exists", row.Email)
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create agent")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create agent")
	}

	return ToAgent(row), nil
}

// SetActive toggles whether an agent takes part in distribution.
func (r *Repository) SetActive(ctx context.Context, id string, active bool) error {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.SetActive")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(agentsTable)
	ub.Set(
		ub.Assign("active", active),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(ub.Equal("id", id))

	return r.execOne(ctx, ub.Build)
}

// Delete removes an agent. Callers must make sure no leads reference it.
func (r *Repository) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.Delete")
	defer span.End()

	if _, err := uuid.Parse(id); err != nil {
		return httperror.NewHTTPError(http.StatusNotFound, "agent not found")
	}

	dlb := agentStruct.DeleteFrom(agentsTable)
	dlb.Where(dlb.Equal("id", id))

	r.logger.WithContext(ctx).WithField("id", id).Info("Deleting agent")

	return r.execOne(ctx, dlb.Build)
}

// IncrementCounter adds delta to one of the agent's counters.
func (r *Repository) IncrementCounter(ctx context.Context, id string, counter models.AgentCounter, delta int) error {
	ctx, span := tracing.StartSpan(ctx, "AgentRepository.IncrementCounter")
	defer span.End()

	if !counter.Valid() {
		return fmt.Errorf("unknown agent counter %q", counter)
	}

	col := string(counter)
	ub := database.NewUpdateBuilder()
	ub.Update(agentsTable)
	ub.Set(
		fmt.Sprintf("%s = %s + %s", col, col, ub.Var(delta)),
		ub.Assign("updated_at", Now()),
	)
	ub.Where(ub.Equal("id", id))

	return r.execOne(ctx, ub.Build)
}

func (r *Repository) execOne(ctx context.Context, build func() (string, []any)) error {
	sql, args := build()

	res, err := database.Executor(ctx, r.db).ExecContext(ctx, sql, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update agent")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update agent")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "agent not found")
	}
	return nil
}
