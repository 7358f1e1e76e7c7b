package agent

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type AgentRepository interface {
	Get(ctx context.Context, id string) (*models.Agent, error)
	List(ctx context.Context, includeInactive bool) ([]models.Agent, error)
	Create(ctx context.Context, agent models.Agent) (*models.Agent, error)
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

type LeadCounter interface {
	CountByAgent(ctx context.Context, agentID string) (int, error)
}

type CreateRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Province string `json:"province" validate:"max=100"`
}

type Service struct {
	agents AgentRepository
	leads  LeadCounter
	logger ectologger.Logger
}

func NewService(agents AgentRepository, leads LeadCounter, logger ectologger.Logger) *Service {
	return &Service{
		agents: agents,
		leads:  leads,
		logger: logger,
	}
}

func (s *Service) List(ctx context.Context, includeInactive bool) ([]models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.List")
	defer span.End()

	return s.agents.List(ctx, includeInactive)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.Get")
	defer span.End()

	return s.agents.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.Create")
	defer span.End()

	agent, err := s.agents.Create(ctx, models.Agent{
		Name:     req.Name,
		Email:    req.Email,
		Province: req.Province,
		Active:   true,
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"agent_id": agent.ID,
		"email":    agent.Email,
	}).Info("Agent created")
	return agent, nil
}

// SetActive enables or disables an agent. Inactive agents keep their leads but are
// never picked by distribution.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (*models.Agent, error) {
	ctx, span := tracing.StartSpan(ctx, "agent.SetActive")
	defer span.End()

	if err := s.agents.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.agents.Get(ctx, id)
}

// Delete removes an agent that owns no leads.
func (s *Service) Delete(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "agent.Delete")
	defer span.End()

	if _, err := s.agents.Get(ctx, id); err != nil {
		return err
	}

	count, err := s.leads.CountByAgent(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return httperror.NewHTTPErrorf(http.StatusConflict, "agent still has %d assigned leads", count)
	}

	return s.agents.Delete(ctx, id)
}
