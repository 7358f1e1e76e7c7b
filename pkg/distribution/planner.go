// Package distribution assigns unassigned leads to agents.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var (
	// ErrNoTargets is returned before any assignment when the roster resolves to nobody.
	ErrNoTargets       = errors.New("no active agents to distribute to")
	ErrInvalidStrategy = errors.New("invalid distribution strategy")
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
)

type Strategy string

const (
	StrategyEquitable Strategy = "equitable"
	StrategyRegional  Strategy = "regional"
)

func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", StrategyEquitable:
		return StrategyEquitable, nil
	case StrategyRegional:
		return StrategyRegional, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, raw)
	}
}

type Criteria struct {
	Status   models.LeadStatus `json:"status,omitempty"`
	Province string            `json:"province,omitempty"`
}

type Request struct {
	Strategy Strategy
	Quantity int
	Criteria Criteria
	// AgentIDs is the explicit roster. When empty LegacyAgentID is used, and when
	// that is empty too every active agent is a target.
	AgentIDs      []string
	LegacyAgentID string
	AssignedBy    string
}

type Result struct {
	AssignedCount int            `json:"assigned_count"`
	PerAgent      map[string]int `json:"per_agent"`
	Skipped       int            `json:"skipped,omitempty"`
}

type Planner struct {
	leads    LeadStore
	agents   AgentStore
	assigner *Assigner
	cache    cache.Cache
	emitter  *events.Emitter
	logger   ectologger.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

type Options struct {
	// Rand drives the regional pick. Defaults to a time seeded source.
	Rand    *rand.Rand
	Cache   cache.Cache
	Emitter *events.Emitter
}

func NewPlanner(assigner *Assigner, logger ectologger.Logger, opts Options) *Planner {
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Planner{
		leads:    assigner.leads,
		agents:   assigner.agents,
		assigner: assigner,
		cache:    opts.Cache,
		emitter:  opts.Emitter,
		logger:   logger,
		rand:     r,
	}
}

// Roster resolves the target agents for req, in assignment order.
func (p *Planner) Roster(ctx context.Context, req Request) ([]models.Agent, error) {
	ids := req.AgentIDs
	if len(ids) == 0 && req.LegacyAgentID != "" {
		ids = []string{req.LegacyAgentID}
	}

	if len(ids) == 0 {
		return p.agents.FindActive(ctx, models.AgentFilter{})
	}

	found, err := p.agents.FindActive(ctx, models.AgentFilter{IDs: ids})
	if err != nil {
		return nil, err
	}

	roster := make([]models.Agent, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		agent := ectolinq.Find(found, func(a models.Agent) bool { return a.ID == id })
		if agent.ID != "" {
			roster = append(roster, agent)
		}
	}
	return roster, nil
}

// Distribute assigns up to req.Quantity unassigned leads matching req.Criteria. Leads
// are claimed one at a time; on error the leads already assigned stay assigned and the
// partial result is returned with the error.
func (p *Planner) Distribute(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "distribution.Planner.Distribute")
	defer span.End()

	result := Result{PerAgent: map[string]int{}}

	strategy, err := ParseStrategy(string(req.Strategy))
	if err != nil {
		return result, err
	}
	if req.Quantity <= 0 {
		return result, ErrInvalidQuantity
	}

	roster, err := p.Roster(ctx, req)
	if err != nil {
		return result, err
	}
	if len(roster) == 0 {
		return result, ErrNoTargets
	}

	leads, err := p.leads.ListUnassigned(ctx, models.LeadListFilter{
		Status:     req.Criteria.Status,
		Province:   req.Criteria.Province,
		Unassigned: true,
		Limit:      req.Quantity,
	})
	if err != nil {
		return result, err
	}

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"strategy":    strategy,
		"quantity":    req.Quantity,
		"pool":        len(leads),
		"roster_size": len(roster),
	})

	for i, lead := range leads {
		if i >= req.Quantity {
			break
		}

		var agent models.Agent
		switch strategy {
		case StrategyRegional:
			agent = p.pickRegional(lead, roster)
		default:
			agent = roster[i%len(roster)]
		}

		ok, err := p.assigner.claim(ctx, lead.ID, agent.ID)
		if err != nil {
			tracing.RecordError(span, err)
			log.WithError(err).WithField("assigned_count", result.AssignedCount).Error("Distribution stopped")
			p.finish(ctx, strategy, req, result)
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		result.AssignedCount++
		result.PerAgent[agent.ID]++
	}

	log.WithFields(map[string]any{
		"assigned_count": result.AssignedCount,
		"skipped":        result.Skipped,
	}).Info("Leads distributed")

	p.finish(ctx, strategy, req, result)
	return result, nil
}

// pickRegional picks uniformly among roster agents in the lead's province, or among the
// whole roster when none matches.
func (p *Planner) pickRegional(lead models.Lead, roster []models.Agent) models.Agent {
	province := strings.TrimSpace(lead.Province)
	candidates := ectolinq.Filter(roster, func(a models.Agent) bool {
		return province != "" && strings.EqualFold(strings.TrimSpace(a.Province), province)
	})
	if len(candidates) == 0 {
		candidates = roster
	}

	p.randMu.Lock()
	idx := p.rand.Intn(len(candidates))
	p.randMu.Unlock()

	return candidates[idx]
}

func (p *Planner) finish(ctx context.Context, strategy Strategy, req Request, result Result) {
	if result.AssignedCount == 0 {
		return
	}

	metrics.LeadsAssignedTotal.WithLabelValues(string(strategy)).Add(float64(result.AssignedCount))

	if p.cache != nil {
		if err := p.cache.Delete(ctx, cache.StatsKey); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to invalidate stats cache")
		}
	}

	p.emitter.LeadsAssigned(ctx, string(strategy), result.AssignedCount, result.PerAgent, req.AssignedBy)
}
