package distribution

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var (
	ErrAlreadyAssigned = errors.New("lead is already assigned")
	ErrLeadNotFound    = errors.New("lead not found")
	ErrAgentNotFound   = errors.New("agent not found or inactive")
)

// LeadStore is the lead persistence used for assignment. Assign and Reassign are
// compare-and-set writes: they return false when the lead's current owner is not the
// expected one (nobody for Assign, from for Reassign).
type LeadStore interface {
	FindByID(ctx context.Context, id string) (*models.Lead, error)
	ListUnassigned(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error)
	Assign(ctx context.Context, leadID, agentID string, at time.Time) (bool, error)
	Reassign(ctx context.Context, leadID, fromAgentID, toAgentID string, at time.Time) (bool, error)
}

type AgentStore interface {
	FindActive(ctx context.Context, filter models.AgentFilter) ([]models.Agent, error)
	IncrementCounter(ctx context.Context, agentID string, counter models.AgentCounter, delta int) error
}

// Transactor runs fn in one database transaction. *database.Transactor satisfies it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// Assigner is the shared primitive behind every assignment: set the owner with a
// compare-and-set and move the agents' lead counters in the same transaction.
type Assigner struct {
	leads  LeadStore
	agents AgentStore
	tx     Transactor
	logger ectologger.Logger
	now    func() time.Time
}

func NewAssigner(leads LeadStore, agents AgentStore, tx Transactor, logger ectologger.Logger) *Assigner {
	if tx == nil {
		tx = directTx{}
	}
	return &Assigner{
		leads:  leads,
		agents: agents,
		tx:     tx,
		logger: logger,
		now:    time.Now,
	}
}

// claim assigns an unassigned lead. It returns false when another writer got there first.
func (a *Assigner) claim(ctx context.Context, leadID, agentID string) (bool, error) {
	var claimed bool
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := a.leads.Assign(ctx, leadID, agentID, a.now().UTC())
		if err != nil || !ok {
			return err
		}
		if err := a.agents.IncrementCounter(ctx, agentID, models.AgentCounterTotalLeads, 1); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !claimed {
		metrics.AssignConflictsTotal.Inc()
	}
	return claimed, nil
}

func (a *Assigner) move(ctx context.Context, leadID, fromAgentID, toAgentID string) (bool, error) {
	var moved bool
	err := a.tx.InTx(ctx, func(ctx context.Context) error {
		ok, err := a.leads.Reassign(ctx, leadID, fromAgentID, toAgentID, a.now().UTC())
		if err != nil || !ok {
			return err
		}
		if err := a.agents.IncrementCounter(ctx, fromAgentID, models.AgentCounterTotalLeads, -1); err != nil {
			return err
		}
		if err := a.agents.IncrementCounter(ctx, toAgentID, models.AgentCounterTotalLeads, 1); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !moved {
		metrics.AssignConflictsTotal.Inc()
	}
	return moved, nil
}

func (a *Assigner) activeAgent(ctx context.Context, agentID string) error {
	agents, err := a.agents.FindActive(ctx, models.AgentFilter{IDs: []string{agentID}})
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// Assign gives an unassigned lead to agentID.
func (a *Assigner) Assign(ctx context.Context, leadID, agentID string) error {
	ctx, span := tracing.StartSpan(ctx, "distribution.Assigner.Assign")
	defer span.End()

	if err := a.activeAgent(ctx, agentID); err != nil {
		return err
	}

	ok, err := a.claim(ctx, leadID, agentID)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	if !ok {
		return ErrAlreadyAssigned
	}
	return nil
}

// Reassign gives a lead to agentID whether or not it is assigned. It is a no-op when
// the lead already belongs to agentID.
func (a *Assigner) Reassign(ctx context.Context, leadID, agentID string) error {
	ctx, span := tracing.StartSpan(ctx, "distribution.Assigner.Reassign")
	defer span.End()

	if err := a.activeAgent(ctx, agentID); err != nil {
		return err
	}

	_, err := a.reassign(ctx, leadID, agentID)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (a *Assigner) reassign(ctx context.Context, leadID, agentID string) (bool, error) {
	lead, err := a.leads.FindByID(ctx, leadID)
	if err != nil {
		return false, err
	}
	if lead == nil {
		return false, ErrLeadNotFound
	}

	current := lead.AssignedAgent()
	if current == agentID {
		return false, nil
	}

	var ok bool
	if current == "" {
		ok, err = a.claim(ctx, leadID, agentID)
	} else {
		ok, err = a.move(ctx, leadID, current, agentID)
	}
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrAlreadyAssigned
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"lead_id":    leadID,
		"from_agent": current,
		"to_agent":   agentID,
	}).Debug("Lead assigned")
	return true, nil
}

type AssignManyResult struct {
	AssignedCount int      `json:"assigned_count"`
	Skipped       []string `json:"skipped,omitempty"`
}

// AssignMany gives each listed lead to agentID. Leads that vanish or change owner
// concurrently are skipped; other errors stop the loop and return what was done so far.
func (a *Assigner) AssignMany(ctx context.Context, leadIDs []string, agentID string) (AssignManyResult, error) {
	ctx, span := tracing.StartSpan(ctx, "distribution.Assigner.AssignMany")
	defer span.End()

	var res AssignManyResult
	if err := a.activeAgent(ctx, agentID); err != nil {
		return res, err
	}

	for _, id := range leadIDs {
		ok, err := a.reassign(ctx, id, agentID)
		switch {
		case errors.Is(err, ErrLeadNotFound), errors.Is(err, ErrAlreadyAssigned):
			res.Skipped = append(res.Skipped, id)
		case err != nil:
			tracing.RecordError(span, err)
			return res, err
		case ok:
			res.AssignedCount++
		}
	}
	return res, nil
}
