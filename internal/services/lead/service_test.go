package lead

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/cache"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeLeads struct {
	leads       map[string]*models.Lead
	countCalls  int
	lastUpdate  models.StatusUpdate
	lastFilters []models.LeadListFilter
}

func (f *fakeLeads) GetByID(_ context.Context, id string) (*models.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) List(_ context.Context, filter models.LeadListFilter) ([]models.Lead, error) {
	f.lastFilters = append(f.lastFilters, filter)
	return []models.Lead{}, nil
}

func (f *fakeLeads) UpdateStatus(_ context.Context, id string, update models.StatusUpdate) (*models.Lead, error) {
	f.lastUpdate = update
	l := f.leads[id]
	l.Status = update.Status
	l.StatusHistory = append(l.StatusHistory, update.Change())
	if update.Contacted {
		at := update.ChangedAt
		l.LastContact = &at
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) MarkFirstContact(_ context.Context, id string, at time.Time) (bool, error) {
	l, ok := f.leads[id]
	if !ok || l.LastContact != nil {
		return false, nil
	}
	l.LastContact = &at
	return true, nil
}

func (f *fakeLeads) CountByStatus(_ context.Context, agentID string) ([]models.StatusCount, error) {
	f.countCalls++
	if agentID != "" {
		return []models.StatusCount{{Status: models.LeadStatusContacted, Count: 1}}, nil
	}
	return []models.StatusCount{
		{Status: models.LeadStatusUncontacted, Count: 5},
		{Status: models.LeadStatusWon, Count: 2},
	}, nil
}

type fakeCounters struct {
	increments map[string]int
}

func (f *fakeCounters) IncrementCounter(_ context.Context, id string, counter models.AgentCounter, delta int) error {
	f.increments[id+"/"+string(counter)] += delta
	return nil
}

type directTx struct{}

func (directTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func strPtr(s string) *string { return &s }

func newTestService() (*Service, *fakeLeads, *fakeCounters, *cache.Memory) {
	leads := &fakeLeads{leads: map[string]*models.Lead{
		"l1": {ID: "l1", Name: "Shop", Status: models.LeadStatusUncontacted, AssignedTo: strPtr("agent-1")},
		"l2": {ID: "l2", Name: "Kiosk", Status: models.LeadStatusUncontacted},
	}}
	counters := &fakeCounters{increments: map[string]int{}}
	mem := cache.NewMemory()
	svc := NewService(leads, counters, directTx{}, mem, time.Minute, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	svc.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return svc, leads, counters, mem
}

func asAgent(id string) context.Context {
	ctx := appctx.SetUserID(context.Background(), id)
	return appctx.SetUserRole(ctx, appctx.RoleAgent)
}

func asAdmin() context.Context {
	ctx := appctx.SetUserID(context.Background(), "admin-1")
	return appctx.SetUserRole(ctx, appctx.RoleAdmin)
}

func TestService_UpdateStatus_CountsFirstContactOnce(t *testing.T) {
	svc, leads, counters, _ := newTestService()
	ctx := asAgent("agent-1")

	lead, err := svc.UpdateStatus(ctx, "l1", StatusRequest{Status: "Contacted", Note: "left a message", NextAction: strPtr("call again")})
	require.NoError(t, err)

	assert.Equal(t, models.LeadStatusContacted, lead.Status)
	require.Len(t, lead.StatusHistory, 1)
	assert.Equal(t, "agent-1", lead.StatusHistory[0].ChangedBy)
	assert.Equal(t, "left a message", lead.StatusHistory[0].Note)
	require.NotNil(t, lead.LastContact)
	assert.Equal(t, "call again", *leads.lastUpdate.NextAction)
	assert.Equal(t, 1, counters.increments["agent-1/total_contacted"])

	_, err = svc.UpdateStatus(ctx, "l1", StatusRequest{Status: "interested"})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.increments["agent-1/total_contacted"])
}

func TestService_UpdateStatus_ReturnToUncontactedDoesNotRecount(t *testing.T) {
	svc, leads, counters, _ := newTestService()
	ctx := asAgent("agent-1")

	for _, status := range []string{"contacted", "uncontacted", "contacted", "meeting"} {
		_, err := svc.UpdateStatus(ctx, "l1", StatusRequest{Status: status})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, counters.increments["agent-1/total_contacted"])
	assert.Equal(t, models.LeadStatusMeeting, leads.leads["l1"].Status)
	assert.Len(t, leads.leads["l1"].StatusHistory, 4)
}

func TestService_UpdateStatus_PreviouslyContactedLeadIsNotCounted(t *testing.T) {
	svc, leads, counters, _ := newTestService()
	contacted := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	leads.leads["l1"].LastContact = &contacted

	_, err := svc.UpdateStatus(asAgent("agent-1"), "l1", StatusRequest{Status: "interested"})
	require.NoError(t, err)
	assert.Zero(t, counters.increments["agent-1/total_contacted"])
}

func TestService_UpdateStatus_Errors(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.UpdateStatus(asAdmin(), "l1", StatusRequest{Status: "archived"})
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	// agents cannot touch leads they do not own
	_, err = svc.UpdateStatus(asAgent("agent-2"), "l1", StatusRequest{Status: "contacted"})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))

	_, err = svc.UpdateStatus(asAdmin(), "missing", StatusRequest{Status: "contacted"})
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestService_UpdateStatus_UnassignedLeadHasNoCounter(t *testing.T) {
	svc, _, counters, _ := newTestService()

	_, err := svc.UpdateStatus(asAdmin(), "l2", StatusRequest{Status: "lost"})
	require.NoError(t, err)
	assert.Empty(t, counters.increments)
}

func TestService_List_ScopesAgents(t *testing.T) {
	svc, leads, _, _ := newTestService()

	_, err := svc.List(asAgent("agent-1"), models.LeadListFilter{Unassigned: true})
	require.NoError(t, err)
	_, err = svc.List(asAdmin(), models.LeadListFilter{Unassigned: true})
	require.NoError(t, err)

	require.Len(t, leads.lastFilters, 2)
	assert.Equal(t, "agent-1", leads.lastFilters[0].AssignedTo)
	assert.False(t, leads.lastFilters[0].Unassigned)
	assert.True(t, leads.lastFilters[1].Unassigned)
}

func TestService_Stats_CachedForAdmins(t *testing.T) {
	svc, leads, _, mem := newTestService()

	stats, err := svc.Stats(asAdmin())
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Total)
	assert.Equal(t, 5, stats.ByStatus[models.LeadStatusUncontacted])
	assert.Equal(t, 0, stats.ByStatus[models.LeadStatusMeeting])

	_, err = svc.Stats(asAdmin())
	require.NoError(t, err)
	assert.Equal(t, 1, leads.countCalls)

	// a status change invalidates the cached stats
	_, err = svc.UpdateStatus(asAdmin(), "l2", StatusRequest{Status: "contacted"})
	require.NoError(t, err)
	_, err = mem.Get(context.Background(), cache.StatsKey)
	assert.ErrorIs(t, err, cache.ErrMiss)

	agentStats, err := svc.Stats(asAgent("agent-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, agentStats.Total)
}
