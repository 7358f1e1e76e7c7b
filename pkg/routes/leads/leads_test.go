package leads

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	leadservice "github.com/Ramsey-B/clover/internal/services/lead"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeLeadService struct {
	filters  []models.LeadListFilter
	statuses []leadservice.StatusRequest
}

func (f *fakeLeadService) Get(_ context.Context, id string) (*models.Lead, error) {
	if id != "l1" {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lead not found")
	}
	agent := "a1"
	return &models.Lead{ID: "l1", Name: "Shop", AssignedTo: &agent}, nil
}

func (f *fakeLeadService) List(_ context.Context, filter models.LeadListFilter) ([]models.Lead, error) {
	f.filters = append(f.filters, filter)
	return []models.Lead{{ID: "l1"}}, nil
}

func (f *fakeLeadService) UpdateStatus(_ context.Context, id string, req leadservice.StatusRequest) (*models.Lead, error) {
	f.statuses = append(f.statuses, req)
	return &models.Lead{ID: id, Status: models.LeadStatus(req.Status)}, nil
}

func (f *fakeLeadService) Stats(context.Context) (leadservice.Stats, error) {
	return leadservice.Stats{Total: 3, ByStatus: map[models.LeadStatus]int{models.LeadStatusWon: 3}}, nil
}

type fakePlanner struct {
	requests []distribution.Request
	err      error
}

func (f *fakePlanner) Distribute(_ context.Context, req distribution.Request) (distribution.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return distribution.Result{}, f.err
	}
	return distribution.Result{AssignedCount: 10, PerAgent: map[string]int{"a1": 4, "a2": 3, "a3": 3}}, nil
}

type fakeAssigner struct {
	reassigned map[string]string
}

func (f *fakeAssigner) Reassign(_ context.Context, leadID, agentID string) error {
	if agentID == "ghost" {
		return distribution.ErrAgentNotFound
	}
	f.reassigned[leadID] = agentID
	return nil
}

func (f *fakeAssigner) AssignMany(_ context.Context, leadIDs []string, agentID string) (distribution.AssignManyResult, error) {
	for _, id := range leadIDs {
		f.reassigned[id] = agentID
	}
	return distribution.AssignManyResult{AssignedCount: len(leadIDs)}, nil
}

type fixture struct {
	e        *echo.Echo
	leads    *fakeLeadService
	planner  *fakePlanner
	assigner *fakeAssigner
}

func newFixture() *fixture {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	f := &fixture{
		e:        echo.New(),
		leads:    &fakeLeadService{},
		planner:  &fakePlanner{},
		assigner: &fakeAssigner{reassigned: map[string]string{}},
	}
	f.e.HTTPErrorHandler = middleware.Error(logger)
	f.e.Use(middleware.Context(), middleware.TestAuth())

	g := f.e.Group("/api/v1/leads", middleware.RequireUser())
	NewHandler(f.leads, f.planner, f.assigner, logger).Register(g)
	return f
}

func (f *fixture) do(method, target, body, role string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderUserID, "u1")
	req.Header.Set(middleware.HeaderUserRole, role)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestDistribute(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPost, "/api/v1/leads/distribute",
		`{"strategy":"equitable","quantity":10,"criteria":{"status":"uncontacted","province":"Salta"},"user_ids":["a1","a2","a3"]}`, "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result distribution.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 10, result.AssignedCount)
	assert.Equal(t, 4, result.PerAgent["a1"])

	require.Len(t, f.planner.requests, 1)
	got := f.planner.requests[0]
	assert.Equal(t, distribution.StrategyEquitable, got.Strategy)
	assert.Equal(t, models.LeadStatusUncontacted, got.Criteria.Status)
	assert.Equal(t, "Salta", got.Criteria.Province)
	assert.Equal(t, []string{"a1", "a2", "a3"}, got.AgentIDs)
	assert.Equal(t, "u1", got.AssignedBy)
}

func TestDistribute_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		role     string
		plannerErr error
		wantCode int
	}{
		{name: "agents cannot distribute", body: `{"quantity":1}`, role: "agent", wantCode: http.StatusForbidden},
		{name: "unknown strategy", body: `{"strategy":"random"}`, role: "admin", wantCode: http.StatusBadRequest},
		{name: "unknown status", body: `{"criteria":{"status":"archived"}}`, role: "admin", wantCode: http.StatusBadRequest},
		{name: "no targets", body: `{"quantity":5}`, role: "admin", plannerErr: distribution.ErrNoTargets, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.planner.err = tt.plannerErr

			rec := f.do(http.MethodPost, "/api/v1/leads/distribute", tt.body, tt.role)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestListAndStats(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodGet, "/api/v1/leads?status=won&province=Salta&unassigned=true&limit=10&offset=20", "", "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.leads.filters, 1)
	assert.Equal(t, models.LeadListFilter{
		Status:     models.LeadStatusWon,
		Province:   "Salta",
		Unassigned: true,
		Limit:      10,
		Offset:     20,
	}, f.leads.filters[0])

	rec = f.do(http.MethodGet, "/api/v1/leads?limit=abc", "", "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/leads/stats", "", "agent")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats leadservice.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 3, stats.Total)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPatch, "/api/v1/leads/l1/status", `{"status":"contacted","note":"first call"}`, "agent")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.leads.statuses, 1)
	assert.Equal(t, "first call", f.leads.statuses[0].Note)

	rec = f.do(http.MethodPatch, "/api/v1/leads/l1/status", `{}`, "agent")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssign(t *testing.T) {
	f := newFixture()

	rec := f.do(http.MethodPut, "/api/v1/leads/l1/assign", `{"agent_id":"a2"}`, "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "a2", f.assigner.reassigned["l1"])

	rec = f.do(http.MethodPut, "/api/v1/leads/l1/assign", `{"agent_id":"ghost"}`, "admin")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/leads/assign", `{"lead_ids":["l2","l3"],"agent_id":"a1"}`, "admin")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result distribution.AssignManyResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.AssignedCount)

	rec = f.do(http.MethodPost, "/api/v1/leads/assign", `{"lead_ids":[],"agent_id":"a1"}`, "admin")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
