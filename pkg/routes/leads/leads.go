package leads

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	leadservice "github.com/Ramsey-B/clover/internal/services/lead"
	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const defaultPageSize = 50

type LeadService interface {
	Get(ctx context.Context, id string) (*models.Lead, error)
	List(ctx context.Context, filter models.LeadListFilter) ([]models.Lead, error)
	UpdateStatus(ctx context.Context, id string, req leadservice.StatusRequest) (*models.Lead, error)
	Stats(ctx context.Context) (leadservice.Stats, error)
}

type Distributor interface {
	Distribute(ctx context.Context, req distribution.Request) (distribution.Result, error)
}

type Assigner interface {
	Reassign(ctx context.Context, leadID, agentID string) error
	AssignMany(ctx context.Context, leadIDs []string, agentID string) (distribution.AssignManyResult, error)
}

// Handler serves the lead tracking and distribution endpoints
type Handler struct {
	leads    LeadService
	planner  Distributor
	assigner Assigner
	logger   ectologger.Logger
}

func NewHandler(leads LeadService, planner Distributor, assigner Assigner, logger ectologger.Logger) *Handler {
	return &Handler{
		leads:    leads,
		planner:  planner,
		assigner: assigner,
		logger:   logger,
	}
}

// Register registers the lead routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/stats", h.Stats)
	g.GET("/:id", h.Get)
	g.PATCH("/:id/status", h.UpdateStatus)

	g.POST("/distribute", h.Distribute, middleware.RequireAdmin())
	g.POST("/assign", h.AssignMany, middleware.RequireAdmin())
	g.PUT("/:id/assign", h.Assign, middleware.RequireAdmin())
}

// DistributeRequest is the body of POST /leads/distribute
type DistributeRequest struct {
	Strategy string `json:"strategy" validate:"omitempty,oneof=equitable regional"`
	Quantity int    `json:"quantity" validate:"gte=0"`
	Criteria struct {
		Status   string `json:"status"`
		Province string `json:"province"`
	} `json:"criteria"`
	UserIDs []string `json:"user_ids"`
	// UserID is the single-agent form kept for older clients.
	UserID string `json:"user_id"`
}

type AssignRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type AssignManyRequest struct {
	LeadIDs []string `json:"lead_ids" validate:"required,min=1,dive,required"`
	AgentID string   `json:"agent_id" validate:"required"`
}

// List returns leads
// @Summary List leads
// @Tags Leads
// @Produce json
// @Param status query string false "Lead status"
// @Param province query string false "Province"
// @Param assigned_to query string false "Agent ID"
// @Param unassigned query bool false "Only unassigned leads"
// @Success 200 {array} models.Lead
// @Router /api/v1/leads [get]
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	status, err := parseOptionalStatus(c.QueryParam("status"))
	if err != nil {
		return err
	}
	unassigned, err := utils.QueryBool(c, "unassigned")
	if err != nil {
		return err
	}
	limit, err := utils.QueryInt(c, "limit", defaultPageSize)
	if err != nil {
		return err
	}
	offset, err := utils.QueryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	leads, err := h.leads.List(ctx, models.LeadListFilter{
		Status:     status,
		Province:   c.QueryParam("province"),
		AssignedTo: c.QueryParam("assigned_to"),
		Unassigned: unassigned,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, leads)
}

// Get returns one lead
// @Summary Get lead
// @Tags Leads
// @Produce json
// @Param id path string true "Lead ID"
// @Success 200 {object} models.Lead
// @Failure 404 {object} httperror.HTTPError
// @Router /api/v1/leads/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	lead, err := h.leads.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lead)
}

// UpdateStatus records a status change
// @Summary Update lead status
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param body body leadservice.StatusRequest true "Status change"
// @Success 200 {object} models.Lead
// @Router /api/v1/leads/{id}/status [patch]
func (h *Handler) UpdateStatus(c echo.Context) error {
	req, err := utils.BindRequest[leadservice.StatusRequest](c)
	if err != nil {
		return err
	}

	lead, err := h.leads.UpdateStatus(c.Request().Context(), c.Param("id"), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lead)
}

// Stats returns lead counts by status
// @Summary Lead stats
// @Tags Leads
// @Produce json
// @Success 200 {object} leadservice.Stats
// @Router /api/v1/leads/stats [get]
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.leads.Stats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// Distribute assigns unassigned leads to agents
// @Summary Distribute leads
// @Tags Leads
// @Accept json
// @Produce json
// @Param body body DistributeRequest true "Distribution request"
// @Success 200 {object} distribution.Result
// @Failure 400 {object} middleware.ErrorResponse
// @Router /api/v1/leads/distribute [post]
func (h *Handler) Distribute(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[DistributeRequest](c)
	if err != nil {
		return err
	}

	strategy, err := distribution.ParseStrategy(req.Strategy)
	if err != nil {
		return err
	}
	status, err := parseOptionalStatus(req.Criteria.Status)
	if err != nil {
		return err
	}

	result, err := h.planner.Distribute(ctx, distribution.Request{
		Strategy: strategy,
		Quantity: req.Quantity,
		Criteria: distribution.Criteria{
			Status:   status,
			Province: req.Criteria.Province,
		},
		AgentIDs:      req.UserIDs,
		LegacyAgentID: req.UserID,
		AssignedBy:    appctx.GetUserID(ctx),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// Assign gives one lead to an agent, moving it if it already has an owner
// @Summary Assign lead
// @Tags Leads
// @Accept json
// @Produce json
// @Param id path string true "Lead ID"
// @Param body body AssignRequest true "Target agent"
// @Success 200 {object} models.Lead
// @Router /api/v1/leads/{id}/assign [put]
func (h *Handler) Assign(c echo.Context) error {
	ctx := c.Request().Context()

	req, err := utils.BindRequest[AssignRequest](c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if err := h.assigner.Reassign(ctx, id, req.AgentID); err != nil {
		return err
	}

	lead, err := h.leads.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lead)
}

// AssignMany gives an explicit list of leads to one agent
// @Summary Bulk assign leads
// @Tags Leads
// @Accept json
// @Produce json
// @Param body body AssignManyRequest true "Leads and target agent"
// @Success 200 {object} distribution.AssignManyResult
// @Router /api/v1/leads/assign [post]
func (h *Handler) AssignMany(c echo.Context) error {
	req, err := utils.BindRequest[AssignManyRequest](c)
	if err != nil {
		return err
	}

	result, err := h.assigner.AssignMany(c.Request().Context(), req.LeadIDs, req.AgentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func parseOptionalStatus(raw string) (models.LeadStatus, error) {
	if raw == "" {
		return "", nil
	}
	status, err := models.ParseLeadStatus(raw)
	if err != nil {
		return "", httperror.WrapError(http.StatusBadRequest, err)
	}
	return status, nil
}
