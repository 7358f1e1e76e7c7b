package agents

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	agentservice "github.com/Ramsey-B/clover/internal/services/agent"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/utils"
)

type AgentService interface {
	List(ctx context.Context, includeInactive bool) ([]models.Agent, error)
	Get(ctx context.Context, id string) (*models.Agent, error)
	Create(ctx context.Context, req agentservice.CreateRequest) (*models.Agent, error)
	SetActive(ctx context.Context, id string, active bool) (*models.Agent, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	agents AgentService
}

func NewHandler(agents AgentService) *Handler {
	return &Handler{agents: agents}
}

// Register registers the agent routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("", h.Create, middleware.RequireAdmin())
	g.PATCH("/:id/active", h.SetActive, middleware.RequireAdmin())
	g.DELETE("/:id", h.Delete, middleware.RequireAdmin())
}

type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// List handles GET /agents
func (h *Handler) List(c echo.Context) error {
	includeInactive, err := utils.QueryBool(c, "include_inactive")
	if err != nil {
		return err
	}

	agents, err := h.agents.List(c.Request().Context(), includeInactive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agents)
}

// Get handles GET /agents/:id
func (h *Handler) Get(c echo.Context) error {
	agent, err := h.agents.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

// Create handles POST /agents
func (h *Handler) Create(c echo.Context) error {
	req, err := utils.BindRequest[agentservice.CreateRequest](c)
	if err != nil {
		return err
	}

	agent, err := h.agents.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, agent)
}

// SetActive handles PATCH /agents/:id/active
func (h *Handler) SetActive(c echo.Context) error {
	req, err := utils.BindRequest[SetActiveRequest](c)
	if err != nil {
		return err
	}

	agent, err := h.agents.SetActive(c.Request().Context(), c.Param("id"), *req.Active)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, agent)
}

// Delete handles DELETE /agents/:id
func (h *Handler) Delete(c echo.Context) error {
	if err := h.agents.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
