package imports

import (
	"context"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	importservice "github.com/Ramsey-B/clover/internal/services/imports"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/sheet"
	"github.com/Ramsey-B/clover/pkg/utils"
)

const defaultListLimit = 20

type ImportService interface {
	Upload(ctx context.Context, originalName string, r io.Reader) (*sheet.Preview, error)
	Preview(ctx context.Context, filename string) (*sheet.Preview, error)
	Process(ctx context.Context, req importservice.ProcessRequest) (*models.ImportRun, error)
	Enqueue(ctx context.Context, req importservice.ProcessRequest) (*importservice.Queued, error)
	Get(ctx context.Context, id string) (*models.ImportRun, error)
	List(ctx context.Context, limit int) ([]models.ImportRun, error)
}

type Handler struct {
	imports ImportService
}

func NewHandler(imports ImportService) *Handler {
	return &Handler{imports: imports}
}

// Register registers the import routes. Every import route is admin only.
func (h *Handler) Register(g *echo.Group) {
	admin := middleware.RequireAdmin()
	g.POST("/upload", h.Upload, admin)
	g.GET("/upload/:filename/preview", h.Preview, admin)
	g.POST("/process", h.Process, admin)
	g.GET("", h.List, admin)
	g.GET("/:id", h.Get, admin)
}

// Upload stores a spreadsheet and returns its preview
// @Summary Upload lead file
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "CSV or XLSX file"
// @Success 201 {object} sheet.Preview
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 413 {object} middleware.ErrorResponse
// @Router /api/v1/imports/upload [post]
func (h *Handler) Upload(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file is required")
	}

	file, err := fh.Open()
	if err != nil {
		return httperror.WrapError(http.StatusBadRequest, err)
	}
	defer file.Close()

	preview, err := h.imports.Upload(c.Request().Context(), fh.Filename, file)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, preview)
}

// Preview returns the header and first rows of an uploaded file
// @Summary Preview uploaded file
// @Tags Imports
// @Produce json
// @Param filename path string true "Stored filename"
// @Success 200 {object} sheet.Preview
// @Router /api/v1/imports/upload/{filename}/preview [get]
func (h *Handler) Preview(c echo.Context) error {
	preview, err := h.imports.Preview(c.Request().Context(), c.Param("filename"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, preview)
}

// Process runs the import for an uploaded file. With async=true the run is queued instead.
// @Summary Process uploaded file
// @Tags Imports
// @Accept json
// @Produce json
// @Param async query bool false "Queue the import for the worker"
// @Param body body importservice.ProcessRequest true "Column mapping"
// @Success 200 {object} models.ImportRun
// @Success 202 {object} importservice.Queued
// @Failure 409 {object} middleware.ErrorResponse
// @Failure 500 {object} middleware.ErrorResponse
// @Router /api/v1/imports/process [post]
func (h *Handler) Process(c echo.Context) error {
	async, err := utils.QueryBool(c, "async")
	if err != nil {
		return err
	}

	req, err := utils.BindRequest[importservice.ProcessRequest](c)
	if err != nil {
		return err
	}

	if async {
		queued, err := h.imports.Enqueue(c.Request().Context(), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, queued)
	}

	run, err := h.imports.Process(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// List returns the caller's import runs, newest first
// @Summary List import runs
// @Tags Imports
// @Produce json
// @Success 200 {array} models.ImportRun
// @Router /api/v1/imports [get]
func (h *Handler) List(c echo.Context) error {
	limit, err := utils.QueryInt(c, "limit", defaultListLimit)
	if err != nil {
		return err
	}

	runs, err := h.imports.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// Get returns one import run with its logs
// @Summary Get import run
// @Tags Imports
// @Produce json
// @Param id path string true "Import run ID"
// @Success 200 {object} models.ImportRun
// @Router /api/v1/imports/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	run, err := h.imports.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
