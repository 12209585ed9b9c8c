package runs

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/orchestrator"
	"github.com/Ramsey-B/sorrel/pkg/validation"
)

// Runner starts and reports on matching runs
type Runner interface {
	Trigger(ctx context.Context, req models.RunRequest) (string, error)
	Status(ctx context.Context, jobID string) (*models.RunSummary, error)
	Cancel(jobID string) bool
}

type Handler struct {
	runner Runner
	logger ectologger.Logger
}

func NewHandler(runner Runner, logger ectologger.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register registers run routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.TriggerRun)
	g.GET("/:id", h.GetRun)
	g.POST("/:id/cancel", h.CancelRun)
}

// TriggerResponse acknowledges an accepted run
type TriggerResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// TriggerRun starts a run in the background and returns its job id
func (h *Handler) TriggerRun(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.RunRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Mode == "" {
		req.Mode = models.RunModeIncremental
	}
	if err := validation.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	jobID, err := h.runner.Trigger(ctx, req)
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("a run is already in progress for scope %s", req.Scope()))
	case errors.Is(err, orchestrator.ErrInvalidMode):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":     jobID,
		"mode":       string(req.Mode),
		"company_id": req.CompanyID,
	}).Info("Accepted matching run")

	return c.JSON(http.StatusAccepted, TriggerResponse{JobID: jobID, Status: string(models.RunStatusRunning)})
}

// GetRun returns the live or persisted summary of a run
func (h *Handler) GetRun(c echo.Context) error {
	summary, err := h.runner.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, summary)
}

// CancelRun stops a run started by this process between batches
func (h *Handler) CancelRun(c echo.Context) error {
	jobID := c.Param("id")
	if !h.runner.Cancel(jobID) {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("run %s is not active", jobID))
	}
	return c.JSON(http.StatusAccepted, TriggerResponse{JobID: jobID, Status: "cancelling"})
}
