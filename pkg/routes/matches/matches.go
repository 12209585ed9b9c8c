package matches

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	reqctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/validation"
)

// ReviewJobID tags events produced by a human review rather than a run
const ReviewJobID = "review"

// Store reads matches and records review decisions
type Store interface {
	Get(ctx context.Context, id string) (*models.Match, error)
	List(ctx context.Context, filter models.MatchFilter) ([]*models.Match, error)
	Review(ctx context.Context, id string, status models.MatchStatus) (*models.Match, error)
}

type Handler struct {
	store    Store
	listener events.Listener
	logger   ectologger.Logger
}

// NewHandler creates the match handler. listener may be nil.
func NewHandler(store Store, listener events.Listener, logger ectologger.Logger) *Handler {
	return &Handler{store: store, listener: listener, logger: logger}
}

// Register registers match routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.ListMatches)
	g.GET("/:id", h.GetMatch)
	g.POST("/:id/review", h.ReviewMatch)
}

// ListResponse wraps a page of matches
type ListResponse struct {
	Matches []*models.Match `json:"matches"`
	Count   int             `json:"count"`
}

// ListMatches lists matches narrowed by query filters. The X-Company-ID header
// is used when company_id is not given.
func (h *Handler) ListMatches(c echo.Context) error {
	ctx := c.Request().Context()

	var filter models.MatchFilter
	if err := c.Bind(&filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if filter.CompanyID == "" {
		filter.CompanyID = reqctx.GetCompanyID(ctx)
	}
	if err := validation.Struct(filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	found, err := h.store.List(ctx, filter)
	if err != nil {
		return err
	}
	if found == nil {
		found = []*models.Match{}
	}
	return c.JSON(http.StatusOK, ListResponse{Matches: found, Count: len(found)})
}

// GetMatch returns one match with its factor breakdown
func (h *Handler) GetMatch(c echo.Context) error {
	m, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// ReviewRequest is a reviewer's decision
type ReviewRequest struct {
	Status models.MatchStatus `json:"status" validate:"required,oneof=confirmed rejected"`
}

// ReviewMatch records a confirmation or rejection. Reviewed matches keep their
// decision across later runs.
func (h *Handler) ReviewMatch(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req ReviewRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validation.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	previous, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}

	reviewed, err := h.store.Review(ctx, id, req.Status)
	if err != nil {
		return err
	}

	log := h.logger.WithContext(ctx).WithFields(map[string]any{
		"match_id": id,
		"status":   string(req.Status),
	})
	log.Info("Reviewed match")

	if h.listener != nil && previous.Status != reviewed.Status {
		if err := h.listener.MatchUpdated(context.WithoutCancel(ctx), ReviewJobID, reviewed, previous); err != nil {
			log.WithError(err).Warn("Failed to publish review")
		}
	}

	return c.JSON(http.StatusOK, reviewed)
}
