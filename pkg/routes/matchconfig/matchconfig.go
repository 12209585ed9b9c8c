package matchconfig

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	reqctx "github.com/Ramsey-B/sorrel/pkg/context"
	"github.com/Ramsey-B/sorrel/pkg/models"
)

// Provider resolves and stores matching configurations
type Provider interface {
	Base() *models.MatchingConfiguration
	Effective(ctx context.Context, companyID string) (*models.MatchingConfiguration, error)
	Save(ctx context.Context, cfg *models.MatchingConfiguration) error
}

type Handler struct {
	provider Provider
	logger   ectologger.Logger
}

func NewHandler(provider Provider, logger ectologger.Logger) *Handler {
	return &Handler{provider: provider, logger: logger}
}

// Register registers configuration routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.GetConfiguration)
	g.PUT("", h.PutConfiguration)
}

// ConfigurationResponse pairs a configuration with its version hash
type ConfigurationResponse struct {
	Version       string                        `json:"version"`
	Configuration *models.MatchingConfiguration `json:"configuration"`
}

// companyID reads the company from the query string, falling back to the
// X-Company-ID header
func companyID(c echo.Context) string {
	if id := c.QueryParam("company_id"); id != "" {
		return id
	}
	return reqctx.GetCompanyID(c.Request().Context())
}

// GetConfiguration returns the effective configuration for a company, or the
// global one when no company is given
func (h *Handler) GetConfiguration(c echo.Context) error {
	cfg, err := h.provider.Effective(c.Request().Context(), companyID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ConfigurationResponse{Version: cfg.Version(), Configuration: cfg})
}

// PutConfiguration stores an override for a company, or the global one. The
// body is decoded over the base configuration, so omitted keys keep their base
// values.
func (h *Handler) PutConfiguration(c echo.Context) error {
	ctx := c.Request().Context()

	cfg := h.provider.Base()
	if err := c.Bind(cfg); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cfg.Scope = companyID(c)
	if cfg.Scope == "" {
		cfg.Scope = models.GlobalScope
	}

	if err := h.provider.Save(ctx, cfg); err != nil {
		return err
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"scope":   cfg.Scope,
		"version": cfg.Version(),
	}).Info("Updated matching configuration")

	return c.JSON(http.StatusOK, ConfigurationResponse{Version: cfg.Version(), Configuration: cfg})
}
