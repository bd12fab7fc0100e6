package engine

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bundlewatch/bundlewatch/internal/platform/auth"
)

type Handler struct {
	runner *Runner
}

func NewHandler(runner *Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Manual evaluation trigger – operational roles only
	opGroup := api.Group("", auth.RequireRole("admin", "quality_analyst"))
	opGroup.POST("/evaluations/run", h.RunEvaluation)
}

// RunEvaluation runs one evaluation cycle on demand and returns its
// stats. Repeating the call is safe: deviation emission is deduplicated
// and settled results are never re-decided.
func (h *Handler) RunEvaluation(c echo.Context) error {
	stats, err := h.runner.RunOnce(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "evaluation cycle failed")
	}
	return c.JSON(http.StatusOK, stats)
}
