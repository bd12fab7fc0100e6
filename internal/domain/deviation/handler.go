package deviation

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bundlewatch/bundlewatch/internal/platform/auth"
	"github.com/bundlewatch/bundlewatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "quality_analyst"))
	readGroup.GET("/deviations", h.ListDeviations)
}

func (h *Handler) ListDeviations(c echo.Context) error {
	pg := pagination.FromContext(c)

	params := map[string]string{}
	if v := c.QueryParam("bundle_id"); v != "" {
		params["bundle_id"] = v
	}
	if v := c.QueryParam("patient_id"); v != "" {
		params["patient_id"] = v
	}
	if v := c.QueryParam("severity"); v != "" {
		params["severity"] = v
	}

	deviations, total, err := h.svc.ListDeviations(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(deviations, total, pg.Limit, pg.Offset))
}
