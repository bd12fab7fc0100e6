package episode

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
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
	// Read endpoints – all clinical and quality roles
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "quality_analyst"))
	readGroup.GET("/episodes", h.ListEpisodes)
	readGroup.GET("/episodes/:id", h.GetEpisode)

	// Write endpoints – clinical roles only
	writeGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	writeGroup.POST("/episodes", h.CreateEpisode)
	writeGroup.POST("/episodes/:id/close", h.CloseEpisode)
}

// CreateEpisode is the trigger intake endpoint. It upserts by the
// (patient_id, encounter_id, bundle_id) identity: 201 with the new episode
// on first submission, 200 with the existing one on repeats.
func (h *Handler) CreateEpisode(c echo.Context) error {
	var e Episode
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ep, created, err := h.svc.CreateEpisode(c.Request().Context(), &e)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if created {
		return c.JSON(http.StatusCreated, ep)
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) GetEpisode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ep, err := h.svc.GetEpisode(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ep)
}

func (h *Handler) ListEpisodes(c echo.Context) error {
	pg := pagination.FromContext(c)

	params := map[string]string{}
	if v := c.QueryParam("status"); v != "" {
		params["status"] = v
	}
	if v := c.QueryParam("bundle_id"); v != "" {
		params["bundle_id"] = v
	}
	if v := c.QueryParam("patient_id"); v != "" {
		params["patient_id"] = v
	}

	episodes, total, err := h.svc.SearchEpisodes(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(episodes, total, pg.Limit, pg.Offset))
}

func (h *Handler) CloseEpisode(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ep, err := h.svc.CloseEpisode(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "episode not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, ep)
}
