package bundle

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bundlewatch/bundlewatch/internal/platform/auth"
)

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "quality_analyst"))
	readGroup.GET("/bundles", h.ListBundles)
	readGroup.GET("/bundles/:id", h.GetBundle)
}

func (h *Handler) ListBundles(c echo.Context) error {
	return c.JSON(http.StatusOK, h.catalog.List())
}

func (h *Handler) GetBundle(c echo.Context) error {
	b, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "bundle not found")
	}
	return c.JSON(http.StatusOK, b)
}
