package compliance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bundlewatch/bundlewatch/internal/domain/bundle"
	"github.com/bundlewatch/bundlewatch/internal/platform/auth"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Reporting endpoints – all clinical and quality roles
	readGroup := api.Group("", auth.RequireRole("admin", "physician", "nurse", "quality_analyst"))
	readGroup.GET("/compliance/:bundle_id", h.GetReport)
	readGroup.GET("/compliance/:bundle_id/export", h.ExportReport)
}

// GetReport returns the JSON adherence report for a bundle over a
// trailing window, 30 days unless window_days says otherwise.
func (h *Handler) GetReport(c echo.Context) error {
	window, err := windowFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.BuildReport(c.Request().Context(), c.Param("bundle_id"), window)
	if err != nil {
		if errors.Is(err, bundle.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bundle not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build report")
	}
	return c.JSON(http.StatusOK, report)
}

// ExportReport returns the same report as an xlsx attachment.
func (h *Handler) ExportReport(c echo.Context) error {
	window, err := windowFromQuery(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.BuildReport(c.Request().Context(), c.Param("bundle_id"), window)
	if err != nil {
		if errors.Is(err, bundle.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "bundle not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to build report")
	}
	data, err := ExportXLSX(report)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render workbook")
	}

	filename := fmt.Sprintf("compliance_%s_%s.xlsx", report.BundleID, report.GeneratedAt.Format("20060102"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%s", filename))
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func windowFromQuery(c echo.Context) (time.Duration, error) {
	raw := c.QueryParam("window_days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days <= 0 {
		return 0, fmt.Errorf("invalid window_days")
	}
	return time.Duration(days) * 24 * time.Hour, nil
}
