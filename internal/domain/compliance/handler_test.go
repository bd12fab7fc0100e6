package compliance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/xuri/excelize/v2"

	"github.com/bundlewatch/bundlewatch/internal/domain/episode"
)

func newHandlerFixture() (*Handler, *echo.Echo) {
	trigger := fixedNow.Add(-24 * time.Hour)
	svc, _ := newTestService(
		testEpisode("pat-1", trigger,
			result("el_a", episode.ResultMet),
			result("el_b", episode.ResultNotMet),
			result("el_c", episode.ResultPending),
		),
	)
	return NewHandler(svc), echo.New()
}

func TestHandler_GetReport(t *testing.T) {
	h, e := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/compliance/test_bundle", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("bundle_id")
	c.SetParamValues("test_bundle")

	if err := h.GetReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.BundleID != "test_bundle" || report.EpisodeCount != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Elements) != 3 {
		t.Errorf("expected 3 element stats, got %d", len(report.Elements))
	}
}

func TestHandler_GetReport_NotFound(t *testing.T) {
	h, e := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/compliance/nope", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("bundle_id")
	c.SetParamValues("nope")

	err := h.GetReport(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_GetReport_InvalidWindow(t *testing.T) {
	h, e := newHandlerFixture()

	for _, raw := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/compliance/test_bundle?window_days="+raw, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("bundle_id")
		c.SetParamValues("test_bundle")

		err := h.GetReport(c)
		he, ok := err.(*echo.HTTPError)
		if !ok || he.Code != http.StatusBadRequest {
			t.Errorf("window_days=%s: expected 400, got %v", raw, err)
		}
	}
}

func TestHandler_ExportReport(t *testing.T) {
	h, e := newHandlerFixture()

	req := httptest.NewRequest(http.MethodGet, "/compliance/test_bundle/export", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("bundle_id")
	c.SetParamValues("test_bundle")

	if err := h.ExportReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != xlsxContentType {
		t.Errorf("unexpected content type: %s", ct)
	}
	cd := rec.Header().Get(echo.HeaderContentDisposition)
	if !strings.HasPrefix(cd, "attachment; filename=compliance_test_bundle_") {
		t.Errorf("unexpected content disposition: %s", cd)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("response is not a workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(sheetSummary)
	if err != nil {
		t.Fatalf("read summary rows: %v", err)
	}
	if len(rows) != 4 {
		t.Errorf("expected header plus 3 element rows, got %d", len(rows))
	}
}
