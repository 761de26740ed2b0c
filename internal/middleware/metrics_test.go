package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/opsconsole/opsconsole/internal/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// histogramCount returns the sample count of one HistogramVec series, or 0
// when the series has not been observed.
func histogramCount(t *testing.T, hv *prometheus.HistogramVec, lvs ...string) uint64 {
	t.Helper()
	obs, err := hv.GetMetricWithLabelValues(lvs...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var m dto.Metric
	if err := obs.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func serveMetrics(status int, target string) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/files/:name", func(c *gin.Context) { c.Status(status) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, target, nil))
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/files/:name", "200")
	before := testutil.ToFloat64(counter)

	serveMetrics(http.StatusOK, "/api/v1/files/report.txt")
	serveMetrics(http.StatusOK, "/api/v1/files/notes.txt")

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("http_requests_total delta = %v, want 2", got)
	}

	raw := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/files/report.txt", "200")
	if v := testutil.ToFloat64(raw); v != 0 {
		t.Errorf("raw URL used as path label (%v samples)", v)
	}
}

func TestMetricsMiddleware_ObservesDuration(t *testing.T) {
	before := histogramCount(t, telemetry.HTTPRequestDuration, "GET", "/api/v1/files/:name")

	serveMetrics(http.StatusOK, "/api/v1/files/a.txt")

	if after := histogramCount(t, telemetry.HTTPRequestDuration, "GET", "/api/v1/files/:name"); after != before+1 {
		t.Errorf("duration sample count = %d, want %d", after, before+1)
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/files/:name", "500")
	before := testutil.ToFloat64(counter)

	serveMetrics(http.StatusInternalServerError, "/api/v1/files/broken.txt")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("status=500 delta = %v, want 1", got)
	}
}

func TestMetricsMiddleware_NoRouteLabel(t *testing.T) {
	counter := telemetry.HTTPRequestsTotal.WithLabelValues("GET", "<no-route>", "404")
	before := testutil.ToFloat64(counter)

	serveMetrics(http.StatusOK, "/does-not-exist")

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("<no-route> delta = %v, want 1", got)
	}
}
