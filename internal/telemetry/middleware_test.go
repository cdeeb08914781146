package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Get("/api/expression/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/expression/{id}", "404"))

	req := httptest.NewRequest(http.MethodGet, "/api/expression/abc", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/expression/{id}", "404"))
	if after-before != 1 {
		t.Fatalf("counter delta=%v, want 1", after-before)
	}
	if got := testutil.ToFloat64(APIActiveConnections); got != 0 {
		t.Fatalf("active connections=%v after request", got)
	}
}

func TestHandlerServesPrometheusFormat(t *testing.T) {
	PlaybackSkipsTotal.Inc()

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "palmcards_playback_skips_total") {
		t.Fatal("expected palmcards metrics in output")
	}
}
