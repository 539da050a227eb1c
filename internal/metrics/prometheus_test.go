package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewUsesIsolatedRegistries(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.SegmentsBuffered.Inc()

	if got := testutil.ToFloat64(a.SegmentsBuffered); got != 1 {
		t.Fatalf("expected 1 segment, got %f", got)
	}
	if got := testutil.ToFloat64(b.SegmentsBuffered); got != 0 {
		t.Fatalf("expected separate registry, got %f", got)
	}
}

func TestHandlerServesCollectors(t *testing.T) {
	t.Parallel()

	m := New()
	m.InterimRequests.WithLabelValues("ok").Add(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `recorder_interim_requests_total{result="ok"} 2`) {
		t.Fatalf("expected interim counter in output:\n%s", body)
	}
}
