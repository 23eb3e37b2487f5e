package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.FramesProcessed.Add(10)
	m.VehicleDetections.Add(4)
	m.IgnoredDetections.Add(2)
	m.Counted("car", true)
	m.Counted("car", true)
	m.Counted("motorcycle", false)

	if got := testutil.ToFloat64(m.counted.WithLabelValues("car", "true")); got != 2 {
		t.Errorf("car tracked = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		"tally_frames_processed_total 10",
		"tally_vehicle_detections_total 4",
		"tally_ignored_detections_total 2",
		`tally_vehicles_counted_total{category="motorcycle",tracked="false"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
