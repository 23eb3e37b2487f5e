package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of a counting run
type Metrics struct {
	FramesProcessed   atomic.Uint64
	VehicleDetections atomic.Uint64
	IgnoredDetections atomic.Uint64

	counted  *prometheus.CounterVec
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		counted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_vehicles_counted_total",
			Help: "Vehicles counted, by category and whether the detection was tracked",
		}, []string{"category", "tracked"}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	m.registry.MustRegister(m.counted)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tally_frames_processed_total",
			Help: "Frames counted and written to the output",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tally_vehicle_detections_total",
			Help: "Detections that mapped to a vehicle category",
		},
		func() float64 { return float64(m.VehicleDetections.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "tally_ignored_detections_total",
			Help: "Detections of classes that are not counted",
		},
		func() float64 { return float64(m.IgnoredDetections.Load()) },
	))
}

// Counted records one tally increment.
func (m *Metrics) Counted(category string, tracked bool) {
	t := "false"
	if tracked {
		t = "true"
	}
	m.counted.WithLabelValues(category, t).Inc()
}

// Registry exposes the underlying registry (tests, custom handlers).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
