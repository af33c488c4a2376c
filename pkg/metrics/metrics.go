package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one audit session.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	// Frame counters
	FramesApplied atomic.Uint64
	FramesSkipped atomic.Uint64

	// Detection counters
	DetectionsValued  atomic.Uint64
	DetectionsDropped atomic.Uint64 // no matching brand

	// Detector call latency of the last frame
	DetectLatencyMs atomic.Uint64

	brandMoney     *prometheus.GaugeVec
	brandSightings *prometheus.GaugeVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		brandMoney: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emv_brand_money",
			Help: "Cumulative earned media value per brand",
		}, []string{"brand"}),
		brandSightings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "emv_brand_sightings",
			Help: "Cumulative sightings per brand",
		}, []string{"brand"}),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "emv_frames_applied_total",
			Help: "Frames whose detections were applied to the ledgers",
		},
		func() float64 { return float64(m.FramesApplied.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "emv_frames_skipped_total",
			Help: "Frames skipped after a transient detector failure",
		},
		func() float64 { return float64(m.FramesSkipped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "emv_detections_valued_total",
			Help: "Detections resolved to a brand and valued",
		},
		func() float64 { return float64(m.DetectionsValued.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "emv_detections_dropped_total",
			Help: "Detections whose label matched no configured brand",
		},
		func() float64 { return float64(m.DetectionsDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "emv_detect_latency_ms",
			Help: "Detector call latency of the most recent frame in milliseconds",
		},
		func() float64 { return float64(m.DetectLatencyMs.Load()) },
	))

	m.registry.MustRegister(m.brandMoney, m.brandSightings)
}

func (m *Metrics) FrameApplied() {
	if m != nil {
		m.FramesApplied.Add(1)
	}
}

func (m *Metrics) FrameSkipped() {
	if m != nil {
		m.FramesSkipped.Add(1)
	}
}

func (m *Metrics) DetectionDropped() {
	if m != nil {
		m.DetectionsDropped.Add(1)
	}
}

// BrandUpdated publishes the current totals of brand.
func (m *Metrics) BrandUpdated(brand string, money float64, sightings, valued int) {
	if m == nil {
		return
	}
	m.DetectionsValued.Add(uint64(valued))
	m.brandMoney.WithLabelValues(brand).Set(money)
	m.brandSightings.WithLabelValues(brand).Set(float64(sightings))
}

// UpdateDetectLatency records the duration of the last detector call.
func (m *Metrics) UpdateDetectLatency(d time.Duration) {
	if m != nil {
		m.DetectLatencyMs.Store(uint64(d.Milliseconds()))
	}
}

// Reset clears every counter and per-brand gauge.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.FramesApplied.Store(0)
	m.FramesSkipped.Store(0)
	m.DetectionsValued.Store(0)
	m.DetectionsDropped.Store(0)
	m.DetectLatencyMs.Store(0)
	m.brandMoney.Reset()
	m.brandSightings.Reset()
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
