package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ropacal-forecast/internal/forecast"
)

// PromRecorder records refresh passes and model calls in Prometheus metrics.
type PromRecorder struct {
	bins         *prometheus.CounterVec
	passDuration prometheus.Histogram
	modelLatency *prometheus.HistogramVec
	lastRefresh  prometheus.Gauge
	passes       *prometheus.CounterVec
}

// NewPromRecorder registers forecast metrics on the default registerer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers metrics on reg. A nil registerer
// defaults to the global one. Collectors already registered are reused.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	bins, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_refresh_bins_total",
		Help: "Bins processed by refresh passes, by terminal state",
	}, []string{"state", "reason"}))
	if err != nil {
		return nil, err
	}
	passDuration, err := register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "forecast_refresh_duration_seconds",
		Help:    "Wall time of a refresh pass",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}))
	if err != nil {
		return nil, err
	}
	modelLatency, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forecast_model_request_duration_seconds",
		Help:    "Latency of growth model requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	lastRefresh, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "forecast_last_refreshed_bins",
		Help: "Number of bins that received a new prediction in the last pass",
	}))
	if err != nil {
		return nil, err
	}
	passes, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "forecast_refresh_passes_total",
		Help: "Refresh passes run, by result",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	return &PromRecorder{
		bins:         bins,
		passDuration: passDuration,
		modelLatency: modelLatency,
		lastRefresh:  lastRefresh,
		passes:       passes,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOutcome counts one bin's terminal state.
func (r *PromRecorder) RecordOutcome(o forecast.BinOutcome) {
	r.bins.WithLabelValues(string(o.State), o.Reason).Inc()
}

// RecordPass records the duration and result of a finished pass. A pass that
// returned an error is counted as fatal.
func (r *PromRecorder) RecordPass(report forecast.RefreshReport, err error) {
	r.passDuration.Observe(report.Duration().Seconds())
	r.lastRefresh.Set(float64(report.Refreshed))

	result := "ok"
	switch {
	case err != nil:
		result = "fatal"
	case report.Failed > 0:
		result = "partial"
	}
	r.passes.WithLabelValues(result).Inc()
}

// ObserveModelRequest records the latency of one growth model call.
func (r *PromRecorder) ObserveModelRequest(outcome string, elapsed time.Duration) {
	r.modelLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
