package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink records allocation and provider activity in Prometheus metrics.
type Sink struct {
	runs        prometheus.Counter
	fetchErrors *prometheus.CounterVec
	duration    prometheus.Histogram
	slots       prometheus.Gauge
}

// NewSink registers the collectors on the provided registerer. A nil
// registerer defaults to the global one; collectors already registered
// elsewhere are reused instead of failing.
func NewSink(reg prometheus.Registerer) (*Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stromplan_allocation_runs_total",
		Help: "Total number of allocation runs",
	})
	fetchErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stromplan_provider_fetch_errors_total",
		Help: "Total number of failed provider fetches",
	}, []string{"provider"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "stromplan_allocation_duration_seconds",
		Help:    "Wall time of one allocation run",
		Buckets: prometheus.DefBuckets,
	})
	slots := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stromplan_forecast_slots",
		Help: "Number of slots in the most recent forecast",
	})

	if err := reg.Register(runs); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			runs = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(fetchErrors); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			fetchErrors = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(prometheus.Histogram)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(slots); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			slots = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &Sink{runs: runs, fetchErrors: fetchErrors, duration: duration, slots: slots}, nil
}

// RecordRun counts one completed allocation run over slotCount slots.
func (s *Sink) RecordRun(slotCount int, elapsed time.Duration) {
	if s == nil {
		return
	}
	s.runs.Inc()
	s.duration.Observe(elapsed.Seconds())
	s.slots.Set(float64(slotCount))
}

// RecordFetchError counts one failed fetch against the named provider.
func (s *Sink) RecordFetchError(provider string) {
	if s == nil {
		return
	}
	s.fetchErrors.WithLabelValues(provider).Inc()
}
