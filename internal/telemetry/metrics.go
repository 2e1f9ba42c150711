package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the interval latency and per-category counters to
// Prometheus (spec.md SPEC_FULL.md domain-stack row: "Process metrics /
// daily stats"), scraped by internal/healthd's /metrics endpoint.
type Metrics struct {
	LatencyMean   prometheus.Gauge
	LatencyPeak   prometheus.Gauge
	AlarmActive   prometheus.Gauge
	MessageCounts *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors against registry.
func NewMetrics(program string, registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LatencyMean: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nrod",
			Subsystem: program,
			Name:      "latency_mean_seconds",
			Help:      "Mean end-to-end message latency over the last reporting interval.",
		}),
		LatencyPeak: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nrod",
			Subsystem: program,
			Name:      "latency_peak_seconds",
			Help:      "Peak end-to-end message latency over the last reporting interval.",
		}),
		AlarmActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nrod",
			Subsystem: program,
			Name:      "latency_alarm_active",
			Help:      "1 while the latency alarm is raised, 0 otherwise.",
		}),
		MessageCounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nrod",
			Subsystem: program,
			Name:      "messages_total",
			Help:      "Messages processed, by category.",
		}, []string{"category"}),
	}
	registry.MustRegister(m.LatencyMean, m.LatencyPeak, m.AlarmActive, m.MessageCounts)
	return m
}

// ObserveInterval records a completed latency interval.
func (m *Metrics) ObserveInterval(interval LatencyInterval) {
	m.LatencyMean.Set(interval.Mean.Seconds())
	m.LatencyPeak.Set(interval.Peak.Seconds())
}

// SetAlarm reflects the current alarm latch state.
func (m *Metrics) SetAlarm(active bool) {
	if active {
		m.AlarmActive.Set(1)
	} else {
		m.AlarmActive.Set(0)
	}
}

// AddCategory increments a named message-category counter.
func (m *Metrics) AddCategory(cat Category, delta int) {
	if delta <= 0 {
		return
	}
	m.MessageCounts.WithLabelValues(string(cat)).Add(float64(delta))
}
