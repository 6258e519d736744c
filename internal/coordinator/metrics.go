package coordinator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records refresh outcomes. A nil *Metrics records nothing.
type Metrics struct {
	refreshes *prometheus.CounterVec
	duration  prometheus.Histogram
	meetings  prometheus.Gauge
}

// NewMetrics creates the refresh collectors and registers them with reg
// when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nextmeet",
			Name:      "refresh_total",
			Help:      "Refresh attempts by trigger and result.",
		}, []string{"trigger", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nextmeet",
			Name:      "refresh_duration_seconds",
			Help:      "Duration of calendar fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		meetings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nextmeet",
			Name:      "meetings",
			Help:      "Meetings in the published list.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.refreshes, m.duration, m.meetings)
	}
	return m
}

func (m *Metrics) attempt(trigger, result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) fetched(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) published(n int) {
	if m == nil {
		return
	}
	m.meetings.Set(float64(n))
}
