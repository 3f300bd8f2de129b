package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	bookingsTotal      *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	utterancesTotal    *prometheus.CounterVec
	replyLatency       *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "bookings_total",
			Help:      "Total booking attempts by outcome",
		}, []string{"status"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "appointments",
			Name:      "cancellations_total",
			Help:      "Total cancellation attempts by outcome",
		}, []string{"status"}),
		utterancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "assistant",
			Name:      "utterances_total",
			Help:      "Total utterances handled by dialogue stage",
		}, []string{"stage"}),
		replyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "assistant",
			Name:      "reply_latency_seconds",
			Help:      "Latency of assistant reply computation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.cancellationsTotal, m.utterancesTotal, m.replyLatency)
	return m
}

func (m *BookingMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveCancellation(status string) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveUtterance(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.utterancesTotal.WithLabelValues(stage).Inc()
	m.replyLatency.WithLabelValues(stage).Observe(seconds)
}
