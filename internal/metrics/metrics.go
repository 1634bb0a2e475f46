package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "staybook"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status class.",
		},
		[]string{"endpoint", "code"},
	)

	reservationsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_created_total",
		Help:      "Reservations accepted in pending state.",
	})

	bookingRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_rejections_total",
			Help:      "Booking attempts rejected, by reason.",
		},
		[]string{"reason"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_transitions_total",
			Help:      "Applied lifecycle transitions.",
		},
		[]string{"from", "to"},
	)

	timersArmed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scheduler_timers_armed",
		Help:      "Expiration timers currently armed.",
	})

	timersFired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_timers_fired_total",
		Help:      "Expiration timers that fired.",
	})

	sweepTransitioned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_sweep_transitioned_total",
		Help:      "Reservations completed by sweeps.",
	})

	paymentEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment signals by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			reservationsCreated,
			bookingRejections,
			transitions,
			timersArmed,
			timersFired,
			sweepTransitioned,
			paymentEvents,
		)
	})
}

func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncReservationCreated() {
	reservationsCreated.Inc()
}

func IncBookingRejected(reason string) {
	bookingRejections.WithLabelValues(reason).Inc()
}

func IncTransition(from, to string) {
	transitions.WithLabelValues(from, to).Inc()
}

func SetTimersArmed(n int) {
	timersArmed.Set(float64(n))
}

func IncTimerFired() {
	timersFired.Inc()
}

func AddSweepTransitioned(n int) {
	sweepTransitioned.Add(float64(n))
}

func IncPaymentEvent(outcome string) {
	paymentEvents.WithLabelValues(outcome).Inc()
}
