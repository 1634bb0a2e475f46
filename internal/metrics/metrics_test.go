package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		IncHTTP("create_reservation", "2xx")
		SetTimersArmed(3)
		IncTimerFired()
	})

	before := testutil.ToFloat64(transitions.WithLabelValues("pending", "confirmed"))
	IncTransition("pending", "confirmed")
	assert.Equal(t, before+1, testutil.ToFloat64(transitions.WithLabelValues("pending", "confirmed")))

	beforeRejected := testutil.ToFloat64(bookingRejections.WithLabelValues("unavailable"))
	IncBookingRejected("unavailable")
	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(bookingRejections.WithLabelValues("unavailable")))

	beforeSweep := testutil.ToFloat64(sweepTransitioned)
	AddSweepTransitioned(2)
	assert.Equal(t, beforeSweep+2, testutil.ToFloat64(sweepTransitioned))

	IncReservationCreated()
	IncPaymentEvent("confirmed")
	assert.Equal(t, float64(3), testutil.ToFloat64(timersArmed))
}
