package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	r.Initiation("esewa", "created")
	r.Initiation("esewa", "created")
	r.Verification("khalti", "confirmed")
	r.SeatAllocationFailure()
	r.Cancellation()
	r.ObserveGatewayCall("esewa", "status", 120*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.initiations.WithLabelValues("esewa", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verifications.WithLabelValues("khalti", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.seatAllocationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cancellations))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "booking_seat_allocation_failures_total 1")
	assert.Contains(t, string(body), `payment_gateway_request_duration_seconds_count{gateway="esewa",operation="status"} 1`)
}
