package receipt

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yatra/booking-backend/internal/models"
)

func TestRender(t *testing.T) {
	ref := "0001TS9"
	now := time.Now()
	b := &models.Booking{
		ID:                uuid.New(),
		TransactionID:     "txn-1",
		NumberOfPersons:   3,
		TotalAmount:       4500,
		Currency:          "NPR",
		PaymentMethod:     models.PaymentMethodEsewa,
		PaymentGatewayRef: &ref,
		BookingStatus:     models.BookingStatusConfirmed,
		PaymentStatus:     models.PaymentStatusSucceeded,
		ConfirmedAt:       &now,
	}

	pdf, err := Render(b, "Annapurna Base Camp")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))
	assert.Equal(t, "receipt-txn-1.pdf", Filename(b))
}

func TestRender_NotConfirmed(t *testing.T) {
	b := &models.Booking{BookingStatus: models.BookingStatusPending}
	_, err := Render(b, "")
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = Render(nil, "")
	assert.ErrorIs(t, err, ErrNotConfirmed)
}
