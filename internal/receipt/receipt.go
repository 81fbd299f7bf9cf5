// Package receipt renders PDF receipts for confirmed bookings.
package receipt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/yatra/booking-backend/internal/models"
)

// ErrNotConfirmed is returned for bookings that have no payment to show
var ErrNotConfirmed = errors.New("receipt is only available for confirmed bookings")

// Render builds an A4 receipt for a confirmed booking
func Render(b *models.Booking, tripTitle string) ([]byte, error) {
	if b == nil || b.BookingStatus != models.BookingStatusConfirmed {
		return nil, ErrNotConfirmed
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Booking Receipt", false)
	pdf.SetCreator("booking-backend", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "BOOKING RECEIPT")
	pdf.Ln(14)

	confirmed := b.UpdatedAt
	if b.ConfirmedAt != nil {
		confirmed = *b.ConfirmedAt
	}
	ref := "-"
	if b.PaymentGatewayRef != nil && *b.PaymentGatewayRef != "" {
		ref = *b.PaymentGatewayRef
	}

	rows := [][2]string{
		{"Booking ID", b.ID.String()},
		{"Transaction ID", b.TransactionID},
		{"Trip", orDash(tripTitle)},
		{"Persons", fmt.Sprintf("%d", b.NumberOfPersons)},
		{"Amount paid", fmt.Sprintf("%s %.2f", orDash(b.Currency), b.TotalAmount)},
		{"Paid via", string(b.PaymentMethod)},
		{"Gateway reference", ref},
		{"Confirmed at", confirmed.UTC().Format(time.RFC1123)},
	}

	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 8, row[0], "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(0, 8, row[1], "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, "Cancelling this booking returns the seats to the trip. Refunds are processed by the payment provider.", "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// Filename is the download name for a booking's receipt
func Filename(b *models.Booking) string {
	return fmt.Sprintf("receipt-%s.pdf", b.TransactionID)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
