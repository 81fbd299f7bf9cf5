package models

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// BOOKING STATUSES (match DB CHECK constraints)
// ============================================================================

// BookingStatus is the lifecycle status of a booking record
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusFailed    BookingStatus = "failed"
)

// IsTerminal reports whether no further transition is permitted from s
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFailed:
		return true
	}
	return false
}

// PaymentStatus tracks the payment side of a booking
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusInitiated PaymentStatus = "initiated"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentMethod identifies the hosted payment gateway used for a booking
type PaymentMethod string

const (
	PaymentMethodEsewa  PaymentMethod = "esewa"
	PaymentMethodKhalti PaymentMethod = "khalti"
)

// Valid reports whether m is one of the supported gateways
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodEsewa || m == PaymentMethodKhalti
}

// BookingState is the orchestrator's view of a (bookingStatus, paymentStatus) pair
type BookingState string

const (
	StateInitiated        BookingState = "INITIATED"
	StateAwaitingCallback BookingState = "AWAITING_CALLBACK"
	StateConfirmed        BookingState = "CONFIRMED"
	StateFailed           BookingState = "FAILED"
	StateCancelled        BookingState = "CANCELLED"
)

// Failure reasons stored on failed bookings
const (
	FailureReasonGatewayInitiation = "payment gateway initiation failed"
	FailureReasonUserAborted       = "payment cancelled or failed at gateway"
	FailureReasonPaymentNotDone    = "payment not completed"
	FailureReasonSeatAllocation    = "seat allocation failed after payment verified"
	FailureReasonAmountMismatch    = "amount mismatch between booking and gateway"
)

// ============================================================================
// BOOKING MODEL (bookings table)
// ============================================================================

// Booking is one booking attempt, keyed by its transaction ID
type Booking struct {
	ID                uuid.UUID     `json:"booking_id" db:"id"`
	UserID            uuid.UUID     `json:"user_id" db:"user_id"`
	TripID            uuid.UUID     `json:"trip_id" db:"trip_id"`
	NumberOfPersons   int           `json:"number_of_persons" db:"number_of_persons"`
	TotalAmount       float64       `json:"total_amount" db:"total_amount"`
	Currency          string        `json:"currency" db:"currency"`
	TransactionID     string        `json:"transaction_id" db:"transaction_id"`
	PaymentGatewayRef *string       `json:"payment_gateway_ref,omitempty" db:"payment_gateway_ref"`
	PaymentSessionID  *string       `json:"-" db:"payment_session_id"`
	PaymentMethod     PaymentMethod `json:"payment_method" db:"payment_method"`
	BookingStatus     BookingStatus `json:"booking_status" db:"booking_status"`
	PaymentStatus     PaymentStatus `json:"payment_status" db:"payment_status"`
	FailureReason     *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	ConfirmedAt       *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// State derives the orchestrator state from the two status columns
func (b *Booking) State() BookingState {
	switch b.BookingStatus {
	case BookingStatusConfirmed:
		return StateConfirmed
	case BookingStatusCancelled:
		return StateCancelled
	case BookingStatusFailed:
		return StateFailed
	}
	if b.PaymentStatus == PaymentStatusInitiated {
		return StateAwaitingCallback
	}
	return StateInitiated
}

// IsTerminal reports whether the booking can no longer change state
func (b *Booking) IsTerminal() bool {
	return b.BookingStatus.IsTerminal()
}

// IsOwnedBy reports whether userID created the booking
func (b *Booking) IsOwnedBy(userID uuid.UUID) bool {
	return b.UserID == userID
}

// BookingDraft carries the fields a caller supplies when creating a booking
type BookingDraft struct {
	UserID          uuid.UUID
	TripID          uuid.UUID
	NumberOfPersons int
	TotalAmount     float64
	Currency        string
	TransactionID   string
	PaymentMethod   PaymentMethod
}

// StatusExtra holds optional columns written alongside a status transition
type StatusExtra struct {
	PaymentGatewayRef *string
	PaymentSessionID  *string
	FailureReason     *string
}

// BookingView is a booking joined with its trip and user for admin listings
type BookingView struct {
	Booking
	TripTitle string  `json:"trip_title" db:"trip_title"`
	UserName  *string `json:"user_name,omitempty" db:"user_name"`
	UserEmail *string `json:"user_email,omitempty" db:"user_email"`
}

// BookingFilter narrows admin listings; zero values are ignored
type BookingFilter struct {
	BookingStatus BookingStatus
	PaymentStatus PaymentStatus
	PaymentMethod PaymentMethod
	TripID        *uuid.UUID
	UserID        *uuid.UUID
}

// ============================================================================
// REQUEST / RESPONSE DTOs
// ============================================================================

// InitiateBookingRequest is the body of POST /bookings/initiate
type InitiateBookingRequest struct {
	TripID          string        `json:"tripId" binding:"required"`
	NumberOfPersons int           `json:"numberOfPersons"`
	PaymentMethod   PaymentMethod `json:"paymentMethod" binding:"required"`
}

// InitiateBookingResponse is relayed verbatim to the browser
type InitiateBookingResponse struct {
	BookingID     uuid.UUID         `json:"bookingId"`
	TransactionID string            `json:"transactionId"`
	RedirectURL   string            `json:"redirectUrl"`
	FormFields    map[string]string `json:"formFields"`
	Signature     string            `json:"signature,omitempty"`
	TotalAmount   float64           `json:"totalAmount"`
	Currency      string            `json:"currency"`
}

// VerifyOutcome is the result of processing a gateway callback
type VerifyOutcome struct {
	Success bool     `json:"success"`
	Booking *Booking `json:"booking,omitempty"`
	Message string   `json:"message"`
}

// ListBookingsResponse wraps a page of admin listings
type ListBookingsResponse struct {
	Bookings []BookingView `json:"bookings"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	Limit    int           `json:"limit"`
}
