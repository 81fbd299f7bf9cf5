package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/database"
	"github.com/yatra/booking-backend/internal/events"
	"github.com/yatra/booking-backend/internal/lock"
	"github.com/yatra/booking-backend/internal/models"
	"github.com/yatra/booking-backend/internal/receipt"
	"github.com/yatra/booking-backend/pkg/payment"
)

// ============================================================================
// COLLABORATORS
// ============================================================================

// InventoryStore is the per-trip seat counter
type InventoryStore interface {
	GetTripPricing(ctx context.Context, tripID uuid.UUID) (*models.TripInventory, error)
	CheckAvailability(ctx context.Context, tripID uuid.UUID, requested int) (bool, error)
	Decrement(ctx context.Context, tripID uuid.UUID, amount int) (int, error)
	Increment(ctx context.Context, tripID uuid.UUID, amount int) (int, error)
}

// BookingStore persists booking records
type BookingStore interface {
	Create(ctx context.Context, draft models.BookingDraft) (*models.Booking, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Booking, error)
	FindByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, bookingID uuid.UUID, bs models.BookingStatus, ps models.PaymentStatus, extra models.StatusExtra) (*models.Booking, bool, error)
	TransitionFrom(ctx context.Context, bookingID uuid.UUID, from []models.BookingStatus, bs models.BookingStatus, ps models.PaymentStatus, extra models.StatusExtra) (*models.Booking, bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	ListAllPopulated(ctx context.Context, filter models.BookingFilter, page, limit int) ([]models.BookingView, int, error)
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error)
	Touch(ctx context.Context, bookingID uuid.UUID) error
}

// PaymentAuditStore appends payment audit entries
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// MetricsRecorder receives booking outcome counters
type MetricsRecorder interface {
	Initiation(method, result string)
	Verification(gateway, outcome string)
	SeatAllocationFailure()
	Cancellation()
}

type noopMetrics struct{}

func (noopMetrics) Initiation(string, string)   {}
func (noopMetrics) Verification(string, string) {}
func (noopMetrics) SeatAllocationFailure()      {}
func (noopMetrics) Cancellation()               {}

const lockRetryInterval = 25 * time.Millisecond

// BookingOrchestratorConfig holds configuration for the orchestrator
type BookingOrchestratorConfig struct {
	Currency string
	// CallbackBaseURL is the public callback prefix; the gateway name is appended
	CallbackBaseURL string
	VerifyLockTTL   time.Duration
	// VerifyLockWait bounds how long a duplicate callback waits for the
	// holder to finish; zero means a single attempt
	VerifyLockWait time.Duration
	// NewTransactionID generates the idempotency key sent to the gateway
	NewTransactionID func() string
}

// DefaultOrchestratorConfig returns default configuration
func DefaultOrchestratorConfig() BookingOrchestratorConfig {
	return BookingOrchestratorConfig{
		Currency:         "NPR",
		CallbackBaseURL:  "http://localhost:8080/api/v1/payments/callback",
		VerifyLockTTL:    30 * time.Second,
		VerifyLockWait:   5 * time.Second,
		NewTransactionID: uuid.NewString,
	}
}

// BookingOrchestratorService drives a booking from initiation through the
// payment callback to a terminal state, keeping seat counts consistent
type BookingOrchestratorService struct {
	inventory InventoryStore
	bookings  BookingStore
	audits    PaymentAuditStore
	gateways  *payment.Registry
	publisher events.Publisher
	locker    lock.Locker
	metrics   MetricsRecorder
	config    BookingOrchestratorConfig
	logger    *logrus.Logger
}

// NewBookingOrchestratorService creates a new orchestrator service.
// publisher, locker and metrics may be nil; a nil locker serializes
// verification per transaction within this process only.
func NewBookingOrchestratorService(
	inventory InventoryStore,
	bookings BookingStore,
	audits PaymentAuditStore,
	gateways *payment.Registry,
	publisher events.Publisher,
	locker lock.Locker,
	metrics MetricsRecorder,
	config BookingOrchestratorConfig,
	logger *logrus.Logger,
) *BookingOrchestratorService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if config.NewTransactionID == nil {
		config.NewTransactionID = uuid.NewString
	}
	if config.VerifyLockTTL <= 0 {
		config.VerifyLockTTL = 30 * time.Second
	}
	if config.Currency == "" {
		config.Currency = "NPR"
	}
	config.CallbackBaseURL = strings.TrimSuffix(config.CallbackBaseURL, "/")

	return &BookingOrchestratorService{
		inventory: inventory,
		bookings:  bookings,
		audits:    audits,
		gateways:  gateways,
		publisher: publisher,
		locker:    locker,
		metrics:   metrics,
		config:    config,
		logger:    logger,
	}
}

// ============================================================================
// INITIATE
// ============================================================================

// Initiate validates the request, creates a pending booking and returns the
// gateway redirect payload. Seats are not held; they are taken at confirmation.
func (s *BookingOrchestratorService) Initiate(
	ctx context.Context,
	userID uuid.UUID,
	req *models.InitiateBookingRequest,
) (*models.InitiateBookingResponse, error) {
	// 1. Validate input
	if req.NumberOfPersons < 1 {
		return nil, fmt.Errorf("%w: numberOfPersons must be at least 1", ErrValidation)
	}
	tripID, err := uuid.Parse(req.TripID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tripId", ErrValidation)
	}
	method := models.PaymentMethod(strings.ToLower(string(req.PaymentMethod)))
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGateway, req.PaymentMethod)
	}
	gateway, err := s.gateways.Get(string(method))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGateway, err)
	}

	// 2. Optimistic availability check (nothing is reserved)
	ok, err := s.inventory.CheckAvailability(ctx, tripID, req.NumberOfPersons)
	if err != nil {
		if errors.Is(err, database.ErrTripNotFound) {
			return nil, ErrTripNotFound
		}
		return nil, fmt.Errorf("failed to check availability: %w", err)
	}
	if !ok {
		s.metrics.Initiation(string(method), "insufficient_capacity")
		return nil, ErrInsufficientCapacity
	}

	// 3. Price the booking
	trip, err := s.inventory.GetTripPricing(ctx, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trip pricing: %w", err)
	}
	if trip == nil {
		return nil, ErrTripNotFound
	}
	currency := trip.Currency
	if currency == "" {
		currency = s.config.Currency
	}
	totalAmount := roundAmount(trip.UnitPrice * float64(req.NumberOfPersons))

	// 4. Create the booking in INITIATED
	booking, err := s.bookings.Create(ctx, models.BookingDraft{
		UserID:          userID,
		TripID:          tripID,
		NumberOfPersons: req.NumberOfPersons,
		TotalAmount:     totalAmount,
		Currency:        currency,
		TransactionID:   s.config.NewTransactionID(),
		PaymentMethod:   method,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateTransaction) {
			return nil, ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": booking.TransactionID,
		"trip_id":        tripID,
		"user_id":        userID,
		"gateway":        method,
	})

	// 5. Build the redirect payload
	payload, err := gateway.BuildInitiationPayload(ctx, payment.InitiationRequest{
		TransactionID: booking.TransactionID,
		TotalAmount:   totalAmount,
		CallbackURL:   s.callbackURL(method),
		ProductName:   trip.Title,
	})
	if err != nil {
		log.WithError(err).Warn("Payment initiation failed")
		s.metrics.Initiation(string(method), "gateway_error")

		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventInitiationFailed, models.PaymentSourceBackend).
			ForBooking(booking).
			SetError(err.Error()))

		reason := models.FailureReasonGatewayInitiation
		failed, applied, uerr := s.bookings.UpdateStatus(ctx, booking.ID,
			models.BookingStatusFailed, models.PaymentStatusFailed,
			models.StatusExtra{FailureReason: &reason})
		if uerr != nil {
			log.WithError(uerr).Error("Failed to mark booking as failed after initiation error")
		} else if applied {
			s.publish(ctx, events.BookingFailed, failed)
		}

		if errors.Is(err, payment.ErrGatewayUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("payment initiation failed: %w", err)
	}

	extra := models.StatusExtra{}
	if payload.SessionID != "" {
		extra.PaymentSessionID = &payload.SessionID
	}
	if _, _, err := s.bookings.UpdateStatus(ctx, booking.ID,
		models.BookingStatusPending, models.PaymentStatusInitiated, extra); err != nil {
		log.WithError(err).Error("Failed to mark payment initiated")
		s.metrics.Initiation(string(method), "store_error")

		// the user never gets the redirect, so the booking cannot settle
		reason := models.FailureReasonGatewayInitiation
		failed, applied, uerr := s.bookings.UpdateStatus(ctx, booking.ID,
			models.BookingStatusFailed, models.PaymentStatusFailed,
			models.StatusExtra{FailureReason: &reason})
		if uerr != nil {
			log.WithError(uerr).Error("Failed to mark booking as failed; reconciliation will pick it up")
		} else if applied {
			s.publish(ctx, events.BookingFailed, failed)
		}
		return nil, fmt.Errorf("failed to mark payment initiated: %w", err)
	}

	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).ForBooking(booking)
	audit.SetAmounts(totalAmount, totalAmount)
	audit.SetGatewayResult("", payload.SessionID)
	s.audit(ctx, audit)

	s.metrics.Initiation(string(method), "ok")
	log.WithField("total_amount", totalAmount).Info("Booking initiated")

	return &models.InitiateBookingResponse{
		BookingID:     booking.ID,
		TransactionID: booking.TransactionID,
		RedirectURL:   payload.RedirectURL,
		FormFields:    payload.FormFields,
		Signature:     payload.Signature,
		TotalAmount:   totalAmount,
		Currency:      currency,
	}, nil
}

// ============================================================================
// VERIFY
// ============================================================================

// Verify settles a booking from a gateway callback. The outcome is never nil
// so the caller can always redirect; the error says why it did not succeed.
func (s *BookingOrchestratorService) Verify(
	ctx context.Context,
	gatewayName string,
	params url.Values,
) (*models.VerifyOutcome, error) {
	gatewayName = strings.ToLower(gatewayName)
	gateway, err := s.gateways.Get(gatewayName)
	if err != nil {
		return &models.VerifyOutcome{Message: "Unsupported payment method"}, fmt.Errorf("%w: %v", ErrUnsupportedGateway, err)
	}

	// 1. Correlate the callback
	callback, err := gateway.ParseCallback(params)
	if err != nil || callback.TransactionID == "" {
		s.logger.WithError(err).WithField("gateway", gatewayName).Warn("Uncorrelatable payment callback")
		s.metrics.Verification(gatewayName, "invalid_callback")
		if err == nil {
			err = errors.New("missing transaction id")
		}
		return &models.VerifyOutcome{Message: "Invalid payment callback"}, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	// 2. Look up by transaction id
	booking, err := s.bookings.FindByTransactionID(ctx, callback.TransactionID)
	if err != nil {
		return &models.VerifyOutcome{Message: "Could not load booking"}, fmt.Errorf("failed to find booking: %w", err)
	}
	if booking == nil || string(booking.PaymentMethod) != gatewayName {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": callback.TransactionID,
			"gateway":        gatewayName,
		}).Warn("Payment callback for unknown transaction")
		return &models.VerifyOutcome{Message: "Booking not found"}, ErrBookingNotFound
	}

	if callback.SignatureValid != nil && !*callback.SignatureValid {
		s.logger.WithFields(logrus.Fields{
			"booking_id":     booking.ID,
			"transaction_id": booking.TransactionID,
			"gateway":        gatewayName,
		}).Warn("Callback signature did not verify; relying on status query")
	}

	// 3. Already settled
	if booking.IsTerminal() {
		return outcomeFor(booking), nil
	}

	// 4. User aborted at the gateway
	if callback.Aborted {
		failed := s.fail(ctx, booking, models.FailureReasonUserAborted, callback.Status)
		s.metrics.Verification(gatewayName, "aborted")
		return outcomeFor(failed), nil
	}

	// 5-7. Authoritative status query
	return s.settle(ctx, booking, gateway, true)
}

// Reverify re-runs verification for a booking without callback data.
// Used by operators after a gateway outage left a booking unsettled.
func (s *BookingOrchestratorService) Reverify(ctx context.Context, bookingID uuid.UUID) (*models.VerifyOutcome, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	if booking == nil {
		return nil, ErrNotFoundOrUnauthorized
	}
	if booking.IsTerminal() {
		return outcomeFor(booking), nil
	}
	gateway, err := s.gateways.Get(string(booking.PaymentMethod))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGateway, err)
	}
	return s.settle(ctx, booking, gateway, true)
}

// Reconcile settles a stale booking; bookings still pending at the gateway
// are left untouched.
func (s *BookingOrchestratorService) Reconcile(ctx context.Context, booking *models.Booking) (*models.VerifyOutcome, error) {
	if booking.IsTerminal() {
		return outcomeFor(booking), nil
	}
	gateway, err := s.gateways.Get(string(booking.PaymentMethod))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedGateway, err)
	}
	return s.settle(ctx, booking, gateway, false)
}

// acquireVerifyLock retries until the lock is free, VerifyLockWait elapses
// or ctx is done
func (s *BookingOrchestratorService) acquireVerifyLock(ctx context.Context, key string) (func(), bool, error) {
	deadline := time.Now().Add(s.config.VerifyLockWait)
	for {
		release, acquired, err := s.locker.Acquire(ctx, key, s.config.VerifyLockTTL)
		if err != nil || acquired || !time.Now().Before(deadline) {
			return release, acquired, err
		}
		select {
		case <-ctx.Done():
			return func() {}, false, nil
		case <-time.After(lockRetryInterval):
		}
	}
}

// settle queries the gateway and moves the booking to a terminal state.
// When failPending is false a PENDING answer leaves the booking as is.
func (s *BookingOrchestratorService) settle(
	ctx context.Context,
	booking *models.Booking,
	gateway payment.Gateway,
	failPending bool,
) (*models.VerifyOutcome, error) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": booking.TransactionID,
		"gateway":        gateway.Method(),
	})

	release, acquired, err := s.acquireVerifyLock(ctx, booking.TransactionID)
	if err != nil {
		log.WithError(err).Warn("Verify lock unavailable, continuing without it")
	} else if !acquired {
		// the holder may have finished while we waited
		if current, ferr := s.bookings.FindByID(ctx, booking.ID); ferr == nil && current != nil && current.IsTerminal() {
			return outcomeFor(current), nil
		}
		return &models.VerifyOutcome{Booking: booking, Message: "Payment verification already in progress"}, nil
	}
	defer release()

	// re-read under the lock; a concurrent callback may have settled it
	current, err := s.bookings.FindByID(ctx, booking.ID)
	if err != nil {
		return &models.VerifyOutcome{Booking: booking, Message: "Could not load booking"}, fmt.Errorf("failed to reload booking: %w", err)
	}
	if current != nil {
		booking = current
	}
	if booking.IsTerminal() {
		return outcomeFor(booking), nil
	}

	query := payment.StatusQuery{
		TransactionID: booking.TransactionID,
		TotalAmount:   booking.TotalAmount,
	}
	if booking.PaymentSessionID != nil {
		query.SessionID = *booking.PaymentSessionID
	}

	outcome, err := gateway.QueryStatus(ctx, query)
	if err != nil {
		log.WithError(err).Warn("Payment status query failed; booking left unsettled")
		s.metrics.Verification(gateway.Method(), "unavailable")
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventStatusCheckFailed, models.PaymentSourceGateway).
			ForBooking(booking).
			SetError(err.Error()))
		return &models.VerifyOutcome{
			Booking: booking,
			Message: "Payment could not be confirmed yet. Please check your booking shortly.",
		}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	audit := models.NewPaymentAudit(models.PaymentEventStatusCheckResponse, models.PaymentSourceGateway).ForBooking(booking)
	audit.SetGatewayResult(outcome.GatewayStatus(), "")

	switch o := outcome.(type) {
	case payment.Complete:
		audit.SetGatewayResult("", o.Ref)
		if o.Amount != nil && !audit.SetAmounts(booking.TotalAmount, *o.Amount) {
			s.audit(ctx, audit)
			log.WithFields(logrus.Fields{
				"expected_amount": booking.TotalAmount,
				"received_amount": *o.Amount,
			}).Error("Gateway reported a different amount than booked")

			mismatch := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceSystem).ForBooking(booking)
			mismatch.SetAmounts(booking.TotalAmount, *o.Amount)
			mismatch.SetGatewayResult(o.Status, o.Ref)
			s.audit(ctx, mismatch)

			failed := s.fail(ctx, booking, models.FailureReasonAmountMismatch, o.Status)
			s.metrics.Verification(gateway.Method(), "amount_mismatch")
			return outcomeFor(failed), nil
		}
		s.audit(ctx, audit)
		return s.confirm(ctx, booking, gateway.Method(), o.Ref)

	case payment.Pending:
		s.audit(ctx, audit)
		if !failPending {
			s.metrics.Verification(gateway.Method(), "pending")
			return &models.VerifyOutcome{Booking: booking, Message: "Payment is still pending at the gateway"}, nil
		}
		failed := s.fail(ctx, booking, models.FailureReasonPaymentNotDone, o.Status)
		s.metrics.Verification(gateway.Method(), "failed")
		return outcomeFor(failed), nil

	case payment.Other:
		audit.SetPayload(o.Raw)
		s.audit(ctx, audit)
		failed := s.fail(ctx, booking, models.FailureReasonPaymentNotDone, o.Status)
		s.metrics.Verification(gateway.Method(), "failed")
		return outcomeFor(failed), nil
	}

	return &models.VerifyOutcome{Booking: booking, Message: "Unrecognised gateway status"},
		fmt.Errorf("unexpected gateway outcome %T", outcome)
}

// confirm takes the seats and marks the booking confirmed. If the booking was
// settled concurrently the seats are given back.
func (s *BookingOrchestratorService) confirm(
	ctx context.Context,
	booking *models.Booking,
	gatewayName string,
	gatewayRef string,
) (*models.VerifyOutcome, error) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": booking.TransactionID,
		"trip_id":        booking.TripID,
		"gateway":        gatewayName,
	})

	// 1. Take the seats
	remaining, err := s.inventory.Decrement(ctx, booking.TripID, booking.NumberOfPersons)
	if err != nil {
		if errors.Is(err, database.ErrInsufficientSeats) || errors.Is(err, database.ErrTripNotFound) {
			// a duplicate verification may have taken the seats and settled it
			if current, ferr := s.bookings.FindByID(ctx, booking.ID); ferr == nil && current != nil && current.IsTerminal() {
				return outcomeFor(current), nil
			}
			return s.allocationFailed(ctx, booking, gatewayName, gatewayRef, err), nil
		}
		log.WithError(err).Error("Seat decrement failed; booking left unsettled")
		return &models.VerifyOutcome{Booking: booking, Message: "Payment received, confirmation pending"},
			fmt.Errorf("%w: %v", ErrInventory, err)
	}

	// 2. Mark confirmed, only from pending
	ref := gatewayRef
	extra := models.StatusExtra{}
	if ref != "" {
		extra.PaymentGatewayRef = &ref
	}
	confirmed, applied, err := s.bookings.UpdateStatus(ctx, booking.ID,
		models.BookingStatusConfirmed, models.PaymentStatusSucceeded, extra)
	if err != nil || !applied {
		// 3. Another path settled it first
		s.restoreSeats(ctx, booking, log)
		if err != nil {
			log.WithError(err).Error("Failed to confirm booking after seat decrement")
			return &models.VerifyOutcome{Booking: booking, Message: "Payment received, confirmation pending"},
				fmt.Errorf("failed to confirm booking: %w", err)
		}
		return outcomeFor(confirmed), nil
	}

	audit := models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceSystem).ForBooking(confirmed)
	audit.SetGatewayResult("", gatewayRef)
	s.audit(ctx, audit)
	s.publish(ctx, events.BookingConfirmed, confirmed)
	s.metrics.Verification(gatewayName, "confirmed")

	log.WithFields(logrus.Fields{
		"gateway_ref":     gatewayRef,
		"seats_remaining": remaining,
	}).Info("Booking confirmed")

	return outcomeFor(confirmed), nil
}

// allocationFailed fails a booking whose payment succeeded but whose seats
// could not be taken. Money was received without a seat: this alerts.
func (s *BookingOrchestratorService) allocationFailed(
	ctx context.Context,
	booking *models.Booking,
	gatewayName string,
	gatewayRef string,
	cause error,
) *models.VerifyOutcome {
	s.logger.WithFields(logrus.Fields{
		"alert":          "seat_allocation_failed",
		"booking_id":     booking.ID,
		"transaction_id": booking.TransactionID,
		"trip_id":        booking.TripID,
		"gateway":        gatewayName,
		"gateway_ref":    gatewayRef,
		"seats":          booking.NumberOfPersons,
	}).WithError(cause).Error("Payment verified but seats could not be allocated; manual refund required")

	s.metrics.SeatAllocationFailure()
	s.metrics.Verification(gatewayName, "allocation_failed")

	audit := models.NewPaymentAudit(models.PaymentEventSeatAllocationFailed, models.PaymentSourceSystem).ForBooking(booking)
	audit.SetGatewayResult("", gatewayRef)
	audit.SetError(cause.Error())
	s.audit(ctx, audit)

	reason := models.FailureReasonSeatAllocation
	extra := models.StatusExtra{FailureReason: &reason}
	if gatewayRef != "" {
		extra.PaymentGatewayRef = &gatewayRef
	}
	failed, applied, err := s.bookings.UpdateStatus(ctx, booking.ID,
		models.BookingStatusFailed, models.PaymentStatusFailed, extra)
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to record seat allocation failure")
		return &models.VerifyOutcome{Booking: booking, Message: reason}
	}
	if applied {
		s.publish(ctx, events.BookingAllocationFailed, failed)
	}
	return outcomeFor(failed)
}

// fail moves a non-terminal booking to FAILED and returns the current record
func (s *BookingOrchestratorService) fail(
	ctx context.Context,
	booking *models.Booking,
	reason string,
	gatewayStatus string,
) *models.Booking {
	failed, applied, err := s.bookings.UpdateStatus(ctx, booking.ID,
		models.BookingStatusFailed, models.PaymentStatusFailed,
		models.StatusExtra{FailureReason: &reason})
	if err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to mark booking as failed")
		return booking
	}
	if !applied {
		return failed
	}

	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceSystem).ForBooking(failed)
	audit.SetGatewayResult(gatewayStatus, "")
	audit.SetError(reason)
	s.audit(ctx, audit)
	s.publish(ctx, events.BookingFailed, failed)

	s.logger.WithFields(logrus.Fields{
		"booking_id":     failed.ID,
		"transaction_id": failed.TransactionID,
		"gateway_status": gatewayStatus,
		"reason":         reason,
	}).Info("Booking failed")
	return failed
}

func (s *BookingOrchestratorService) restoreSeats(ctx context.Context, booking *models.Booking, log *logrus.Entry) {
	if _, err := s.inventory.Increment(ctx, booking.TripID, booking.NumberOfPersons); err != nil {
		log.WithError(err).WithField("alert", "seat_inventory_drift").
			Error("Failed to return seats after losing the confirmation race")
	}
}

// ============================================================================
// CANCEL
// ============================================================================

// Cancel cancels a booking for its owner or an admin. Cancelling a confirmed
// booking returns its seats; cancelling a failed or cancelled one is a no-op.
func (s *BookingOrchestratorService) Cancel(
	ctx context.Context,
	bookingID uuid.UUID,
	actingUserID uuid.UUID,
	isAdmin bool,
) (*models.Booking, error) {
	// 1. Look up and authorize
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	if booking == nil || (!isAdmin && !booking.IsOwnedBy(actingUserID)) {
		return nil, ErrNotFoundOrUnauthorized
	}

	// 2-3. Transition from the status we observed; retry if it moved underneath us
	for attempt := 0; attempt < 3; attempt++ {
		if !cancellable(booking.BookingStatus) {
			return booking, nil
		}
		previous := booking.BookingStatus

		cancelled, applied, err := s.bookings.TransitionFrom(ctx, booking.ID,
			[]models.BookingStatus{previous},
			models.BookingStatusCancelled, booking.PaymentStatus, models.StatusExtra{})
		if err != nil {
			return nil, fmt.Errorf("failed to cancel booking: %w", err)
		}
		if !applied {
			booking = cancelled
			continue
		}

		log := s.logger.WithFields(logrus.Fields{
			"booking_id":      cancelled.ID,
			"transaction_id":  cancelled.TransactionID,
			"trip_id":         cancelled.TripID,
			"user_id":         actingUserID,
			"previous_status": previous,
		})

		// 4. Compensate confirmed seats
		if previous == models.BookingStatusConfirmed {
			if _, err := s.inventory.Increment(ctx, cancelled.TripID, cancelled.NumberOfPersons); err != nil {
				log.WithError(err).WithField("alert", "seat_inventory_drift").
					Error("Booking cancelled but seats could not be returned to the trip")
			}
		}

		source := models.PaymentSourceUser
		if isAdmin && !booking.IsOwnedBy(actingUserID) {
			source = models.PaymentSourceBackend
		}
		s.audit(ctx, models.NewPaymentAudit(models.PaymentEventCancelled, source).ForBooking(cancelled))
		s.publish(ctx, events.BookingCancelled, cancelled)
		s.metrics.Cancellation()

		log.Info("Booking cancelled")
		return cancelled, nil
	}

	return nil, fmt.Errorf("booking %s changed state repeatedly during cancellation", bookingID)
}

func cancellable(status models.BookingStatus) bool {
	return status == models.BookingStatusPending || status == models.BookingStatusConfirmed
}

// ============================================================================
// READ PROJECTIONS
// ============================================================================

// ListMyBookings returns the caller's bookings, newest first
func (s *BookingOrchestratorService) ListMyBookings(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	return s.bookings.ListByUser(ctx, userID)
}

// ListAllBookings returns a filtered page of bookings for admins
func (s *BookingOrchestratorService) ListAllBookings(
	ctx context.Context,
	filter models.BookingFilter,
	page, limit int,
) (*models.ListBookingsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	views, total, err := s.bookings.ListAllPopulated(ctx, filter, page, limit)
	if err != nil {
		return nil, err
	}
	return &models.ListBookingsResponse{Bookings: views, Total: total, Page: page, Limit: limit}, nil
}

// GetBooking returns a booking visible to the caller
func (s *BookingOrchestratorService) GetBooking(
	ctx context.Context,
	bookingID uuid.UUID,
	actingUserID uuid.UUID,
	isAdmin bool,
) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	if booking == nil || (!isAdmin && !booking.IsOwnedBy(actingUserID)) {
		return nil, ErrNotFoundOrUnauthorized
	}
	return booking, nil
}

// Receipt renders the PDF receipt of a confirmed booking visible to the caller
func (s *BookingOrchestratorService) Receipt(
	ctx context.Context,
	bookingID uuid.UUID,
	actingUserID uuid.UUID,
	isAdmin bool,
) ([]byte, string, error) {
	booking, err := s.GetBooking(ctx, bookingID, actingUserID, isAdmin)
	if err != nil {
		return nil, "", err
	}
	if booking.BookingStatus != models.BookingStatusConfirmed {
		return nil, "", fmt.Errorf("%w: %v", ErrValidation, receipt.ErrNotConfirmed)
	}

	title := ""
	if trip, err := s.inventory.GetTripPricing(ctx, booking.TripID); err == nil && trip != nil {
		title = trip.Title
	}
	pdf, err := receipt.Render(booking, title)
	if err != nil {
		return nil, "", err
	}
	return pdf, receipt.Filename(booking), nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *BookingOrchestratorService) callbackURL(method models.PaymentMethod) string {
	return s.config.CallbackBaseURL + "/" + string(method)
}

// audit failures are logged by the store and never block a booking
func (s *BookingOrchestratorService) audit(ctx context.Context, a *models.PaymentAudit) {
	if s.audits == nil {
		return
	}
	_ = s.audits.Log(ctx, a)
}

func (s *BookingOrchestratorService) publish(ctx context.Context, eventType string, b *models.Booking) {
	if err := s.publisher.Publish(ctx, events.NewBookingEvent(eventType, b)); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": b.ID,
			"event":      eventType,
		}).Warn("Failed to publish booking event")
	}
}

func outcomeFor(b *models.Booking) *models.VerifyOutcome {
	switch b.State() {
	case models.StateConfirmed:
		return &models.VerifyOutcome{Success: true, Booking: b, Message: "Booking confirmed"}
	case models.StateCancelled:
		return &models.VerifyOutcome{Booking: b, Message: "Booking was cancelled"}
	case models.StateFailed:
		msg := "Payment was not completed"
		if b.FailureReason != nil && *b.FailureReason != "" {
			msg = *b.FailureReason
		}
		return &models.VerifyOutcome{Booking: b, Message: msg}
	}
	return &models.VerifyOutcome{Booking: b, Message: "Payment is being processed"}
}

func roundAmount(v float64) float64 {
	return math.Round(v*100) / 100
}
