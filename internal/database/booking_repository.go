package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/yatra/booking-backend/internal/models"
)

const bookingColumns = `
	id, user_id, trip_id, number_of_persons, total_amount, currency,
	transaction_id, payment_gateway_ref, payment_session_id, payment_method,
	booking_status, payment_status, failure_reason,
	confirmed_at, cancelled_at, created_at, updated_at`

// BookingRepository handles booking record database operations
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// CREATE / LOOKUP
// ============================================================================

// Create inserts a new booking in (pending, pending).
// Returns ErrDuplicateTransaction when the transaction id is taken.
func (r *BookingRepository) Create(ctx context.Context, draft models.BookingDraft) (*models.Booking, error) {
	query := `
		INSERT INTO bookings (
			id, user_id, trip_id, number_of_persons, total_amount, currency,
			transaction_id, payment_method, booking_status, payment_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.QueryRowxContext(ctx, query,
		uuid.New(), draft.UserID, draft.TripID, draft.NumberOfPersons, draft.TotalAmount, draft.Currency,
		draft.TransactionID, draft.PaymentMethod, models.BookingStatusPending, models.PaymentStatusPending,
	).StructScan(&booking)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTransaction
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}
	return &booking, nil
}

// FindByTransactionID returns nil, nil when no booking matches
func (r *BookingRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE transaction_id = $1`, transactionID)
}

// FindByID returns nil, nil when no booking matches
func (r *BookingRepository) FindByID(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return r.findOne(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
}

func (r *BookingRepository) findOne(ctx context.Context, query string, arg interface{}) (*models.Booking, error) {
	var booking models.Booking
	err := r.db.GetContext(ctx, &booking, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// ============================================================================
// STATUS TRANSITIONS
// ============================================================================

// UpdateStatus moves a booking to (bookingStatus, paymentStatus) only while the
// current status permits it. Every transition leaves 'pending'; cancellation may
// also leave 'confirmed'. When the guard rejects the update the current row is
// returned unchanged with applied=false.
func (r *BookingRepository) UpdateStatus(
	ctx context.Context,
	bookingID uuid.UUID,
	bookingStatus models.BookingStatus,
	paymentStatus models.PaymentStatus,
	extra models.StatusExtra,
) (*models.Booking, bool, error) {
	from := []models.BookingStatus{models.BookingStatusPending}
	if bookingStatus == models.BookingStatusCancelled {
		from = append(from, models.BookingStatusConfirmed)
	}
	return r.TransitionFrom(ctx, bookingID, from, bookingStatus, paymentStatus, extra)
}

// TransitionFrom is UpdateStatus with an explicit set of permitted source
// statuses. Cancellation uses it to pin the status it observed, so the
// compensating seat increment matches what was actually cancelled.
func (r *BookingRepository) TransitionFrom(
	ctx context.Context,
	bookingID uuid.UUID,
	from []models.BookingStatus,
	bookingStatus models.BookingStatus,
	paymentStatus models.PaymentStatus,
	extra models.StatusExtra,
) (*models.Booking, bool, error) {
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		if s.IsTerminal() && s != models.BookingStatusConfirmed {
			continue
		}
		allowed = append(allowed, string(s))
	}

	query := `
		UPDATE bookings SET
			booking_status = $2,
			payment_status = $3,
			payment_gateway_ref = COALESCE($4, payment_gateway_ref),
			payment_session_id = COALESCE($5, payment_session_id),
			failure_reason = COALESCE($6, failure_reason),
			confirmed_at = CASE WHEN $2 = 'confirmed' THEN NOW() ELSE confirmed_at END,
			cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END,
			updated_at = NOW()
		WHERE id = $1 AND booking_status = ANY($7)
		RETURNING ` + bookingColumns

	var booking models.Booking
	err := r.db.QueryRowxContext(ctx, query,
		bookingID, bookingStatus, paymentStatus,
		extra.PaymentGatewayRef, extra.PaymentSessionID, extra.FailureReason,
		pq.Array(allowed),
	).StructScan(&booking)
	if err == nil {
		return &booking, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to update booking status: %w", err)
	}

	current, err := r.FindByID(ctx, bookingID)
	if err != nil {
		return nil, false, err
	}
	if current == nil {
		return nil, false, fmt.Errorf("booking %s not found", bookingID)
	}
	return current, false, nil
}

// ============================================================================
// READ PROJECTIONS
// ============================================================================

// ListByUser returns a user's bookings, newest first
func (r *BookingRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE user_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &bookings, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list user bookings: %w", err)
	}
	return bookings, nil
}

// ListAllPopulated returns a page of bookings joined with trip and user
// details, plus the total number of matching rows
func (r *BookingRepository) ListAllPopulated(ctx context.Context, filter models.BookingFilter, page, limit int) ([]models.BookingView, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var conditions []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.BookingStatus != "" {
		add("b.booking_status = $%d", filter.BookingStatus)
	}
	if filter.PaymentStatus != "" {
		add("b.payment_status = $%d", filter.PaymentStatus)
	}
	if filter.PaymentMethod != "" {
		add("b.payment_method = $%d", filter.PaymentMethod)
	}
	if filter.TripID != nil {
		add("b.trip_id = $%d", *filter.TripID)
	}
	if filter.UserID != nil {
		add("b.user_id = $%d", *filter.UserID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM bookings b ` + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	listQuery := fmt.Sprintf(`
		SELECT
			b.id, b.user_id, b.trip_id, b.number_of_persons, b.total_amount, b.currency,
			b.transaction_id, b.payment_gateway_ref, b.payment_session_id, b.payment_method,
			b.booking_status, b.payment_status, b.failure_reason,
			b.confirmed_at, b.cancelled_at, b.created_at, b.updated_at,
			COALESCE(t.title, '') AS trip_title,
			u.name AS user_name,
			u.email AS user_email
		FROM bookings b
		LEFT JOIN trip_inventory t ON t.trip_id = b.trip_id
		LEFT JOIN users u ON u.id = b.user_id
		%s
		ORDER BY b.created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)

	views := []models.BookingView{}
	listArgs := append(args, limit, (page-1)*limit)
	if err := r.db.SelectContext(ctx, &views, listQuery, listArgs...); err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}
	return views, total, nil
}

// ListStale returns unsettled bookings (awaiting a callback, or stuck before
// the redirect was recorded) last touched before cutoff, oldest first
func (r *BookingRepository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	bookings := []models.Booking{}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE booking_status = 'pending' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`
	if err := r.db.SelectContext(ctx, &bookings, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}

// Touch bumps updated_at of a still-pending booking so the next stale scan
// moves past it
func (r *BookingRepository) Touch(ctx context.Context, bookingID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET updated_at = NOW() WHERE id = $1 AND booking_status = 'pending'`, bookingID)
	if err != nil {
		return fmt.Errorf("failed to touch booking: %w", err)
	}
	return nil
}
