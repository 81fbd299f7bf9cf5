package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/yatra/booking-backend/internal/models"
)

// TripInventoryRepository owns the per-trip seat counters.
//
// available_seats is only ever changed by the two conditional UPDATE
// statements below, so concurrent confirmations on the same trip are
// serialised by PostgreSQL row locking.
type TripInventoryRepository struct {
	db *sqlx.DB
}

// NewTripInventoryRepository creates a new TripInventoryRepository
func NewTripInventoryRepository(db *sqlx.DB) *TripInventoryRepository {
	return &TripInventoryRepository{db: db}
}

// GetTripPricing returns the unit price, capacity and current availability of a trip.
// Returns nil, nil when the trip does not exist.
func (r *TripInventoryRepository) GetTripPricing(ctx context.Context, tripID uuid.UUID) (*models.TripInventory, error) {
	var inv models.TripInventory
	query := `
		SELECT trip_id, title, capacity, available_seats, unit_price, currency, updated_at
		FROM trip_inventory
		WHERE trip_id = $1`

	err := r.db.GetContext(ctx, &inv, query, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip inventory: %w", err)
	}
	return &inv, nil
}

// CheckAvailability reports whether requested seats are currently free.
// Nothing is held: a later Decrement is the only enforcement point.
func (r *TripInventoryRepository) CheckAvailability(ctx context.Context, tripID uuid.UUID, requested int) (bool, error) {
	var available int
	err := r.db.GetContext(ctx, &available,
		`SELECT available_seats FROM trip_inventory WHERE trip_id = $1`, tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrTripNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}
	return requested <= available, nil
}

// Decrement atomically takes amount seats and returns the new availability.
// Fails with ErrInsufficientSeats rather than going below zero.
func (r *TripInventoryRepository) Decrement(ctx context.Context, tripID uuid.UUID, amount int) (int, error) {
	if amount < 1 {
		return 0, fmt.Errorf("decrement amount must be positive, got %d", amount)
	}

	query := `
		UPDATE trip_inventory
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE trip_id = $1 AND available_seats >= $2
		RETURNING available_seats`

	var newAvailable int
	err := r.db.QueryRowxContext(ctx, query, tripID, amount).Scan(&newAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.missOrShort(ctx, tripID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to decrement seats: %w", err)
	}
	return newAvailable, nil
}

// Increment atomically returns amount seats, clipped at capacity.
// Used only to compensate a cancelled confirmation.
func (r *TripInventoryRepository) Increment(ctx context.Context, tripID uuid.UUID, amount int) (int, error) {
	if amount < 1 {
		return 0, fmt.Errorf("increment amount must be positive, got %d", amount)
	}

	query := `
		UPDATE trip_inventory
		SET available_seats = LEAST(capacity, available_seats + $2), updated_at = NOW()
		WHERE trip_id = $1
		RETURNING available_seats`

	var newAvailable int
	err := r.db.QueryRowxContext(ctx, query, tripID, amount).Scan(&newAvailable)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTripNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment seats: %w", err)
	}
	return newAvailable, nil
}

// Seed creates the inventory row for a newly published trip with every seat free
func (r *TripInventoryRepository) Seed(ctx context.Context, inv *models.TripInventory) error {
	if inv.Capacity < 1 {
		return fmt.Errorf("capacity must be positive, got %d", inv.Capacity)
	}
	query := `
		INSERT INTO trip_inventory (trip_id, title, capacity, available_seats, unit_price, currency, updated_at)
		VALUES ($1, $2, $3, $3, $4, $5, NOW())
		RETURNING available_seats, updated_at`

	err := r.db.QueryRowxContext(ctx, query,
		inv.TripID, inv.Title, inv.Capacity, inv.UnitPrice, inv.Currency,
	).Scan(&inv.AvailableSeats, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to seed trip inventory: %w", err)
	}
	return nil
}

// missOrShort tells a missing trip apart from one without enough seats
func (r *TripInventoryRepository) missOrShort(ctx context.Context, tripID uuid.UUID) error {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM trip_inventory WHERE trip_id = $1)`, tripID)
	if err != nil {
		return fmt.Errorf("failed to check trip existence: %w", err)
	}
	if !exists {
		return ErrTripNotFound
	}
	return ErrInsufficientSeats
}
