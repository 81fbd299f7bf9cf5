package models

import (
	"time"

	"github.com/google/uuid"
)

// TripInventory is the seat-count subset of a published trip
type TripInventory struct {
	TripID         uuid.UUID `json:"trip_id" db:"trip_id"`
	Title          string    `json:"title" db:"title"`
	Capacity       int       `json:"capacity" db:"capacity"`
	AvailableSeats int       `json:"available_seats" db:"available_seats"`
	UnitPrice      float64   `json:"unit_price" db:"unit_price"`
	Currency       string    `json:"currency" db:"currency"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// HasSeatsFor reports whether requested persons fit in the current availability
func (t *TripInventory) HasSeatsFor(requested int) bool {
	return requested <= t.AvailableSeats
}

// ConfirmedSeats returns how many seats are held by confirmed bookings
func (t *TripInventory) ConfirmedSeats() int {
	return t.Capacity - t.AvailableSeats
}
