package services

import "errors"

// Booking engine error categories. Handlers map these to HTTP status codes.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientCapacity   = errors.New("not enough seats available")
	ErrDuplicateTransaction   = errors.New("duplicate transaction id")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrInventory              = errors.New("seat inventory update failed")
	ErrNotFoundOrUnauthorized = errors.New("booking not found")
	ErrInvalidCallback        = errors.New("invalid payment callback")
	ErrBookingNotFound        = errors.New("booking not found for transaction")
	ErrTripNotFound           = errors.New("trip not found")
	ErrUnsupportedGateway     = errors.New("unsupported payment method")
)
