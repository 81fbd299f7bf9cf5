package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/services"
)

// errorStatus maps booking engine errors to an HTTP status and a stable code
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrUnsupportedGateway):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, services.ErrInsufficientCapacity):
		return http.StatusConflict, "insufficient_capacity"
	case errors.Is(err, services.ErrDuplicateTransaction):
		return http.StatusConflict, "duplicate_transaction"
	case errors.Is(err, services.ErrTripNotFound):
		return http.StatusNotFound, "trip_not_found"
	case errors.Is(err, services.ErrNotFoundOrUnauthorized), errors.Is(err, services.ErrBookingNotFound):
		return http.StatusNotFound, "booking_not_found"
	case errors.Is(err, services.ErrGatewayUnavailable):
		return http.StatusBadGateway, "gateway_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes {"error": code, "message": text}; server errors are
// logged and their details hidden
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		message = "Something went wrong. Please try again."
	}
	c.JSON(status, gin.H{"error": code, "message": message})
}
