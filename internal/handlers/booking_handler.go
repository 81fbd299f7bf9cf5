package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/middleware"
	"github.com/yatra/booking-backend/internal/models"
)

// BookingService is the orchestrator surface used by the HTTP layer
type BookingService interface {
	Initiate(ctx context.Context, userID uuid.UUID, req *models.InitiateBookingRequest) (*models.InitiateBookingResponse, error)
	Cancel(ctx context.Context, bookingID, actingUserID uuid.UUID, isAdmin bool) (*models.Booking, error)
	ListMyBookings(ctx context.Context, userID uuid.UUID) ([]models.Booking, error)
	ListAllBookings(ctx context.Context, filter models.BookingFilter, page, limit int) (*models.ListBookingsResponse, error)
	GetBooking(ctx context.Context, bookingID, actingUserID uuid.UUID, isAdmin bool) (*models.Booking, error)
	Receipt(ctx context.Context, bookingID, actingUserID uuid.UUID, isAdmin bool) ([]byte, string, error)
	Reverify(ctx context.Context, bookingID uuid.UUID) (*models.VerifyOutcome, error)
}

// BookingHandler handles booking endpoints for users and admins
type BookingHandler struct {
	bookings BookingService
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingService, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, logger: logger}
}

// RegisterRoutes mounts the booking routes; auth and admin guard the groups
func (h *BookingHandler) RegisterRoutes(rg *gin.RouterGroup, auth gin.HandlerFunc, admin gin.HandlerFunc) {
	bookings := rg.Group("/bookings")
	bookings.Use(auth)
	{
		bookings.POST("/initiate", h.Initiate)
		bookings.PUT("/cancel/:booking_id", h.Cancel)
		bookings.GET("/my-bookings", h.MyBookings)
		bookings.GET("/:booking_id", h.GetBooking)
		bookings.GET("/:booking_id/receipt", h.Receipt)

		adminRoutes := bookings.Group("/admin")
		adminRoutes.Use(admin)
		adminRoutes.GET("/all", h.AdminListAll)
		adminRoutes.POST("/:booking_id/reverify", h.AdminReverify)
	}
}

// ============================================================================
// INITIATE - POST /api/v1/bookings/initiate
// ============================================================================

// Initiate starts a booking and returns the gateway redirect payload
func (h *BookingHandler) Initiate(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
		return
	}

	var req models.InitiateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.bookings.Initiate(c.Request.Context(), userCtx.UserID, &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ============================================================================
// CANCEL - PUT /api/v1/bookings/cancel/:booking_id
// ============================================================================

// Cancel cancels the caller's booking (or any booking, for admins)
func (h *BookingHandler) Cancel(c *gin.Context) {
	userCtx, bookingID, ok := h.callerAndBooking(c)
	if !ok {
		return
	}

	booking, err := h.bookings.Cancel(c.Request.Context(), bookingID, userCtx.UserID, userCtx.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// READS
// ============================================================================

// MyBookings lists the caller's bookings
func (h *BookingHandler) MyBookings(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
		return
	}

	bookings, err := h.bookings.ListMyBookings(c.Request.Context(), userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// GetBooking returns one booking visible to the caller
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, bookingID, ok := h.callerAndBooking(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), bookingID, userCtx.UserID, userCtx.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking": booking, "state": booking.State()})
}

// Receipt downloads the PDF receipt of a confirmed booking
func (h *BookingHandler) Receipt(c *gin.Context) {
	userCtx, bookingID, ok := h.callerAndBooking(c)
	if !ok {
		return
	}

	pdf, filename, err := h.bookings.Receipt(c.Request.Context(), bookingID, userCtx.UserID, userCtx.IsAdmin())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", pdf)
}

// ============================================================================
// ADMIN
// ============================================================================

// AdminListAll lists bookings with optional filters
// Query: status, payment_status, payment_method, trip_id, user_id, page, limit
func (h *BookingHandler) AdminListAll(c *gin.Context) {
	filter := models.BookingFilter{
		BookingStatus: models.BookingStatus(c.Query("status")),
		PaymentStatus: models.PaymentStatus(c.Query("payment_status")),
		PaymentMethod: models.PaymentMethod(c.Query("payment_method")),
	}
	for param, target := range map[string]**uuid.UUID{"trip_id": &filter.TripID, "user_id": &filter.UserID} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid " + param})
			return
		}
		*target = &id
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	resp, err := h.bookings.ListAllBookings(c.Request.Context(), filter, page, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// AdminReverify re-runs payment verification for an unsettled booking
func (h *BookingHandler) AdminReverify(c *gin.Context) {
	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid booking ID"})
		return
	}

	outcome, err := h.bookings.Reverify(c.Request.Context(), bookingID)
	if err != nil {
		if outcome != nil {
			status, code := errorStatus(err)
			c.JSON(status, gin.H{"error": code, "message": outcome.Message, "booking": outcome.Booking})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (h *BookingHandler) callerAndBooking(c *gin.Context) (middleware.UserContext, uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "user not authenticated"})
		return userCtx, uuid.Nil, false
	}

	bookingID, err := uuid.Parse(c.Param("booking_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "invalid booking ID"})
		return userCtx, uuid.Nil, false
	}
	return userCtx, bookingID, true
}
