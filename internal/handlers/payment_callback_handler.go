package handlers

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/models"
)

// PaymentVerifier settles a booking from a gateway callback
type PaymentVerifier interface {
	Verify(ctx context.Context, gatewayName string, params url.Values) (*models.VerifyOutcome, error)
}

// PaymentCallbackHandler receives browser redirects from payment gateways
type PaymentCallbackHandler struct {
	verifier   PaymentVerifier
	audits     AuditLogger
	successURL string
	failureURL string
	logger     *logrus.Logger
}

// NewPaymentCallbackHandler creates a new PaymentCallbackHandler
func NewPaymentCallbackHandler(
	verifier PaymentVerifier,
	audits AuditLogger,
	successURL, failureURL string,
	logger *logrus.Logger,
) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		verifier:   verifier,
		audits:     audits,
		successURL: successURL,
		failureURL: failureURL,
		logger:     logger,
	}
}

// RegisterRoutes mounts the public callback routes
func (h *PaymentCallbackHandler) RegisterRoutes(rg *gin.RouterGroup) {
	payments := rg.Group("/payments")
	{
		payments.GET("/callback/:gateway", h.Callback)
		payments.POST("/callback/:gateway", h.Callback)
	}
}

// ============================================================================
// CALLBACK - GET|POST /api/v1/payments/callback/:gateway
// ============================================================================

// Callback verifies the payment with the gateway and redirects the browser to
// the frontend success or failure page. It never answers with an error body.
func (h *PaymentCallbackHandler) Callback(c *gin.Context) {
	gateway := c.Param("gateway")

	if err := c.Request.ParseForm(); err != nil {
		h.logger.WithError(err).WithField("gateway", gateway).Warn("Malformed callback body")
	}
	params := c.Request.Form

	raw := make(map[string]interface{}, len(params))
	for k := range params {
		raw[k] = params.Get(k)
	}
	h.safeLogWebhook(c, gateway, raw)

	outcome, err := h.verifier.Verify(c.Request.Context(), gateway, params)
	if err != nil {
		h.logger.WithError(err).WithField("gateway", gateway).Warn("Payment callback not settled")
	}
	c.Redirect(redirectStatus(c), h.redirectURL(outcome, err))
}

func (h *PaymentCallbackHandler) redirectURL(outcome *models.VerifyOutcome, err error) string {
	target := h.failureURL
	q := url.Values{}

	switch {
	case outcome == nil:
		q.Set("status", "error")
		q.Set("message", "We could not verify your payment.")
	default:
		if outcome.Success && err == nil {
			target = h.successURL
		}
		if outcome.Booking != nil {
			q.Set("bookingId", outcome.Booking.ID.String())
			q.Set("status", string(outcome.Booking.State()))
		} else {
			q.Set("status", "error")
		}
		q.Set("message", outcome.Message)
	}

	u, parseErr := url.Parse(target)
	if parseErr != nil {
		return target + "?" + q.Encode()
	}
	existing := u.Query()
	for k, v := range q {
		existing[k] = v
	}
	u.RawQuery = existing.Encode()
	return u.String()
}

// POST callbacks must be turned into a GET on the frontend page
func redirectStatus(c *gin.Context) int {
	if c.Request.Method == http.MethodPost {
		return http.StatusSeeOther
	}
	return http.StatusFound
}
