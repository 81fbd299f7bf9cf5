package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/models"
	"github.com/yatra/booking-backend/internal/utils"
)

// AuditLogger persists payment audit entries
type AuditLogger interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// logAuditError logs audit failures without failing the request
func logAuditError(logger *logrus.Logger, operation string, err error) {
	if err != nil {
		logger.WithError(err).WithField("operation", operation).Warn("AUDIT ERROR")
	}
}

// safeLogWebhook records a raw gateway callback with the caller's network metadata
func (h *PaymentCallbackHandler) safeLogWebhook(c *gin.Context, gateway string, params map[string]interface{}) {
	if h.audits == nil {
		return
	}
	userAgent := utils.GetUserAgent(c)
	device := utils.ParseUserAgent(userAgent)

	audit := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceCallback).
		SetTransaction("", gateway).
		SetPayload(params).
		SetClient(utils.GetRealIP(c), userAgent, device.DeviceType)

	logAuditError(h.logger, "LogWebhook", h.audits.Log(c.Request.Context(), audit))
}
