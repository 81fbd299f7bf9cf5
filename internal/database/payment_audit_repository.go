package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log appends a payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, transaction_id, gateway, event_type, event_source,
			expected_amount, received_amount, amounts_match,
			gateway_status, gateway_ref, payload, error_message,
			ip_address, user_agent, device_type, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.TransactionID, audit.Gateway, audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.AmountsMatch,
		audit.GatewayStatus, audit.GatewayRef, audit.Payload, audit.ErrorMessage,
		audit.IPAddress, audit.UserAgent, audit.DeviceType, audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":     audit.EventType,
			"transaction_id": audit.TransactionID,
		}).Error("Failed to write payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// ListByTransaction returns every audit entry for a transaction, oldest first
func (r *PaymentAuditRepository) ListByTransaction(ctx context.Context, transactionID string) ([]models.PaymentAudit, error) {
	audits := []models.PaymentAudit{}
	query := `
		SELECT
			id, booking_id, transaction_id, gateway, event_type, event_source,
			expected_amount, received_amount, amounts_match,
			gateway_status, gateway_ref, payload, error_message,
			ip_address, user_agent, device_type, created_at
		FROM payment_audits
		WHERE transaction_id = $1
		ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, transactionID); err != nil {
		return nil, fmt.Errorf("failed to get audits by transaction: %w", err)
	}
	return audits, nil
}
