package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated              PaymentEventType = "payment_initiated"
	PaymentEventInitiationFailed       PaymentEventType = "payment_initiation_failed"
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventStatusCheckResponse    PaymentEventType = "status_check_response"
	PaymentEventStatusCheckFailed      PaymentEventType = "status_check_failed"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventCancelled              PaymentEventType = "booking_cancelled"
	PaymentEventBookingConfirmed       PaymentEventType = "booking_confirmed"
	PaymentEventSeatAllocationFailed   PaymentEventType = "seat_allocation_failed"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend  PaymentEventSource = "backend"
	PaymentSourceCallback PaymentEventSource = "gateway_callback"
	PaymentSourceGateway  PaymentEventSource = "gateway_api"
	PaymentSourceUser     PaymentEventSource = "user"
	PaymentSourceSystem   PaymentEventSource = "system"
)

// JSONB stores arbitrary JSON payloads
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	bytes, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(bytes), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// PaymentAudit is an append-only record of one payment event for a booking
type PaymentAudit struct {
	ID            uuid.UUID          `json:"id" db:"id"`
	BookingID     *uuid.UUID         `json:"booking_id,omitempty" db:"booking_id"`
	TransactionID *string            `json:"transaction_id,omitempty" db:"transaction_id"`
	Gateway       *string            `json:"gateway,omitempty" db:"gateway"`
	EventType     PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource   PaymentEventSource `json:"event_source" db:"event_source"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	GatewayStatus *string `json:"gateway_status,omitempty" db:"gateway_status"`
	GatewayRef    *string `json:"gateway_ref,omitempty" db:"gateway_ref"`
	Payload       JSONB   `json:"payload,omitempty" db:"payload"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`

	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// ForBooking attaches booking identity to the audit
func (pa *PaymentAudit) ForBooking(b *Booking) *PaymentAudit {
	if b == nil {
		return pa
	}
	id := b.ID
	txn := b.TransactionID
	gw := string(b.PaymentMethod)
	pa.BookingID = &id
	pa.TransactionID = &txn
	pa.Gateway = &gw
	return pa
}

// SetTransaction records a transaction ID when no booking was resolved
func (pa *PaymentAudit) SetTransaction(transactionID, gateway string) *PaymentAudit {
	if transactionID != "" {
		pa.TransactionID = &transactionID
	}
	if gateway != "" {
		pa.Gateway = &gateway
	}
	return pa
}

// SetAmounts records both amounts and returns whether they match to the paisa
func (pa *PaymentAudit) SetAmounts(expected, received float64) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	match := AmountsEqual(expected, received)
	pa.AmountsMatch = &match
	return match
}

// SetGatewayResult stores the gateway-reported status and reference
func (pa *PaymentAudit) SetGatewayResult(status, ref string) *PaymentAudit {
	if status != "" {
		pa.GatewayStatus = &status
	}
	if ref != "" {
		pa.GatewayRef = &ref
	}
	return pa
}

// SetPayload stores the raw gateway payload
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetClient sets request metadata for callback audits
func (pa *PaymentAudit) SetClient(ip, userAgent, deviceType string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	if deviceType != "" {
		pa.DeviceType = &deviceType
	}
	return pa
}

// AmountsEqual compares two currency amounts with a half-paisa tolerance
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.005
}
