// Package payment wraps the hosted-redirect payment gateways used for bookings.
//
// A gateway does two things for the booking engine: it builds the signed
// payload the browser posts to the hosted payment page, and it answers an
// authoritative status query once the user comes back. Callback query
// parameters are parsed for correlation only; they never decide an outcome.
package payment

import (
	"context"
	"errors"
	"math"
	"net/url"
	"strconv"
)

var (
	// ErrGatewayUnavailable covers transport failures, timeouts and 5xx answers
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrInvalidCallback means the callback cannot be correlated to a transaction
	ErrInvalidCallback = errors.New("invalid gateway callback")
	// ErrNotConfigured means the gateway has no merchant credentials
	ErrNotConfigured = errors.New("payment gateway not configured")
)

// Gateway names, matching the booking payment_method column
const (
	MethodEsewa  = "esewa"
	MethodKhalti = "khalti"
)

// InitiationRequest describes the payment the user is about to make
type InitiationRequest struct {
	TransactionID string
	TotalAmount   float64
	// CallbackURL is this service's callback endpoint for the gateway
	CallbackURL string
	ProductName string
}

// InitiationPayload is relayed verbatim to the browser
type InitiationPayload struct {
	RedirectURL string
	FormFields  map[string]string
	Signature   string
	// SessionID is the gateway-side session token (e.g. Khalti pidx), if any
	SessionID string
}

// StatusQuery identifies a payment for an authoritative status lookup
type StatusQuery struct {
	TransactionID string
	TotalAmount   float64
	// SessionID is the token stored at initiation; required by session-based gateways
	SessionID string
}

// Callback is the advisory data a gateway appends to the return URL
type Callback struct {
	TransactionID string
	// Aborted is set when the callback itself says the user cancelled or failed
	Aborted   bool
	Status    string
	SessionID string
	// SignatureValid is nil when the gateway does not sign its callback
	SignatureValid *bool
	Raw            map[string]interface{}
}

// Gateway is one hosted payment provider
type Gateway interface {
	Method() string
	BuildInitiationPayload(ctx context.Context, req InitiationRequest) (*InitiationPayload, error)
	QueryStatus(ctx context.Context, q StatusQuery) (Outcome, error)
	ParseCallback(params url.Values) (*Callback, error)
}

// ============================================================================
// OUTCOME VARIANT
// ============================================================================

// Outcome is the result of a status query: exactly one of Complete, Pending or Other
type Outcome interface {
	outcome()
	// GatewayStatus is the raw status string reported by the gateway
	GatewayStatus() string
}

// Complete means the gateway holds the money for this transaction
type Complete struct {
	Ref string
	// Amount is what the gateway reports was paid, when it reports one
	Amount *float64
	Status string
}

// Pending means the payment has not resolved at the gateway yet
type Pending struct {
	Status string
}

// Other is any non-success answer (refunded, cancelled, not found, ...)
type Other struct {
	Status string
	Raw    map[string]interface{}
}

func (Complete) outcome() {}
func (Pending) outcome()  {}
func (Other) outcome()    {}

func (c Complete) GatewayStatus() string { return c.Status }
func (p Pending) GatewayStatus() string  { return p.Status }
func (o Other) GatewayStatus() string    { return o.Status }

// ============================================================================
// AMOUNTS
// ============================================================================

// FormatAmount renders a rupee amount the same way for signing and for the form
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(math.Round(amount*100)/100, 'f', -1, 64)
}

// ToPaisa converts rupees to the integer minor unit some gateways expect
func ToPaisa(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromPaisa converts an integer minor unit amount back to rupees
func FromPaisa(paisa int64) float64 {
	return float64(paisa) / 100
}
