package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// KhaltiConfig holds Khalti ePayment v2 merchant settings
type KhaltiConfig struct {
	SecretKey  string
	BaseURL    string
	WebsiteURL string
	// SigningKey signs the relayed form fields; falls back to SecretKey
	SigningKey string
	Timeout    time.Duration
}

// KhaltiGateway implements Gateway for Khalti ePayment v2
type KhaltiGateway struct {
	config KhaltiConfig
	http   *httpClient
}

type khaltiInitiateRequest struct {
	ReturnURL         string `json:"return_url"`
	WebsiteURL        string `json:"website_url"`
	Amount            int64  `json:"amount"`
	PurchaseOrderID   string `json:"purchase_order_id"`
	PurchaseOrderName string `json:"purchase_order_name"`
}

type khaltiInitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at"`
}

type khaltiLookupResponse struct {
	Pidx          string  `json:"pidx"`
	TotalAmount   int64   `json:"total_amount"`
	Status        string  `json:"status"`
	TransactionID *string `json:"transaction_id"`
	Refunded      bool    `json:"refunded"`
}

// NewKhaltiGateway creates a new Khalti adapter
func NewKhaltiGateway(cfg KhaltiConfig, opts ...ClientOption) *KhaltiGateway {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &KhaltiGateway{
		config: cfg,
		http:   newHTTPClient(MethodKhalti, cfg.Timeout, opts...),
	}
}

// Method returns the gateway name
func (g *KhaltiGateway) Method() string {
	return MethodKhalti
}

func (g *KhaltiGateway) signingKey() string {
	if g.config.SigningKey != "" {
		return g.config.SigningKey
	}
	return g.config.SecretKey
}

// BuildInitiationPayload opens a payment session with Khalti and returns its
// hosted page. Khalti needs a server-to-server call here, unlike eSewa.
func (g *KhaltiGateway) BuildInitiationPayload(ctx context.Context, req InitiationRequest) (*InitiationPayload, error) {
	if g.config.SecretKey == "" {
		return nil, fmt.Errorf("%w: khalti", ErrNotConfigured)
	}
	if req.TransactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	name := req.ProductName
	if name == "" {
		name = "Trip booking"
	}
	paisa := ToPaisa(req.TotalAmount)
	payload := khaltiInitiateRequest{
		ReturnURL:         req.CallbackURL,
		WebsiteURL:        g.config.WebsiteURL,
		Amount:            paisa,
		PurchaseOrderID:   req.TransactionID,
		PurchaseOrderName: name,
	}

	var resp khaltiInitiateResponse
	if err := g.post(ctx, "initiate", "/epayment/initiate/", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Pidx == "" || resp.PaymentURL == "" {
		return nil, fmt.Errorf("khalti initiate response missing pidx or payment_url")
	}

	amount := strconv.FormatInt(paisa, 10)
	fields := []Field{
		{Name: "pidx", Value: resp.Pidx},
		{Name: "purchase_order_id", Value: req.TransactionID},
		{Name: "amount", Value: amount},
	}
	signature := Sign(g.signingKey(), fields)

	form := map[string]string{
		"pidx":               resp.Pidx,
		"purchase_order_id":  req.TransactionID,
		"amount":             amount,
		"expires_at":         resp.ExpiresAt,
		"signed_field_names": fieldNames(fields),
		"signature":          signature,
	}

	return &InitiationPayload{
		RedirectURL: resp.PaymentURL,
		FormFields:  form,
		Signature:   signature,
		SessionID:   resp.Pidx,
	}, nil
}

// QueryStatus looks the payment session up by the pidx stored at initiation
func (g *KhaltiGateway) QueryStatus(ctx context.Context, q StatusQuery) (Outcome, error) {
	if q.SessionID == "" {
		return Other{Status: "NO_SESSION", Raw: map[string]interface{}{"purchase_order_id": q.TransactionID}}, nil
	}

	var resp khaltiLookupResponse
	raw := map[string]interface{}{}
	err := g.post(ctx, "lookup", "/epayment/lookup/", map[string]string{"pidx": q.SessionID}, &resp, &raw)
	if err != nil {
		var rejected *khaltiRejection
		if !errors.As(err, &rejected) {
			return nil, err
		}
		if rejected.code == http.StatusUnauthorized || rejected.code == http.StatusForbidden {
			// credentials problem on our side; the payment itself is unknown
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, rejected)
		}
		return Other{Status: rejected.status(), Raw: rejected.body}, nil
	}

	switch resp.Status {
	case "Completed":
		ref := ""
		if resp.TransactionID != nil {
			ref = *resp.TransactionID
		}
		amount := FromPaisa(resp.TotalAmount)
		return Complete{Ref: ref, Amount: &amount, Status: resp.Status}, nil
	case "Pending", "Initiated":
		return Pending{Status: resp.Status}, nil
	default:
		return Other{Status: resp.Status, Raw: raw}, nil
	}
}

// ParseCallback reads Khalti's return URL parameters
func (g *KhaltiGateway) ParseCallback(params url.Values) (*Callback, error) {
	txn := strings.TrimSpace(params.Get("purchase_order_id"))
	if txn == "" {
		return nil, fmt.Errorf("%w: khalti callback has no purchase_order_id", ErrInvalidCallback)
	}

	cb := &Callback{
		TransactionID: txn,
		Status:        params.Get("status"),
		SessionID:     params.Get("pidx"),
		Raw:           valuesToMap(params),
	}
	switch strings.ToLower(cb.Status) {
	case "user canceled", "expired", "failed":
		cb.Aborted = true
	}
	return cb, nil
}

// khaltiRejection is a 4xx answer from Khalti with its decoded body
type khaltiRejection struct {
	code int
	body map[string]interface{}
}

func (e *khaltiRejection) Error() string {
	return fmt.Sprintf("khalti rejected request with status %d: %v", e.code, e.body)
}

func (e *khaltiRejection) status() string {
	if detail, ok := e.body["detail"].(string); ok && strings.EqualFold(detail, "Not found.") {
		return "NOT_FOUND"
	}
	return "HTTP_" + strconv.Itoa(e.code)
}

// post sends an authenticated JSON request and decodes the response into each out
func (g *KhaltiGateway) post(ctx context.Context, operation, path string, in interface{}, out ...interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal khalti %s request: %w", operation, err)
	}

	req, err := http.NewRequest(http.MethodPost, g.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build khalti %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Key "+g.config.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	respBody, code, err := g.http.do(ctx, operation, req)
	if err != nil {
		return err
	}

	if code < 200 || code >= 300 {
		rejection := &khaltiRejection{code: code, body: map[string]interface{}{}}
		if jsonErr := json.Unmarshal(respBody, &rejection.body); jsonErr != nil {
			rejection.body["body"] = string(respBody)
		}
		return rejection
	}

	for _, o := range out {
		if err := json.Unmarshal(respBody, o); err != nil {
			return fmt.Errorf("%w: khalti %s response unreadable: %v", ErrGatewayUnavailable, operation, err)
		}
	}
	return nil
}
