package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// EsewaConfig holds eSewa ePay v2 merchant settings
type EsewaConfig struct {
	ProductCode string
	SecretKey   string
	FormURL     string
	StatusURL   string
	Timeout     time.Duration
}

// EsewaGateway implements Gateway for eSewa ePay v2
type EsewaGateway struct {
	config EsewaConfig
	http   *httpClient
}

// esewaStatusResponse is the body of the transaction status endpoint
type esewaStatusResponse struct {
	ProductCode     string     `json:"product_code"`
	TransactionUUID string     `json:"transaction_uuid"`
	TotalAmount     flexAmount `json:"total_amount"`
	Status          string     `json:"status"`
	RefID           *string    `json:"ref_id"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// esewaCallbackData is the base64 JSON eSewa appends to the success URL
type esewaCallbackData struct {
	TransactionCode  string     `json:"transaction_code"`
	Status           string     `json:"status"`
	TotalAmount      flexAmount `json:"total_amount"`
	TransactionUUID  string     `json:"transaction_uuid"`
	ProductCode      string     `json:"product_code"`
	SignedFieldNames string     `json:"signed_field_names"`
	Signature        string     `json:"signature"`
}

// NewEsewaGateway creates a new eSewa adapter
func NewEsewaGateway(cfg EsewaConfig, opts ...ClientOption) *EsewaGateway {
	return &EsewaGateway{
		config: cfg,
		http:   newHTTPClient(MethodEsewa, cfg.Timeout, opts...),
	}
}

// Method returns the gateway name
func (g *EsewaGateway) Method() string {
	return MethodEsewa
}

// signedFields is the canonical field list eSewa recomputes the signature over
func (g *EsewaGateway) signedFields(totalAmount, transactionID string) []Field {
	return []Field{
		{Name: "total_amount", Value: totalAmount},
		{Name: "transaction_uuid", Value: transactionID},
		{Name: "product_code", Value: g.config.ProductCode},
	}
}

// BuildInitiationPayload builds the hosted form. No network I/O.
func (g *EsewaGateway) BuildInitiationPayload(ctx context.Context, req InitiationRequest) (*InitiationPayload, error) {
	if g.config.SecretKey == "" || g.config.ProductCode == "" {
		return nil, fmt.Errorf("%w: esewa", ErrNotConfigured)
	}
	if req.TransactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	amount := FormatAmount(req.TotalAmount)
	fields := g.signedFields(amount, req.TransactionID)
	signature := Sign(g.config.SecretKey, fields)

	failure := url.Values{}
	failure.Set("outcome", "failure")
	failure.Set("transaction_uuid", req.TransactionID)

	form := map[string]string{
		"amount":                  amount,
		"tax_amount":              "0",
		"total_amount":            amount,
		"transaction_uuid":        req.TransactionID,
		"product_code":            g.config.ProductCode,
		"product_service_charge":  "0",
		"product_delivery_charge": "0",
		"success_url":             req.CallbackURL,
		"failure_url":             appendQuery(req.CallbackURL, failure),
		"signed_field_names":      fieldNames(fields),
		"signature":               signature,
	}

	return &InitiationPayload{
		RedirectURL: g.config.FormURL,
		FormFields:  form,
		Signature:   signature,
	}, nil
}

// QueryStatus asks eSewa for the authoritative state of a transaction
func (g *EsewaGateway) QueryStatus(ctx context.Context, q StatusQuery) (Outcome, error) {
	params := url.Values{}
	params.Set("product_code", g.config.ProductCode)
	params.Set("total_amount", FormatAmount(q.TotalAmount))
	params.Set("transaction_uuid", q.TransactionID)

	req, err := http.NewRequest(http.MethodGet, appendQuery(g.config.StatusURL, params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build esewa status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, code, err := g.http.do(ctx, "status", req)
	if err != nil {
		return nil, err
	}

	var resp esewaStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if code >= 200 && code < 300 {
			return nil, fmt.Errorf("%w: esewa status response unreadable: %v", ErrGatewayUnavailable, err)
		}
		return Other{Status: "HTTP_" + strconv.Itoa(code), Raw: map[string]interface{}{"body": string(body)}}, nil
	}

	raw := map[string]interface{}{}
	_ = json.Unmarshal(body, &raw)

	switch strings.ToUpper(resp.Status) {
	case "COMPLETE":
		ref := ""
		if resp.RefID != nil {
			ref = *resp.RefID
		}
		return Complete{Ref: ref, Amount: resp.TotalAmount.ptr(), Status: resp.Status}, nil
	case "PENDING":
		return Pending{Status: resp.Status}, nil
	case "":
		status := "HTTP_" + strconv.Itoa(code)
		if resp.ErrorMessage != "" {
			status = "ERROR"
		}
		return Other{Status: status, Raw: raw}, nil
	default:
		return Other{Status: resp.Status, Raw: raw}, nil
	}
}

// ParseCallback reads either the success redirect (?data=base64json) or our
// own failure URL (?outcome=failure&transaction_uuid=...)
func (g *EsewaGateway) ParseCallback(params url.Values) (*Callback, error) {
	if encoded := params.Get("data"); encoded != "" {
		return g.parseSuccessData(encoded)
	}

	txn := strings.TrimSpace(params.Get("transaction_uuid"))
	if txn == "" {
		return nil, fmt.Errorf("%w: esewa callback has no transaction_uuid", ErrInvalidCallback)
	}

	cb := &Callback{
		TransactionID: txn,
		Status:        params.Get("outcome"),
		Raw:           valuesToMap(params),
	}
	if strings.EqualFold(cb.Status, "failure") {
		cb.Aborted = true
	}
	return cb, nil
}

func (g *EsewaGateway) parseSuccessData(encoded string) (*Callback, error) {
	decoded, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: esewa data is not base64: %v", ErrInvalidCallback, err)
	}

	var data esewaCallbackData
	if err := json.Unmarshal(decoded, &data); err != nil {
		return nil, fmt.Errorf("%w: esewa data is not json: %v", ErrInvalidCallback, err)
	}
	if data.TransactionUUID == "" {
		return nil, fmt.Errorf("%w: esewa data has no transaction_uuid", ErrInvalidCallback)
	}

	raw := map[string]interface{}{}
	_ = json.Unmarshal(decoded, &raw)

	valid := g.verifyCallbackSignature(data, raw)
	cb := &Callback{
		TransactionID:  data.TransactionUUID,
		Status:         data.Status,
		SignatureValid: &valid,
		Raw:            raw,
	}
	switch strings.ToUpper(data.Status) {
	case "CANCELED", "CANCELLED", "FAILED":
		cb.Aborted = true
	}
	return cb, nil
}

// verifyCallbackSignature recomputes the signature over signed_field_names
// using the values exactly as eSewa rendered them
func (g *EsewaGateway) verifyCallbackSignature(data esewaCallbackData, raw map[string]interface{}) bool {
	if data.SignedFieldNames == "" || data.Signature == "" || g.config.SecretKey == "" {
		return false
	}
	names := strings.Split(data.SignedFieldNames, ",")
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		fields = append(fields, Field{Name: name, Value: stringify(raw[name])})
	}
	return VerifySignature(g.config.SecretKey, fields, data.Signature)
}

// ============================================================================
// HELPERS
// ============================================================================

// flexAmount accepts both 100 and "100.0" in JSON
type flexAmount struct {
	value float64
	set   bool
}

func (f *flexAmount) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	f.value, f.set = v, true
	return nil
}

func (f flexAmount) ptr() *float64 {
	if !f.set {
		return nil
	}
	v := f.value
	return &v
}

func decodeBase64(s string) ([]byte, error) {
	// eSewa sends standard base64, but '+' may arrive as ' ' after URL decoding
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "+")
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func appendQuery(base string, params url.Values) string {
	if len(params) == 0 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + params.Encode()
}

func valuesToMap(params url.Values) map[string]interface{} {
	m := make(map[string]interface{}, len(params))
	for k, v := range params {
		if len(v) == 1 {
			m[k] = v[0]
		} else {
			m[k] = v
		}
	}
	return m
}
