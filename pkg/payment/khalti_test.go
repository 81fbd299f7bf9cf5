package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKhaltiServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Key test-secret", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		body["_path"] = r.URL.Path
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestKhalti(baseURL string) *KhaltiGateway {
	return NewKhaltiGateway(KhaltiConfig{
		SecretKey:  "test-secret",
		BaseURL:    baseURL + "/",
		WebsiteURL: "https://yatra.example.com",
		Timeout:    2 * time.Second,
	})
}

func TestKhaltiGateway_BuildInitiationPayload(t *testing.T) {
	srv := newKhaltiServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		assert.Equal(t, "/epayment/initiate/", body["_path"])
		assert.Equal(t, float64(150000), body["amount"])
		assert.Equal(t, "txn-k1", body["purchase_order_id"])
		assert.Equal(t, "https://api.example.com/api/v1/payments/callback/khalti", body["return_url"])
		_, _ = w.Write([]byte(`{"pidx":"bZQLD9wRVWo4CdESSfuSsB","payment_url":"https://test-pay.khalti.com/?pidx=bZQLD9wRVWo4CdESSfuSsB","expires_at":"2026-10-17T13:00:00+05:45","expires_in":1800}`))
	})

	payload, err := newTestKhalti(srv.URL).BuildInitiationPayload(context.Background(), InitiationRequest{
		TransactionID: "txn-k1",
		TotalAmount:   1500,
		CallbackURL:   "https://api.example.com/api/v1/payments/callback/khalti",
		ProductName:   "Rara Lake",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://test-pay.khalti.com/?pidx=bZQLD9wRVWo4CdESSfuSsB", payload.RedirectURL)
	assert.Equal(t, "bZQLD9wRVWo4CdESSfuSsB", payload.SessionID)
	assert.Equal(t, "150000", payload.FormFields["amount"])
	assert.True(t, VerifySignature("test-secret", []Field{
		{Name: "pidx", Value: "bZQLD9wRVWo4CdESSfuSsB"},
		{Name: "purchase_order_id", Value: "txn-k1"},
		{Name: "amount", Value: "150000"},
	}, payload.Signature))
}

func TestKhaltiGateway_BuildInitiationPayload_Rejected(t *testing.T) {
	srv := newKhaltiServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"amount":["Amount should be greater than Rs. 10, that is 1000 paisa."],"error_key":"validation_error"}`))
	})

	_, err := newTestKhalti(srv.URL).BuildInitiationPayload(context.Background(), InitiationRequest{TransactionID: "t", TotalAmount: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrGatewayUnavailable)
}

func TestKhaltiGateway_QueryStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		body   string
		expect Outcome
	}{
		{
			name:   "completed",
			code:   http.StatusOK,
			body:   `{"pidx":"p1","total_amount":150000,"status":"Completed","transaction_id":"GFq9PFS7b2iYvL8Lir9oXe","fee":0,"refunded":false}`,
			expect: Complete{Ref: "GFq9PFS7b2iYvL8Lir9oXe", Status: "Completed"},
		},
		{
			name:   "pending",
			code:   http.StatusOK,
			body:   `{"pidx":"p1","total_amount":150000,"status":"Pending","transaction_id":null,"fee":0,"refunded":false}`,
			expect: Pending{Status: "Pending"},
		},
		{
			name:   "user canceled",
			code:   http.StatusOK,
			body:   `{"pidx":"p1","total_amount":150000,"status":"User canceled","transaction_id":null,"fee":0,"refunded":false}`,
			expect: Other{Status: "User canceled"},
		},
		{
			name:   "not found",
			code:   http.StatusNotFound,
			body:   `{"detail":"Not found.","error_key":"validation_error"}`,
			expect: Other{Status: "NOT_FOUND"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newKhaltiServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
				assert.Equal(t, "/epayment/lookup/", body["_path"])
				assert.Equal(t, "p1", body["pidx"])
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			o, err := newTestKhalti(srv.URL).QueryStatus(context.Background(), StatusQuery{TransactionID: "txn-k1", TotalAmount: 1500, SessionID: "p1"})
			require.NoError(t, err)
			assert.IsType(t, tt.expect, o)
			assert.Equal(t, tt.expect.GatewayStatus(), o.GatewayStatus())
			if c, ok := o.(Complete); ok {
				assert.Equal(t, "GFq9PFS7b2iYvL8Lir9oXe", c.Ref)
				require.NotNil(t, c.Amount)
				assert.Equal(t, 1500.0, *c.Amount)
			}
		})
	}
}

func TestKhaltiGateway_QueryStatus_BadCredentialsIsUnavailable(t *testing.T) {
	srv := newKhaltiServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Invalid token.","status_code":401}`))
	})

	_, err := newTestKhalti(srv.URL).QueryStatus(context.Background(), StatusQuery{SessionID: "p1"})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestKhaltiGateway_QueryStatus_NoSession(t *testing.T) {
	o, err := newTestKhalti("http://unused").QueryStatus(context.Background(), StatusQuery{TransactionID: "txn"})
	require.NoError(t, err)
	assert.Equal(t, "NO_SESSION", o.GatewayStatus())
}

func TestKhaltiGateway_ParseCallback(t *testing.T) {
	g := newTestKhalti("http://unused")

	cb, err := g.ParseCallback(url.Values{
		"pidx":              {"p1"},
		"status":            {"Completed"},
		"purchase_order_id": {"txn-k1"},
		"transaction_id":    {"GFq9"},
		"amount":            {"150000"},
	})
	require.NoError(t, err)
	assert.Equal(t, "txn-k1", cb.TransactionID)
	assert.Equal(t, "p1", cb.SessionID)
	assert.False(t, cb.Aborted)
	assert.Nil(t, cb.SignatureValid)

	cb, err = g.ParseCallback(url.Values{"status": {"User canceled"}, "purchase_order_id": {"txn-k2"}})
	require.NoError(t, err)
	assert.True(t, cb.Aborted)

	_, err = g.ParseCallback(url.Values{"pidx": {"p1"}})
	assert.ErrorIs(t, err, ErrInvalidCallback)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newTestEsewa("http://unused"), newTestKhalti("http://unused"))
	assert.Equal(t, []string{MethodEsewa, MethodKhalti}, r.Methods())

	g, err := r.Get(MethodKhalti)
	require.NoError(t, err)
	assert.Equal(t, MethodKhalti, g.Method())

	_, err = r.Get("paypal")
	assert.Error(t, err)
}
