package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const esewaTestSecret = "8gBm/:&EnhH.1/q"

func newTestEsewa(statusURL string) *EsewaGateway {
	return NewEsewaGateway(EsewaConfig{
		ProductCode: "EPAYTEST",
		SecretKey:   esewaTestSecret,
		FormURL:     "https://rc-epay.esewa.com.np/api/epay/main/v2/form",
		StatusURL:   statusURL,
		Timeout:     2 * time.Second,
	})
}

func TestEsewaSignature_KnownVector(t *testing.T) {
	// eSewa sandbox secret and message format
	fields := []Field{
		{Name: "total_amount", Value: "100"},
		{Name: "transaction_uuid", Value: "11-201-13"},
		{Name: "product_code", Value: "EPAYTEST"},
	}
	assert.Equal(t, "total_amount=100,transaction_uuid=11-201-13,product_code=EPAYTEST", SignatureMessage(fields))
	assert.Equal(t, "5DZywcrTKD0gia/rsSMcrRHmJl+4Tbol6S+lWgdJ94E=", Sign(esewaTestSecret, fields))
}

func TestEsewaGateway_BuildInitiationPayload(t *testing.T) {
	g := newTestEsewa("http://unused")

	payload, err := g.BuildInitiationPayload(context.Background(), InitiationRequest{
		TransactionID: "txn-123",
		TotalAmount:   4500,
		CallbackURL:   "https://api.example.com/api/v1/payments/callback/esewa",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://rc-epay.esewa.com.np/api/epay/main/v2/form", payload.RedirectURL)
	assert.Equal(t, "4500", payload.FormFields["total_amount"])
	assert.Equal(t, "total_amount,transaction_uuid,product_code", payload.FormFields["signed_field_names"])
	assert.Equal(t, payload.Signature, payload.FormFields["signature"])
	assert.Empty(t, payload.SessionID)

	// the gateway recomputes the signature from the posted form values
	assert.True(t, VerifySignature(esewaTestSecret, []Field{
		{Name: "total_amount", Value: payload.FormFields["total_amount"]},
		{Name: "transaction_uuid", Value: payload.FormFields["transaction_uuid"]},
		{Name: "product_code", Value: payload.FormFields["product_code"]},
	}, payload.Signature))

	failure, err := url.Parse(payload.FormFields["failure_url"])
	require.NoError(t, err)
	assert.Equal(t, "failure", failure.Query().Get("outcome"))
	assert.Equal(t, "txn-123", failure.Query().Get("transaction_uuid"))
}

func TestEsewaGateway_BuildInitiationPayload_NotConfigured(t *testing.T) {
	g := NewEsewaGateway(EsewaConfig{ProductCode: "EPAYTEST"})
	_, err := g.BuildInitiationPayload(context.Background(), InitiationRequest{TransactionID: "t"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestEsewaGateway_QueryStatus(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		body   string
		assert func(t *testing.T, o Outcome, err error)
	}{
		{
			name: "complete",
			code: http.StatusOK,
			body: `{"product_code":"EPAYTEST","transaction_uuid":"txn-1","total_amount":4500.0,"status":"COMPLETE","ref_id":"0001TS9"}`,
			assert: func(t *testing.T, o Outcome, err error) {
				require.NoError(t, err)
				c, ok := o.(Complete)
				require.True(t, ok)
				assert.Equal(t, "0001TS9", c.Ref)
				require.NotNil(t, c.Amount)
				assert.Equal(t, 4500.0, *c.Amount)
			},
		},
		{
			name: "pending",
			code: http.StatusOK,
			body: `{"product_code":"EPAYTEST","transaction_uuid":"txn-1","total_amount":"4500","status":"PENDING","ref_id":null}`,
			assert: func(t *testing.T, o Outcome, err error) {
				require.NoError(t, err)
				assert.IsType(t, Pending{}, o)
			},
		},
		{
			name: "not found",
			code: http.StatusOK,
			body: `{"product_code":"EPAYTEST","transaction_uuid":"txn-1","total_amount":4500,"status":"NOT_FOUND","ref_id":null}`,
			assert: func(t *testing.T, o Outcome, err error) {
				require.NoError(t, err)
				other, ok := o.(Other)
				require.True(t, ok)
				assert.Equal(t, "NOT_FOUND", other.Status)
			},
		},
		{
			name: "server error",
			code: http.StatusBadGateway,
			body: `upstream down`,
			assert: func(t *testing.T, o Outcome, err error) {
				assert.True(t, errors.Is(err, ErrGatewayUnavailable))
				assert.Nil(t, o)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "EPAYTEST", r.URL.Query().Get("product_code"))
				assert.Equal(t, "4500", r.URL.Query().Get("total_amount"))
				assert.Equal(t, "txn-1", r.URL.Query().Get("transaction_uuid"))
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			o, err := newTestEsewa(srv.URL).QueryStatus(context.Background(), StatusQuery{TransactionID: "txn-1", TotalAmount: 4500})
			tt.assert(t, o, err)
		})
	}
}

func TestEsewaGateway_QueryStatus_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	g := NewEsewaGateway(EsewaConfig{ProductCode: "EPAYTEST", SecretKey: esewaTestSecret, StatusURL: srv.URL, Timeout: 50 * time.Millisecond})
	_, err := g.QueryStatus(context.Background(), StatusQuery{TransactionID: "txn-1", TotalAmount: 10})
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestEsewaGateway_ParseCallback(t *testing.T) {
	g := newTestEsewa("http://unused")

	encode := func(m map[string]interface{}) string {
		b, _ := json.Marshal(m)
		return base64.StdEncoding.EncodeToString(b)
	}

	t.Run("success data with valid signature", func(t *testing.T) {
		fields := []Field{
			{Name: "transaction_code", Value: "000AWEO"},
			{Name: "status", Value: "COMPLETE"},
			{Name: "total_amount", Value: "4500.0"},
			{Name: "transaction_uuid", Value: "txn-9"},
			{Name: "product_code", Value: "EPAYTEST"},
			{Name: "signed_field_names", Value: "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names"},
		}
		data := map[string]interface{}{
			"transaction_code":   "000AWEO",
			"status":             "COMPLETE",
			"total_amount":       "4500.0",
			"transaction_uuid":   "txn-9",
			"product_code":       "EPAYTEST",
			"signed_field_names": "transaction_code,status,total_amount,transaction_uuid,product_code,signed_field_names",
			"signature":          Sign(esewaTestSecret, fields),
		}

		cb, err := g.ParseCallback(url.Values{"data": {encode(data)}})
		require.NoError(t, err)
		assert.Equal(t, "txn-9", cb.TransactionID)
		assert.False(t, cb.Aborted)
		require.NotNil(t, cb.SignatureValid)
		assert.True(t, *cb.SignatureValid)
	})

	t.Run("tampered data is parsed but flagged", func(t *testing.T) {
		data := map[string]interface{}{
			"status":             "COMPLETE",
			"total_amount":       "1.0",
			"transaction_uuid":   "txn-9",
			"product_code":       "EPAYTEST",
			"signed_field_names": "status,total_amount,transaction_uuid,product_code",
			"signature":          "bm90LWEtc2lnbmF0dXJl",
		}
		cb, err := g.ParseCallback(url.Values{"data": {encode(data)}})
		require.NoError(t, err)
		require.NotNil(t, cb.SignatureValid)
		assert.False(t, *cb.SignatureValid)
	})

	t.Run("failure redirect", func(t *testing.T) {
		cb, err := g.ParseCallback(url.Values{"outcome": {"failure"}, "transaction_uuid": {"txn-4"}})
		require.NoError(t, err)
		assert.Equal(t, "txn-4", cb.TransactionID)
		assert.True(t, cb.Aborted)
	})

	t.Run("no transaction id", func(t *testing.T) {
		_, err := g.ParseCallback(url.Values{"outcome": {"failure"}})
		assert.ErrorIs(t, err, ErrInvalidCallback)
	})

	t.Run("garbage data", func(t *testing.T) {
		_, err := g.ParseCallback(url.Values{"data": {"%%%not-base64"}})
		assert.ErrorIs(t, err, ErrInvalidCallback)
	})
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "100", FormatAmount(100))
	assert.Equal(t, "110.5", FormatAmount(110.5))
	assert.Equal(t, "0.3", FormatAmount(0.1+0.2))
	assert.Equal(t, int64(450050), ToPaisa(4500.5))
	assert.Equal(t, 4500.5, FromPaisa(450050))
}
