package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxResponseBytes = 1 << 20

// DurationObserver receives the latency of every gateway HTTP call
type DurationObserver func(gateway, operation string, elapsed time.Duration)

// httpClient is a traced HTTP client shared by the gateway adapters
type httpClient struct {
	gateway string
	client  *http.Client
	tracer  trace.Tracer
	observe DurationObserver
}

// ClientOption customises the adapters' HTTP client
type ClientOption func(*httpClient)

// WithHTTPClient replaces the underlying *http.Client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *httpClient) { h.client = c }
}

// WithDurationObserver records call latency, e.g. into a histogram
func WithDurationObserver(o DurationObserver) ClientOption {
	return func(h *httpClient) { h.observe = o }
}

func newHTTPClient(gateway string, timeout time.Duration, opts ...ClientOption) *httpClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &httpClient{
		gateway: gateway,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer: otel.Tracer("github.com/yatra/booking-backend/pkg/payment"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// do sends req and returns the body and status code. Transport errors and
// 5xx answers come back wrapped in ErrGatewayUnavailable; other non-2xx
// answers are returned to the caller to interpret.
func (h *httpClient) do(ctx context.Context, operation string, req *http.Request) ([]byte, int, error) {
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("%s.%s", h.gateway, operation), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req = req.WithContext(ctx)
	span.SetAttributes(
		attribute.String("payment.gateway", h.gateway),
		attribute.String("http.method", req.Method),
		attribute.String("http.url", req.URL.Redacted()),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := h.client.Do(req)
	if h.observe != nil {
		h.observe(h.gateway, operation, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("%w: %s %s: %v", ErrGatewayUnavailable, h.gateway, operation, describeTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, resp.StatusCode, fmt.Errorf("%w: reading %s response: %v", ErrGatewayUnavailable, h.gateway, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusInternalServerError {
		err := fmt.Errorf("%w: %s returned status %d", ErrGatewayUnavailable, h.gateway, resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return body, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func describeTransportError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline exceeded"
	}
	return err.Error()
}
