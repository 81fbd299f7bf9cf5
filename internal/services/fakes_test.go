package services

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/database"
	"github.com/yatra/booking-backend/internal/events"
	"github.com/yatra/booking-backend/internal/models"
	"github.com/yatra/booking-backend/pkg/payment"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ----------------------------------------------------------------------------
// inventory
// ----------------------------------------------------------------------------

type fakeInventory struct {
	mu    sync.Mutex
	trips map[uuid.UUID]*models.TripInventory
}

func newFakeInventory() *fakeInventory {
	return &fakeInventory{trips: map[uuid.UUID]*models.TripInventory{}}
}

func (f *fakeInventory) addTrip(capacity int, unitPrice float64) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.trips[id] = &models.TripInventory{
		TripID:         id,
		Title:          "Annapurna Base Camp",
		Capacity:       capacity,
		AvailableSeats: capacity,
		UnitPrice:      unitPrice,
		Currency:       "NPR",
	}
	return id
}

func (f *fakeInventory) available(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trips[id].AvailableSeats
}

func (f *fakeInventory) setAvailable(id uuid.UUID, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips[id].AvailableSeats = n
}

func (f *fakeInventory) GetTripPricing(ctx context.Context, tripID uuid.UUID) (*models.TripInventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (f *fakeInventory) CheckAvailability(ctx context.Context, tripID uuid.UUID, requested int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok {
		return false, database.ErrTripNotFound
	}
	return t.HasSeatsFor(requested), nil
}

func (f *fakeInventory) Decrement(ctx context.Context, tripID uuid.UUID, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok {
		return 0, database.ErrTripNotFound
	}
	if t.AvailableSeats < amount {
		return 0, database.ErrInsufficientSeats
	}
	t.AvailableSeats -= amount
	return t.AvailableSeats, nil
}

func (f *fakeInventory) Increment(ctx context.Context, tripID uuid.UUID, amount int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trips[tripID]
	if !ok {
		return 0, database.ErrTripNotFound
	}
	t.AvailableSeats += amount
	if t.AvailableSeats > t.Capacity {
		t.AvailableSeats = t.Capacity
	}
	return t.AvailableSeats, nil
}

// ----------------------------------------------------------------------------
// bookings
// ----------------------------------------------------------------------------

type fakeBookings struct {
	mu           sync.Mutex
	byID         map[uuid.UUID]*models.Booking
	byTxn        map[string]uuid.UUID
	initiatedErr error
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{byID: map[uuid.UUID]*models.Booking{}, byTxn: map[string]uuid.UUID{}}
}

func (f *fakeBookings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func (f *fakeBookings) all() []models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Booking, 0, len(f.byID))
	for _, b := range f.byID {
		out = append(out, *b)
	}
	return out
}

// get returns a snapshot of the stored booking
func (f *fakeBookings) get(id uuid.UUID) *models.Booking {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *f.byID[id]
	return &c
}

// failInitiatedUpdate makes the pending->initiated write fail with err
func (f *fakeBookings) failInitiatedUpdate(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiatedErr = err
}

func (f *fakeBookings) Create(ctx context.Context, d models.BookingDraft) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byTxn[d.TransactionID]; ok {
		return nil, database.ErrDuplicateTransaction
	}
	now := time.Now()
	b := &models.Booking{
		ID:              uuid.New(),
		UserID:          d.UserID,
		TripID:          d.TripID,
		NumberOfPersons: d.NumberOfPersons,
		TotalAmount:     d.TotalAmount,
		Currency:        d.Currency,
		TransactionID:   d.TransactionID,
		PaymentMethod:   d.PaymentMethod,
		BookingStatus:   models.BookingStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	f.byID[b.ID] = b
	f.byTxn[b.TransactionID] = b.ID
	c := *b
	return &c, nil
}

func (f *fakeBookings) FindByTransactionID(ctx context.Context, txn string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byTxn[txn]
	if !ok {
		return nil, nil
	}
	c := *f.byID[id]
	return &c, nil
}

func (f *fakeBookings) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (f *fakeBookings) UpdateStatus(ctx context.Context, id uuid.UUID, bs models.BookingStatus, ps models.PaymentStatus, extra models.StatusExtra) (*models.Booking, bool, error) {
	from := []models.BookingStatus{models.BookingStatusPending}
	if bs == models.BookingStatusCancelled {
		from = append(from, models.BookingStatusConfirmed)
	}
	return f.TransitionFrom(ctx, id, from, bs, ps, extra)
}

func (f *fakeBookings) TransitionFrom(ctx context.Context, id uuid.UUID, from []models.BookingStatus, bs models.BookingStatus, ps models.PaymentStatus, extra models.StatusExtra) (*models.Booking, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ps == models.PaymentStatusInitiated && f.initiatedErr != nil {
		return nil, false, f.initiatedErr
	}
	b, ok := f.byID[id]
	if !ok {
		return nil, false, fmt.Errorf("booking %s not found", id)
	}
	allowed := false
	for _, s := range from {
		if b.BookingStatus == s {
			allowed = true
		}
	}
	if !allowed {
		c := *b
		return &c, false, nil
	}

	now := time.Now()
	b.BookingStatus = bs
	b.PaymentStatus = ps
	if extra.PaymentGatewayRef != nil {
		b.PaymentGatewayRef = extra.PaymentGatewayRef
	}
	if extra.PaymentSessionID != nil {
		b.PaymentSessionID = extra.PaymentSessionID
	}
	if extra.FailureReason != nil {
		b.FailureReason = extra.FailureReason
	}
	switch bs {
	case models.BookingStatusConfirmed:
		b.ConfirmedAt = &now
	case models.BookingStatusCancelled:
		b.CancelledAt = &now
	}
	b.UpdatedAt = now
	c := *b
	return &c, true, nil
}

func (f *fakeBookings) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Booking, error) {
	out := []models.Booking{}
	for _, b := range f.all() {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeBookings) ListAllPopulated(ctx context.Context, filter models.BookingFilter, page, limit int) ([]models.BookingView, int, error) {
	out := []models.BookingView{}
	for _, b := range f.all() {
		if filter.BookingStatus != "" && b.BookingStatus != filter.BookingStatus {
			continue
		}
		out = append(out, models.BookingView{Booking: b})
	}
	return out, len(out), nil
}

func (f *fakeBookings) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Booking, error) {
	out := []models.Booking{}
	for _, b := range f.all() {
		if b.BookingStatus == models.BookingStatusPending && b.UpdatedAt.Before(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeBookings) Touch(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.byID[id]; ok && b.BookingStatus == models.BookingStatusPending {
		b.UpdatedAt = time.Now()
	}
	return nil
}

// ----------------------------------------------------------------------------
// audits, events, metrics, locks
// ----------------------------------------------------------------------------

type fakeAudits struct {
	mu      sync.Mutex
	entries []models.PaymentAudit
}

func (f *fakeAudits) Log(ctx context.Context, a *models.PaymentAudit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, *a)
	return nil
}

func (f *fakeAudits) types() []models.PaymentEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PaymentEventType, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.EventType)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.BookingEvent
}

func (f *fakePublisher) Publish(ctx context.Context, e events.BookingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

type fakeMetrics struct {
	mu                 sync.Mutex
	verifications      map[string]int
	allocationFailures int
	cancellations      int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{verifications: map[string]int{}}
}

func (f *fakeMetrics) Initiation(method, result string) {}

func (f *fakeMetrics) Verification(gateway, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications[outcome]++
}

func (f *fakeMetrics) SeatAllocationFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocationFailures++
}

func (f *fakeMetrics) Cancellation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancellations++
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return func() {}, false, nil
}

// contendedLocker reports the key as held for the first busyFor attempts
type contendedLocker struct {
	busyFor  int32
	attempts atomic.Int32
}

func (l *contendedLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	if l.attempts.Add(1) <= l.busyFor {
		return func() {}, false, nil
	}
	return func() {}, true, nil
}

// ----------------------------------------------------------------------------
// gateway
// ----------------------------------------------------------------------------

// fakeGateway correlates callbacks through the "txn" parameter; "status=aborted"
// marks the user abort. QueryStatus answers with a per-transaction outcome.
type fakeGateway struct {
	method     string
	initErr    error
	queryErr   error
	mu         sync.Mutex
	outcomes   map[string]payment.Outcome
	fallback   payment.Outcome
	queries    int32
	lastQuery  payment.StatusQuery
	sessionIDs bool
}

func newFakeGateway(method string) *fakeGateway {
	return &fakeGateway{
		method:   method,
		outcomes: map[string]payment.Outcome{},
		fallback: payment.Complete{Ref: "REF-1", Status: "COMPLETE"},
	}
}

func (g *fakeGateway) setFallback(o payment.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fallback = o
}

func (g *fakeGateway) setQueryErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queryErr = err
}

func (g *fakeGateway) queryCount() int {
	return int(atomic.LoadInt32(&g.queries))
}

func (g *fakeGateway) Method() string { return g.method }

func (g *fakeGateway) BuildInitiationPayload(ctx context.Context, req payment.InitiationRequest) (*payment.InitiationPayload, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	p := &payment.InitiationPayload{
		RedirectURL: "https://gateway.test/pay",
		FormFields: map[string]string{
			"transaction_uuid": req.TransactionID,
			"total_amount":     payment.FormatAmount(req.TotalAmount),
			"success_url":      req.CallbackURL,
		},
		Signature: "sig",
	}
	if g.sessionIDs {
		p.SessionID = "pidx-" + req.TransactionID
	}
	return p, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, q payment.StatusQuery) (payment.Outcome, error) {
	atomic.AddInt32(&g.queries, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastQuery = q
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if o, ok := g.outcomes[q.TransactionID]; ok {
		return o, nil
	}
	return g.fallback, nil
}

func (g *fakeGateway) ParseCallback(params url.Values) (*payment.Callback, error) {
	txn := params.Get("txn")
	if params.Has("empty") {
		// parses cleanly but carries no transaction id
		return &payment.Callback{Status: params.Get("status")}, nil
	}
	if txn == "" {
		return nil, fmt.Errorf("%w: no txn", payment.ErrInvalidCallback)
	}
	return &payment.Callback{
		TransactionID: txn,
		Status:        params.Get("status"),
		Aborted:       params.Get("status") == "aborted",
	}, nil
}

func callbackFor(txn string) url.Values {
	return url.Values{"txn": {txn}}
}
