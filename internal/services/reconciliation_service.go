package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/models"
	"golang.org/x/sync/errgroup"
)

// Reconciler settles one stale booking
type Reconciler interface {
	Reconcile(ctx context.Context, booking *models.Booking) (*models.VerifyOutcome, error)
}

// ReconcileReport summarises one reconciliation run
type ReconcileReport struct {
	Checked      int           `json:"checked"`
	Confirmed    int           `json:"confirmed"`
	Failed       int           `json:"failed"`
	StillPending int           `json:"still_pending"`
	Errors       int           `json:"errors"`
	Candidates   []string      `json:"candidates,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ReconciliationService re-verifies pending bookings left unsettled,
// e.g. after the user closed the browser or the gateway was unreachable
type ReconciliationService struct {
	bookings    BookingStore
	reconciler  Reconciler
	staleAfter  time.Duration
	batchSize   int
	concurrency int
	logger      *logrus.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	bookings BookingStore,
	reconciler Reconciler,
	staleAfter time.Duration,
	batchSize int,
	concurrency int,
	logger *logrus.Logger,
) *ReconciliationService {
	if batchSize < 1 {
		batchSize = 100
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconciliationService{
		bookings:    bookings,
		reconciler:  reconciler,
		staleAfter:  staleAfter,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Run reconciles up to the configured batch of stale bookings
func (s *ReconciliationService) Run(ctx context.Context) (*ReconcileReport, error) {
	return s.RunWith(ctx, s.staleAfter, s.batchSize, false)
}

// RunWith reconciles bookings untouched for olderThan. With dryRun the
// candidates are listed and nothing is queried or changed.
func (s *ReconciliationService) RunWith(ctx context.Context, olderThan time.Duration, limit int, dryRun bool) (*ReconcileReport, error) {
	start := time.Now()
	if limit < 1 {
		limit = s.batchSize
	}

	stale, err := s.bookings.ListStale(ctx, start.Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}

	report := &ReconcileReport{Checked: len(stale)}
	if dryRun {
		for _, b := range stale {
			report.Candidates = append(report.Candidates, b.TransactionID)
		}
		report.Duration = time.Since(start)
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range stale {
		booking := stale[i]
		g.Go(func() error {
			outcome, err := s.reconciler.Reconcile(gctx, &booking)
			if gctx.Err() == nil && (err != nil || outcome.Booking == nil || !outcome.Booking.IsTerminal()) {
				// push it behind the rest of the backlog for the next run
				if terr := s.bookings.Touch(gctx, booking.ID); terr != nil {
					s.logger.WithError(terr).WithField("transaction_id", booking.TransactionID).Warn("Failed to touch unsettled booking")
				}
			}

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
				return err
			case err != nil:
				report.Errors++
				s.logger.WithError(err).WithField("transaction_id", booking.TransactionID).Warn("Reconciliation of booking failed")
			case outcome.Booking == nil || !outcome.Booking.IsTerminal():
				report.StillPending++
			case outcome.Success:
				report.Confirmed++
			default:
				report.Failed++
			}
			return nil
		})
	}

	err = g.Wait()
	report.Duration = time.Since(start)

	s.logger.WithFields(logrus.Fields{
		"checked":       report.Checked,
		"confirmed":     report.Confirmed,
		"failed":        report.Failed,
		"still_pending": report.StillPending,
		"errors":        report.Errors,
		"duration":      report.Duration.String(),
	}).Info("Reconciliation run finished")

	return report, err
}
