package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronService manages scheduled background jobs
type CronService struct {
	cron           *cron.Cron
	reconciliation *ReconciliationService
	schedule       string
	jobTimeout     time.Duration
	logger         *logrus.Logger
}

// NewCronService creates a new CronService.
// schedule uses seconds precision ("0 */5 * * * *") or a descriptor ("@every 5m").
func NewCronService(reconciliation *ReconciliationService, schedule string, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:           cron.New(cron.WithSeconds()),
		reconciliation: reconciliation,
		schedule:       schedule,
		jobTimeout:     2 * time.Minute,
		logger:         logger,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Re-verify bookings stuck awaiting a gateway callback
	if _, err := s.cron.AddFunc(s.schedule, s.reconcileJob); err != nil {
		return fmt.Errorf("failed to schedule reconciliation job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("✓ Scheduled: Reconcile stale bookings")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) reconcileJob() {
	s.logger.Info("[CRON] Starting booking reconciliation job...")

	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	report, err := s.reconciliation.Run(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Booking reconciliation failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"confirmed": report.Confirmed,
		"failed":    report.Failed,
	}).Infof("[CRON] ✓ Reconciled %d bookings in %v", report.Checked, report.Duration)
}

// RunReconcileNow runs the reconciliation job immediately
func (s *CronService) RunReconcileNow() {
	s.logger.Info("[MANUAL] Running booking reconciliation now...")
	s.reconcileJob()
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
