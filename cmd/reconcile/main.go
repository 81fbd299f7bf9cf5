// Command reconcile re-verifies bookings stuck awaiting a gateway callback.
// Intended for one-off runs or an external scheduler.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yatra/booking-backend/internal/app"
	"github.com/yatra/booking-backend/internal/config"
)

func main() {
	olderThan := flag.Duration("older-than", 0, "only bookings untouched for this long (default RECONCILE_STALE_AFTER)")
	limit := flag.Int("limit", 0, "maximum bookings to check (default RECONCILE_BATCH_SIZE)")
	dryRun := flag.Bool("dry-run", false, "list candidates without querying gateways")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall run timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := app.NewLogger(cfg.Server.LogLevel)
	logger.SetOutput(os.Stderr)

	if *olderThan <= 0 {
		*olderThan = cfg.Booking.StaleAfter
	}
	if *limit <= 0 {
		*limit = cfg.Booking.ReconcileBatchSize
	}

	components, err := app.Build(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	defer components.Close(context.Background(), logger)

	logger.WithFields(logrus.Fields{
		"older_than": olderThan.String(),
		"limit":      *limit,
		"dry_run":    *dryRun,
	}).Info("Starting reconciliation")

	report, err := components.Reconciliation.RunWith(ctx, *olderThan, *limit, *dryRun)
	if err != nil {
		logger.WithError(err).Error("Reconciliation aborted")
	}
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if err != nil || (report != nil && report.Errors > 0) {
		cancel()
		components.Close(context.Background(), logger)
		os.Exit(1)
	}
}
