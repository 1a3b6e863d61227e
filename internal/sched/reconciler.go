// Package sched runs the out-of-band reconciliation sweep: it retries
// acknowledgements for processed-but-unacked ledger entries and surfaces
// stale PENDING/ERROR entries for operators. It deliberately never
// re-invokes business handlers; redelivery is the broker's job.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"project/internal/domain/ledger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acksRetried = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_acks_retried_total",
		Help: "The total number of acknowledgement retries attempted by the sweep",
	})
	ackRetryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ack_retry_failures_total",
		Help: "The total number of failed acknowledgement retries",
	})
	staleEntriesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_stale_entries_total",
		Help: "The total number of stale PENDING/ERROR entries surfaced",
	})
)

const batchSize = 100

type Acker interface {
	AckEvent(ctx context.Context, eventID string) error
}

type Reconciler struct {
	ledger      ledger.Repository
	acker       Acker
	interval    time.Duration
	cooldown    time.Duration
	maxAttempts int
	logger      *slog.Logger
}

func NewReconciler(repo ledger.Repository, acker Acker, interval, cooldown time.Duration, maxAttempts int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		ledger:      repo,
		acker:       acker,
		interval:    interval,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "cooldown", r.cooldown)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reconciliation sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass. A failure on one entry never aborts
// the sweep over the remaining entries.
func (r *Reconciler) Sweep(ctx context.Context) error {
	if err := r.retryAcks(ctx); err != nil {
		return err
	}
	return r.reportStale(ctx)
}

func (r *Reconciler) retryAcks(ctx context.Context) error {
	entries, err := r.ledger.FindUnacked(ctx, r.maxAttempts, batchSize)
	if err != nil {
		return fmt.Errorf("find unacked entries: %w", err)
	}

	for _, e := range entries {
		acksRetried.Inc()

		ackErr := r.acker.AckEvent(ctx, e.EventID)
		detail := ""
		if ackErr != nil {
			detail = ackErr.Error()
			ackRetryFailures.Inc()
			r.logger.Warn("acknowledgement retry failed", "event_id", e.EventID,
				"ack_attempts", e.AckAttempts+1, "error", ackErr)
		} else {
			r.logger.Info("acknowledgement delivered", "event_id", e.EventID,
				"ack_attempts", e.AckAttempts+1)
		}

		if err := r.ledger.RecordAck(ctx, e.EventID, ackErr == nil, detail); err != nil {
			r.logger.Error("ledger ack write failed", "event_id", e.EventID, "error", err)
		}
	}

	return nil
}

func (r *Reconciler) reportStale(ctx context.Context) error {
	threshold := time.Now().Add(-r.cooldown)
	entries, err := r.ledger.FindStale(ctx, threshold, r.maxAttempts, batchSize)
	if err != nil {
		return fmt.Errorf("find stale entries: %w", err)
	}

	for _, e := range entries {
		staleEntriesSeen.Inc()
		r.logger.Warn("stale ledger entry", "event_id", e.EventID, "status", e.Status,
			"attempts", e.Attempts, "last_error", e.LastError, "updated_at", e.UpdatedAt)
	}

	return nil
}
