package consume

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"project/internal/dedup"
	"project/internal/dispatch"
	"project/internal/domain/event"
	"project/internal/domain/ledger"
	"project/internal/normalize"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

var (
	eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_processed_total",
		Help: "The total number of events processed, by canonical type",
	}, []string{"type"})
	eventsErrored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "consumer_events_errors_total",
		Help: "The total number of dispatch failures, by canonical type",
	}, []string{"type"})
	eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_events_duplicate_total",
		Help: "The total number of records skipped by the idempotency fast path",
	})
	recordsDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "consumer_records_dead_lettered_total",
		Help: "The total number of records routed to the dead-letter topic",
	})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_processing_duration_seconds",
		Help:    "Time taken to process one record",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
)

// DeserializationErrorHeader marks a record whose bytes already failed
// decoding upstream. Such records are committed without processing so the
// consumer never loops over unparseable bytes.
const DeserializationErrorHeader = "x-deserialization-error"

type Broker interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Acker interface {
	AckEvent(ctx context.Context, eventID string) error
}

// DeadLetterPublisher routes a record that exhausted its attempts to a side
// channel for manual inspection.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, reason string) error
}

// Loop processes records from one broker reader. Several loops run
// concurrently in the same consumer group, sharing the ledger, the cache
// and the monitor; within one partition records are handled in order.
type Loop struct {
	broker     Broker
	ledger     ledger.Repository
	cache      *dedup.Cache
	table      *dispatch.Table
	acker      Acker
	monitor    *Monitor
	policy     RedeliveryPolicy
	deadLetter DeadLetterPublisher
	logger     *slog.Logger
}

func NewLoop(
	broker Broker,
	ledgerRepo ledger.Repository,
	cache *dedup.Cache,
	table *dispatch.Table,
	acker Acker,
	monitor *Monitor,
	policy RedeliveryPolicy,
	deadLetter DeadLetterPublisher,
	logger *slog.Logger,
) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		broker:     broker,
		ledger:     ledgerRepo,
		cache:      cache,
		table:      table,
		acker:      acker,
		monitor:    monitor,
		policy:     policy,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

func (l *Loop) Run(ctx context.Context) error {
	for {
		msg, err := l.broker.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("failed to fetch message", "error", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		l.Handle(ctx, msg)
	}
}

// Handle runs one record through the pipeline: dedup check, normalization,
// dispatch, ledger transition, best-effort acknowledgement, offset commit.
func (l *Loop) Handle(ctx context.Context, msg kafka.Message) {
	started := time.Now()

	if reason, flagged := deserializationError(msg); flagged {
		l.logger.Error("record flagged with upstream deserialization error, committing without processing",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "reason", reason)
		l.commit(ctx, msg)
		return
	}

	env, err := event.Parse(msg.Value)
	if err != nil {
		l.logger.Error("failed to parse envelope, committing without processing",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		l.commit(ctx, msg)
		return
	}

	key := ledgerKey(env, msg)

	if l.cache.AlreadyProcessed(key) {
		eventsDuplicate.Inc()
		l.monitor.Duplicate()
		l.commit(ctx, msg)
		return
	}

	entry, err := l.ledger.Upsert(ctx, key, msg.Topic, msg.Partition, msg.Offset)
	if err != nil {
		// Ledger writes are best-effort: aborting here would stall the
		// partition on a storage hiccup, which is the worse failure mode.
		l.logger.Error("ledger upsert failed", "event_id", key, "error", err)
		entry = &ledger.Entry{EventID: key, Status: ledger.StatusPending}
	}

	if entry.Status == ledger.StatusProcessed {
		l.cache.MarkProcessed(key)
		if !entry.AckSent {
			l.tryAck(ctx, key)
		}
		l.commit(ctx, msg)
		return
	}

	canonical := normalize.Key(env.Type)
	handler, recognized := l.table.Lookup(canonical)
	if !recognized {
		l.logger.Info("unrecognized event type, completing without mutation",
			"event_type", env.Type, "canonical", canonical, "event_id", key)
		l.finishProcessed(ctx, key, canonical, msg)
		processingDuration.Observe(time.Since(started).Seconds())
		return
	}

	for attempt := 1; ; attempt++ {
		dispatchErr := handler(ctx, env.Payload)
		if dispatchErr == nil {
			l.finishProcessed(ctx, key, canonical, msg)
			processingDuration.Observe(time.Since(started).Seconds())
			return
		}

		eventsErrored.WithLabelValues(canonical).Inc()
		l.monitor.Errored(canonical)
		l.logger.Error("dispatch failed", "event_id", key, "event_type", canonical,
			"attempt", attempt, "max", l.policy.MaxAttempts, "error", dispatchErr)

		if lerr := l.ledger.MarkError(ctx, key, dispatchErr.Error()); lerr != nil {
			l.logger.Error("ledger write failed", "event_id", key, "error", lerr)
		}

		if l.policy.Exhausted(attempt) {
			l.exhaust(ctx, key, msg, dispatchErr)
			return
		}

		if !sleepCtx(ctx, l.policy.Delay(attempt)) {
			// shutting down mid-retry: leave the offset uncommitted so the
			// record is redelivered
			return
		}
	}
}

func (l *Loop) finishProcessed(ctx context.Context, key, canonical string, msg kafka.Message) {
	l.cache.MarkProcessed(key)
	if err := l.ledger.MarkProcessed(ctx, key); err != nil {
		// The mutation is applied but not durably recorded: a redelivery in
		// this window can double-apply. Known consistency gap.
		l.logger.Error("ledger write failed after dispatch", "event_id", key, "error", err)
	}
	eventsProcessed.WithLabelValues(canonical).Inc()
	l.monitor.Handled(canonical, key)
	l.tryAck(ctx, key)
	l.commit(ctx, msg)
}

// tryAck attempts the downstream acknowledgement. Failure is swallowed and
// left for the reconciliation scheduler; it never fails the record.
func (l *Loop) tryAck(ctx context.Context, key string) {
	ackErr := l.acker.AckEvent(ctx, key)
	detail := ""
	if ackErr != nil {
		detail = ackErr.Error()
		l.logger.Warn("acknowledgement failed, left for reconciliation", "event_id", key, "error", ackErr)
	}
	if err := l.ledger.RecordAck(ctx, key, ackErr == nil, detail); err != nil {
		l.logger.Error("ledger ack write failed", "event_id", key, "error", err)
	}
}

func (l *Loop) exhaust(ctx context.Context, key string, msg kafka.Message, cause error) {
	if l.policy.DeadLetter && l.deadLetter != nil {
		if err := l.deadLetter.Publish(ctx, msg, cause.Error()); err != nil {
			l.logger.Error("dead-letter publish failed, dropping record", "event_id", key, "error", err)
		} else {
			recordsDeadLettered.Inc()
			l.logger.Error("record routed to dead-letter topic", "event_id", key, "error", cause)
		}
	} else {
		l.logger.Error("dropping record after retries", "event_id", key,
			"attempts", l.policy.MaxAttempts, "error", cause)
	}
	l.commit(ctx, msg)
}

func (l *Loop) commit(ctx context.Context, msg kafka.Message) {
	if err := l.broker.CommitMessages(ctx, msg); err != nil {
		// Without the commit the record will be redelivered; nothing else
		// to do for this delivery attempt.
		l.logger.Error("failed to commit offset", "topic", msg.Topic,
			"partition", msg.Partition, "offset", msg.Offset, "error", err)
	}
}

// ledgerKey returns the envelope's event id, or the synthetic
// topic:partition:offset key when the envelope carries none.
func ledgerKey(env *event.Envelope, msg kafka.Message) string {
	if id := strings.TrimSpace(env.EventID); id != "" {
		return id
	}
	return fmt.Sprintf("%s:%d:%d", msg.Topic, msg.Partition, msg.Offset)
}

func deserializationError(msg kafka.Message) (string, bool) {
	for _, h := range msg.Headers {
		if h.Key == DeserializationErrorHeader {
			return string(h.Value), true
		}
	}
	return "", false
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
