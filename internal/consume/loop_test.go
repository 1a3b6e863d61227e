package consume_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"project/internal/consume"
	"project/internal/dedup"
	"project/internal/dispatch"
	"project/internal/domain/ledger"
	"project/internal/normalize"

	"github.com/segmentio/kafka-go"
)

// ---- fakes ----

type fakeBroker struct {
	mu      sync.Mutex
	queue   []kafka.Message
	commits []kafka.Message
	cancel  context.CancelFunc
}

func (b *fakeBroker) FetchMessage(ctx context.Context) (kafka.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) > 0 {
		msg := b.queue[0]
		b.queue = b.queue[1:]
		return msg, nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	return kafka.Message{}, context.Canceled
}

func (b *fakeBroker) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commits = append(b.commits, msgs...)
	return nil
}

func (b *fakeBroker) committed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.commits)
}

type fakeLedger struct {
	mu           sync.Mutex
	entries      map[string]*ledger.Entry
	upsertErr    error
	processedErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[string]*ledger.Entry)}
}

func (f *fakeLedger) Upsert(_ context.Context, eventID, topic string, partition int, offset int64) (*ledger.Entry, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[eventID]; ok {
		cp := *e
		return &cp, nil
	}
	e := &ledger.Entry{
		EventID: eventID, Status: ledger.StatusPending,
		Topic: topic, Partition: partition, Offset: offset,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	f.entries[eventID] = e
	cp := *e
	return &cp, nil
}

func (f *fakeLedger) GetByID(_ context.Context, eventID string) (*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[eventID]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (f *fakeLedger) MarkProcessed(_ context.Context, eventID string) error {
	if f.processedErr != nil {
		return f.processedErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[eventID]
	if !ok {
		return fmt.Errorf("ledger entry not found: %s", eventID)
	}
	e.Status = ledger.StatusProcessed
	e.Attempts++
	e.LastError = ""
	e.UpdatedAt = time.Now()
	return nil
}

func (f *fakeLedger) MarkError(_ context.Context, eventID string, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[eventID]
	if !ok {
		return fmt.Errorf("ledger entry not found: %s", eventID)
	}
	e.Status = ledger.StatusError
	e.Attempts++
	e.LastError = detail
	e.UpdatedAt = time.Now()
	return nil
}

func (f *fakeLedger) RecordAck(_ context.Context, eventID string, sent bool, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[eventID]
	if !ok {
		return fmt.Errorf("ledger entry not found: %s", eventID)
	}
	now := time.Now()
	e.AckSent = sent
	e.AckAttempts++
	e.AckLastError = detail
	e.AckLastAt = &now
	e.UpdatedAt = now
	return nil
}

func (f *fakeLedger) FindByStatus(_ context.Context, status ledger.Status, limit int) ([]*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range f.entries {
		if e.Status == status {
			cp := *e
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeLedger) FindUnacked(_ context.Context, maxAttempts int, limit int) ([]*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range f.entries {
		if e.Status == ledger.StatusProcessed && !e.AckSent && e.AckAttempts < maxAttempts {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) FindStale(_ context.Context, before time.Time, maxAttempts int, limit int) ([]*ledger.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*ledger.Entry
	for _, e := range f.entries {
		if (e.Status == ledger.StatusPending || e.Status == ledger.StatusError) &&
			e.UpdatedAt.Before(before) && e.Attempts < maxAttempts {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountByStatus(_ context.Context) (*ledger.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &ledger.Summary{}
	for _, e := range f.entries {
		s.Total++
		switch e.Status {
		case ledger.StatusProcessed:
			s.Processed++
		case ledger.StatusError:
			s.Error++
		case ledger.StatusPending:
			s.Pending++
		}
	}
	return s, nil
}

func (f *fakeLedger) entry(t *testing.T, eventID string) *ledger.Entry {
	t.Helper()
	e, _ := f.GetByID(context.Background(), eventID)
	if e == nil {
		t.Fatalf("ledger entry %s not found", eventID)
	}
	return e
}

type fakeAcker struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *fakeAcker) AckEvent(_ context.Context, eventID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, eventID)
	return a.err
}

func (a *fakeAcker) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type fakeDeadLetter struct {
	mu       sync.Mutex
	messages []kafka.Message
	reasons  []string
}

func (d *fakeDeadLetter) Publish(_ context.Context, msg kafka.Message, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
	d.reasons = append(d.reasons, reason)
	return nil
}

// ---- helpers ----

type env struct {
	broker  *fakeBroker
	ledger  *fakeLedger
	cache   *dedup.Cache
	table   *dispatch.Table
	acker   *fakeAcker
	monitor *consume.Monitor
	dlq     *fakeDeadLetter
	calls   *int
}

func newEnv(handlerErr error, policy consume.RedeliveryPolicy) (*consume.Loop, *env) {
	e := &env{
		broker:  &fakeBroker{},
		ledger:  newFakeLedger(),
		cache:   dedup.New(100, time.Hour),
		table:   dispatch.NewTable(),
		acker:   &fakeAcker{},
		monitor: consume.NewMonitor(consume.ConfigEcho{}),
		dlq:     &fakeDeadLetter{},
		calls:   new(int),
	}
	e.table.Register(normalize.CompraRealizada, func(ctx context.Context, raw json.RawMessage) error {
		(*e.calls)++
		return handlerErr
	})
	loop := consume.NewLoop(e.broker, e.ledger, e.cache, e.table, e.acker,
		e.monitor, policy, e.dlq, nil)
	return loop, e
}

func record(eventID, eventType string) kafka.Message {
	body := map[string]any{
		"eventType": eventType,
		"payload":   map[string]any{"cart": map[string]any{"cartItems": []any{}}},
	}
	if eventID != "" {
		body["eventId"] = eventID
	}
	value, _ := json.Marshal(body)
	return kafka.Message{Topic: "core-events", Partition: 0, Offset: 42, Value: value}
}

func defaultPolicy() consume.RedeliveryPolicy {
	return consume.RedeliveryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, DeadLetter: true}
}

// ---- tests ----

func TestHandle_SuccessfulDispatch(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1", *e.calls)
	}
	entry := e.ledger.entry(t, "ev-1")
	if entry.Status != ledger.StatusProcessed {
		t.Errorf("status = %s, want PROCESSED", entry.Status)
	}
	if entry.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", entry.Attempts)
	}
	if !entry.AckSent || entry.AckAttempts != 1 {
		t.Errorf("ack = sent:%v attempts:%d, want sent after dispatch", entry.AckSent, entry.AckAttempts)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, want 1", e.broker.committed())
	}
}

func TestHandle_DuplicateDeliverySkippedByCache(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	msg := record("ev-1", "Compra Realizada")

	loop.Handle(context.Background(), msg)
	loop.Handle(context.Background(), msg)

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1 (second delivery deduped)", *e.calls)
	}
	if got := e.monitor.Snapshot().Duplicates; got != 1 {
		t.Errorf("duplicates = %d, want 1", got)
	}
	if e.broker.committed() != 2 {
		t.Errorf("commits = %d, duplicate must still commit", e.broker.committed())
	}
}

func TestHandle_LedgerGuardsAfterCacheEviction(t *testing.T) {
	// the cache is advisory: even with a cold cache, a PROCESSED ledger
	// entry must prevent reapplying business effects
	loop, e := newEnv(nil, defaultPolicy())
	msg := record("ev-1", "Compra Realizada")

	loop.Handle(context.Background(), msg)

	// simulate eviction by replacing the cache
	loop2 := consume.NewLoop(e.broker, e.ledger, dedup.New(100, time.Hour),
		e.table, e.acker, e.monitor, defaultPolicy(), e.dlq, nil)
	loop2.Handle(context.Background(), msg)

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1 (ledger PROCESSED check must hold)", *e.calls)
	}
	if e.broker.committed() != 2 {
		t.Errorf("commits = %d, want 2", e.broker.committed())
	}
}

func TestHandle_ProcessedUnackedRetriesAck(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	e.acker.err = errors.New("core unreachable")
	msg := record("ev-1", "Compra Realizada")

	loop.Handle(context.Background(), msg)

	entry := e.ledger.entry(t, "ev-1")
	if entry.Status != ledger.StatusProcessed || entry.AckSent {
		t.Fatalf("entry = %s/ackSent:%v, want PROCESSED/false", entry.Status, entry.AckSent)
	}

	// redelivery with a cold cache: business dispatch is skipped but the
	// pending acknowledgement is retried
	e.acker.err = nil
	loop2 := consume.NewLoop(e.broker, e.ledger, dedup.New(100, time.Hour),
		e.table, e.acker, e.monitor, defaultPolicy(), e.dlq, nil)
	loop2.Handle(context.Background(), msg)

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1", *e.calls)
	}
	entry = e.ledger.entry(t, "ev-1")
	if !entry.AckSent || entry.AckAttempts != 2 {
		t.Errorf("ack = sent:%v attempts:%d, want sent on retry", entry.AckSent, entry.AckAttempts)
	}
}

func TestHandle_AckFailureDoesNotBlockCommit(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	e.acker.err = errors.New("timeout")

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	entry := e.ledger.entry(t, "ev-1")
	if entry.Status != ledger.StatusProcessed {
		t.Errorf("status = %s, want PROCESSED despite ack failure", entry.Status)
	}
	if entry.AckSent {
		t.Error("ackSent = true, want false")
	}
	if entry.AckLastError == "" {
		t.Error("ackLastError empty, want diagnostic recorded")
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, ack failure must not prevent commit", e.broker.committed())
	}
}

func TestHandle_UnknownTypeIsProcessedWithoutMutation(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())

	loop.Handle(context.Background(), record("ev-1", "Tipo Desconocido"))

	if *e.calls != 0 {
		t.Errorf("handler calls = %d, want 0", *e.calls)
	}
	entry := e.ledger.entry(t, "ev-1")
	if entry.Status != ledger.StatusProcessed {
		t.Errorf("status = %s, want PROCESSED for unrecognized type", entry.Status)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, want 1", e.broker.committed())
	}
}

func TestHandle_DeserializationFlagCommitsWithoutProcessing(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	msg := record("ev-1", "Compra Realizada")
	msg.Headers = []kafka.Header{{Key: consume.DeserializationErrorHeader, Value: []byte("bad avro")}}

	loop.Handle(context.Background(), msg)

	if *e.calls != 0 {
		t.Errorf("handler calls = %d, want 0", *e.calls)
	}
	if summary, _ := e.ledger.CountByStatus(context.Background()); summary.Total != 0 {
		t.Errorf("ledger rows = %d, want 0", summary.Total)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, flagged record must commit immediately", e.broker.committed())
	}
}

func TestHandle_MalformedRecordCommitsWithoutProcessing(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	msg := kafka.Message{Topic: "core-events", Value: []byte("garbage{{")}

	loop.Handle(context.Background(), msg)

	if *e.calls != 0 {
		t.Errorf("handler calls = %d, want 0", *e.calls)
	}
	if summary, _ := e.ledger.CountByStatus(context.Background()); summary.Total != 0 {
		t.Errorf("ledger rows = %d, want 0", summary.Total)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, want 1", e.broker.committed())
	}
}

func TestHandle_DispatchFailureDeadLettersAfterRetries(t *testing.T) {
	loop, e := newEnv(errors.New("storage down"), defaultPolicy())

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	if *e.calls != 2 {
		t.Errorf("handler calls = %d, want 2 (attempt ceiling)", *e.calls)
	}
	entry := e.ledger.entry(t, "ev-1")
	if entry.Status != ledger.StatusError {
		t.Errorf("status = %s, want ERROR", entry.Status)
	}
	if entry.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", entry.Attempts)
	}
	if entry.LastError == "" {
		t.Error("lastError empty, want diagnostic")
	}
	if len(e.dlq.messages) != 1 {
		t.Fatalf("dead-lettered = %d, want 1", len(e.dlq.messages))
	}
	if e.dlq.reasons[0] != "storage down" {
		t.Errorf("reason = %q", e.dlq.reasons[0])
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, exhausted record must commit", e.broker.committed())
	}
	if e.acker.count() != 0 {
		t.Errorf("acks = %d, failed record must not be acknowledged", e.acker.count())
	}
}

func TestHandle_DispatchFailureDropsWhenDeadLetterDisabled(t *testing.T) {
	policy := consume.RedeliveryPolicy{MaxAttempts: 2, Backoff: time.Millisecond, DeadLetter: false}
	loop, e := newEnv(errors.New("boom"), policy)

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	if len(e.dlq.messages) != 0 {
		t.Errorf("dead-lettered = %d, want 0", len(e.dlq.messages))
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, dropped record must commit", e.broker.committed())
	}
}

func TestHandle_SyntheticKeyWhenEnvelopeHasNoID(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())

	loop.Handle(context.Background(), record("", "Compra Realizada"))

	entry := e.ledger.entry(t, "core-events:0:42")
	if entry.Status != ledger.StatusProcessed {
		t.Errorf("status = %s, want PROCESSED under synthetic key", entry.Status)
	}
}

func TestHandle_LedgerWriteFailureStillCommits(t *testing.T) {
	// Known boundary: if the PROCESSED transition fails to persist, the
	// offset still commits and a redelivery may double-apply. This pins
	// the behavior, it does not assert a guarantee.
	loop, e := newEnv(nil, defaultPolicy())
	e.ledger.processedErr = errors.New("disk full")

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1", *e.calls)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, ledger write failure is non-fatal", e.broker.committed())
	}
}

func TestHandle_UpsertFailureStillProcesses(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	e.ledger.upsertErr = errors.New("connection refused")

	loop.Handle(context.Background(), record("ev-1", "Compra Realizada"))

	if *e.calls != 1 {
		t.Errorf("handler calls = %d, want 1 (ledger errors must not stall the partition)", *e.calls)
	}
	if e.broker.committed() != 1 {
		t.Errorf("commits = %d, want 1", e.broker.committed())
	}
}

func TestRun_DrainsQueueAndStopsOnCancel(t *testing.T) {
	loop, e := newEnv(nil, defaultPolicy())
	ctx, cancel := context.WithCancel(context.Background())
	e.broker.cancel = cancel
	e.broker.queue = []kafka.Message{
		record("ev-1", "Compra Realizada"),
		record("ev-2", "Compra Realizada"),
	}

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if *e.calls != 2 {
		t.Errorf("handler calls = %d, want 2", *e.calls)
	}
	if e.broker.committed() != 2 {
		t.Errorf("commits = %d, want 2", e.broker.committed())
	}
}
