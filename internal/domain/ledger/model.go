package ledger

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusProcessed Status = "PROCESSED"
	StatusError     Status = "ERROR"
)

// Entry is the durable per-event record. One row exists per distinct event
// identity; rows are never deleted by normal operation.
type Entry struct {
	EventID      string     `json:"event_id"`
	Status       Status     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"last_error,omitempty"`
	AckSent      bool       `json:"ack_sent"`
	AckAttempts  int        `json:"ack_attempts"`
	AckLastError string     `json:"ack_last_error,omitempty"`
	AckLastAt    *time.Time `json:"ack_last_at,omitempty"`
	Topic        string     `json:"topic"`
	Partition    int        `json:"partition"`
	Offset       int64      `json:"offset"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Summary holds per-status row counts for health reporting.
type Summary struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Error     int64 `json:"error"`
	Pending   int64 `json:"pending"`
}

type Repository interface {
	// Upsert creates a PENDING entry for the key if none exists and returns
	// the current row either way. Concurrent calls for the same key must not
	// create duplicates.
	Upsert(ctx context.Context, eventID, topic string, partition int, offset int64) (*Entry, error)

	GetByID(ctx context.Context, eventID string) (*Entry, error)

	FindByStatus(ctx context.Context, status Status, limit int) ([]*Entry, error)

	// MarkProcessed sets PROCESSED, increments attempts and clears last_error.
	MarkProcessed(ctx context.Context, eventID string) error

	// MarkError sets ERROR, increments attempts and records the error detail.
	MarkError(ctx context.Context, eventID string, detail string) error

	// RecordAck updates the acknowledgement fields after an ack attempt.
	RecordAck(ctx context.Context, eventID string, sent bool, detail string) error

	// FindUnacked returns PROCESSED entries with ack_sent=false and
	// ack_attempts below the ceiling.
	FindUnacked(ctx context.Context, maxAttempts int, limit int) ([]*Entry, error)

	// FindStale returns PENDING/ERROR entries last updated before the
	// threshold with attempts below the ceiling.
	FindStale(ctx context.Context, before time.Time, maxAttempts int, limit int) ([]*Entry, error)

	CountByStatus(ctx context.Context) (*Summary, error)
}
