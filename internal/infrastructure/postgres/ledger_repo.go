package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"project/internal/domain/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerRepository persists event_ledger rows, keyed by event_id with a
// secondary index on status.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const entryColumns = `
	event_id, status, attempts, COALESCE(last_error, ''),
	ack_sent, ack_attempts, COALESCE(ack_last_error, ''), ack_last_at,
	topic, partition, "offset", created_at, updated_at
`

// Upsert inserts a PENDING row for the key, or touches the existing one.
// The ON CONFLICT clause makes concurrent re-delivery races safe: the row's
// identity is reused, never duplicated.
func (r *LedgerRepository) Upsert(ctx context.Context, eventID, topic string, partition int, offset int64) (*ledger.Entry, error) {
	sql := `
		INSERT INTO event_ledger (event_id, status, attempts, ack_sent, ack_attempts, topic, partition, "offset", created_at, updated_at)
		VALUES ($1, 'PENDING', 0, FALSE, 0, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (event_id) DO UPDATE SET updated_at = NOW()
		RETURNING ` + entryColumns

	row := r.pool.QueryRow(ctx, sql, eventID, topic, partition, offset)
	e, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("upsert ledger entry: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) GetByID(ctx context.Context, eventID string) (*ledger.Entry, error) {
	sql := `SELECT ` + entryColumns + ` FROM event_ledger WHERE event_id = $1`

	e, err := scanEntry(r.pool.QueryRow(ctx, sql, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return e, nil
}

func (r *LedgerRepository) MarkProcessed(ctx context.Context, eventID string) error {
	const sql = `
		UPDATE event_ledger
		SET status = 'PROCESSED', attempts = attempts + 1, last_error = NULL, updated_at = NOW()
		WHERE event_id = $1
	`
	tag, err := r.pool.Exec(ctx, sql, eventID)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", eventID)
	}
	return nil
}

func (r *LedgerRepository) MarkError(ctx context.Context, eventID string, detail string) error {
	const sql = `
		UPDATE event_ledger
		SET status = 'ERROR', attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE event_id = $1
	`
	tag, err := r.pool.Exec(ctx, sql, eventID, detail)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ledger entry not found: %s", eventID)
	}
	return nil
}

func (r *LedgerRepository) RecordAck(ctx context.Context, eventID string, sent bool, detail string) error {
	const sql = `
		UPDATE event_ledger
		SET ack_sent = $2, ack_attempts = ack_attempts + 1,
		    ack_last_error = NULLIF($3, ''), ack_last_at = NOW(), updated_at = NOW()
		WHERE event_id = $1
	`
	_, err := r.pool.Exec(ctx, sql, eventID, sent, detail)
	if err != nil {
		return fmt.Errorf("record ack: %w", err)
	}
	return nil
}

func (r *LedgerRepository) FindByStatus(ctx context.Context, status ledger.Status, limit int) ([]*ledger.Entry, error) {
	sql := `
		SELECT ` + entryColumns + `
		FROM event_ledger
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return r.queryEntries(ctx, sql, string(status), limit)
}

func (r *LedgerRepository) FindUnacked(ctx context.Context, maxAttempts int, limit int) ([]*ledger.Entry, error) {
	sql := `
		SELECT ` + entryColumns + `
		FROM event_ledger
		WHERE status = 'PROCESSED' AND ack_sent = FALSE AND ack_attempts < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	return r.queryEntries(ctx, sql, maxAttempts, limit)
}

func (r *LedgerRepository) FindStale(ctx context.Context, before time.Time, maxAttempts int, limit int) ([]*ledger.Entry, error) {
	sql := `
		SELECT ` + entryColumns + `
		FROM event_ledger
		WHERE status IN ('PENDING', 'ERROR') AND updated_at < $1 AND attempts < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`
	return r.queryEntries(ctx, sql, before, maxAttempts, limit)
}

func (r *LedgerRepository) CountByStatus(ctx context.Context) (*ledger.Summary, error) {
	const sql = `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'PROCESSED'),
			COUNT(*) FILTER (WHERE status = 'ERROR'),
			COUNT(*) FILTER (WHERE status = 'PENDING')
		FROM event_ledger
	`
	var s ledger.Summary
	if err := r.pool.QueryRow(ctx, sql).Scan(&s.Total, &s.Processed, &s.Error, &s.Pending); err != nil {
		return nil, fmt.Errorf("count ledger entries: %w", err)
	}
	return &s, nil
}

func (r *LedgerRepository) queryEntries(ctx context.Context, sql string, args ...any) ([]*ledger.Entry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row pgx.Row) (*ledger.Entry, error) {
	e := &ledger.Entry{}
	err := row.Scan(
		&e.EventID, &e.Status, &e.Attempts, &e.LastError,
		&e.AckSent, &e.AckAttempts, &e.AckLastError, &e.AckLastAt,
		&e.Topic, &e.Partition, &e.Offset, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
