package dispatch

import (
	"context"
	"encoding/json"
)

// Handler applies one event's business effect to the inventory store.
// Handlers are not internally idempotent: invoking one twice for the same
// payload double-applies stock changes. Ledger-level dedup prevents that.
type Handler func(ctx context.Context, raw json.RawMessage) error

// Table maps canonical event-type keys to handlers. New event types are
// added by registering a new entry, not by branching logic.
type Table struct {
	handlers map[string]Handler
}

func NewTable() *Table {
	return &Table{handlers: make(map[string]Handler)}
}

func (t *Table) Register(canonical string, h Handler) {
	t.handlers[canonical] = h
}

// Lookup returns the handler for an exact canonical key match.
func (t *Table) Lookup(canonical string) (Handler, bool) {
	h, ok := t.handlers[canonical]
	return h, ok
}

func (t *Table) Types() []string {
	types := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		types = append(types, k)
	}
	return types
}
