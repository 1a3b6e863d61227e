package api

import (
	"encoding/json"
	"net/http"

	"project/internal/consume"
	"project/internal/domain/ledger"
)

type Handlers struct {
	ledger  ledger.Repository
	monitor *consume.Monitor
}

func NewHandlers(ledgerRepo ledger.Repository, monitor *consume.Monitor) *Handlers {
	return &Handlers{
		ledger:  ledgerRepo,
		monitor: monitor,
	}
}

// LedgerSummary reports per-status ledger counts for operators.
func (h *Handlers) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	json.NewEncoder(w).Encode(summary)
}

// LedgerByStatus lists ledger entries in a given status, newest last.
func (h *Handlers) LedgerByStatus(w http.ResponseWriter, r *http.Request) {
	status := ledger.Status(r.URL.Query().Get("status"))
	switch status {
	case ledger.StatusPending, ledger.StatusProcessed, ledger.StatusError:
	default:
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	entries, err := h.ledger.FindByStatus(r.Context(), status, 200)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	json.NewEncoder(w).Encode(entries)
}

// Monitor exposes the consumer monitor snapshot. The snapshot is a health
// view, never a source of truth for business state.
func (h *Handlers) Monitor(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	json.NewEncoder(w).Encode(h.monitor.Snapshot())
}
