package consume

import (
	"sync"
	"time"
)

// ConfigEcho is the static consumer configuration surfaced in the snapshot.
type ConfigEcho struct {
	Topic       string        `json:"topic"`
	GroupID     string        `json:"group_id"`
	Concurrency int           `json:"concurrency"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
	DeadLetter  bool          `json:"dead_letter"`
}

// Monitor keeps in-memory counters for health reporting. It is created once
// and shared by reference across workers; it is never a source of truth for
// business state.
type Monitor struct {
	mu          sync.Mutex
	handled     map[string]int64
	errors      map[string]int64
	lastEventID map[string]string
	duplicates  int64
	startedAt   time.Time
	cfg         ConfigEcho
}

type Snapshot struct {
	UptimeSeconds int64             `json:"uptime_seconds"`
	Handled       map[string]int64  `json:"handled_by_type"`
	Errors        map[string]int64  `json:"errors_by_type"`
	LastEventID   map[string]string `json:"last_event_id_by_type"`
	Duplicates    int64             `json:"duplicates"`
	Config        ConfigEcho        `json:"config"`
}

func NewMonitor(cfg ConfigEcho) *Monitor {
	return &Monitor{
		handled:     make(map[string]int64),
		errors:      make(map[string]int64),
		lastEventID: make(map[string]string),
		startedAt:   time.Now(),
		cfg:         cfg,
	}
}

func (m *Monitor) Handled(eventType, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled[eventType]++
	m.lastEventID[eventType] = eventID
}

func (m *Monitor) Errored(eventType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[eventType]++
}

func (m *Monitor) Duplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicates++
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds: int64(time.Since(m.startedAt).Seconds()),
		Handled:       make(map[string]int64, len(m.handled)),
		Errors:        make(map[string]int64, len(m.errors)),
		LastEventID:   make(map[string]string, len(m.lastEventID)),
		Duplicates:    m.duplicates,
		Config:        m.cfg,
	}
	for k, v := range m.handled {
		snap.Handled[k] = v
	}
	for k, v := range m.errors {
		snap.Errors[k] = v
	}
	for k, v := range m.lastEventID {
		snap.LastEventID[k] = v
	}
	return snap
}
