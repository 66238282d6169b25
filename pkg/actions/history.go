package actions

import (
	"sync"
	"time"
)

// HistoryCapacity is how many execution records are kept.
const HistoryCapacity = 100

// Record is one attempt of one action execution.
type Record struct {
	Started  time.Time     `json:"started"`
	Action   string        `json:"action"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"error_kind,omitempty"`
	Duration time.Duration `json:"duration"`
	Attempt  int           `json:"attempt"`
	Success  bool          `json:"success"`
}

// history is a fixed-size ring of records; the oldest is overwritten first.
type history struct {
	records []Record
	next    int
	full    bool
	mu      sync.Mutex
}

func newHistory(capacity int) *history {
	return &history{records: make([]Record, capacity)}
}

func (h *history) add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[h.next] = r
	h.next = (h.next + 1) % len(h.records)
	if h.next == 0 {
		h.full = true
	}
}

// snapshot returns records oldest first.
func (h *history) snapshot() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Record(nil), h.records[:h.next]...)
	}
	out := make([]Record, 0, len(h.records))
	out = append(out, h.records[h.next:]...)
	return append(out, h.records[:h.next]...)
}
