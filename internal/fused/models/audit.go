package models

import (
	"fmt"
	"sync"
	"time"
)

// DefaultAuditHistoryMax bounds the audit history when the caller does not
// configure a cap.
const DefaultAuditHistoryMax = 13

// AuditHistory is the bounded, append-only log of human-readable entries on a
// fused account. Appends preserve causal order; once the cap is reached the
// oldest entry is evicted atomically with the append. Safe for concurrent
// appends.
type AuditHistory struct {
	mu      sync.Mutex
	max     int
	entries []string
}

// NewAuditHistory creates a history bounded to max entries. Non-positive max
// falls back to DefaultAuditHistoryMax.
func NewAuditHistory(max int) *AuditHistory {
	if max <= 0 {
		max = DefaultAuditHistoryMax
	}
	return &AuditHistory{max: max}
}

// Append records a dated entry, evicting the oldest beyond the cap.
func (h *AuditHistory) Append(now time.Time, entry string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, fmt.Sprintf("%s %s", now.UTC().Format(time.RFC3339), entry))
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
}

// Entries returns a copy of the history, oldest first.
func (h *AuditHistory) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the current number of entries.
func (h *AuditHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Restore replaces the history with persisted entries, trimming to the cap.
func (h *AuditHistory) Restore(entries []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(entries) > h.max {
		entries = entries[len(entries)-h.max:]
	}
	h.entries = make([]string, len(entries))
	copy(h.entries, entries)
}
