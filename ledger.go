package flowsentry

import (
	"sync"
	"time"
)

// DetectionLedger keeps a short-lived view of recent matches so the control
// surface can answer "what is firing right now" without querying the store.
type DetectionLedger struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries []*AlertEvent
}

// DetectionSummary aggregates the ledger for status endpoints.
type DetectionSummary struct {
	ActiveRules   map[string]int `json:"activeRules"`
	TotalMatches  int            `json:"totalMatches"`
	LastUpdated   time.Time      `json:"lastUpdated"`
	ActiveSources int            `json:"activeSources"`
}

func NewDetectionLedger(ttl time.Duration) *DetectionLedger {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DetectionLedger{ttl: ttl}
}

func (l *DetectionLedger) Record(ev *AlertEvent) {
	if ev == nil || ev.Rule == "" {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, ev)
	l.mu.Unlock()
}

// Snapshot returns the alerts still inside the TTL window.
func (l *DetectionLedger) Snapshot() []*AlertEvent {
	now := time.Now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var alive []*AlertEvent
	for _, ev := range l.entries {
		if now.Sub(ev.Recorded) > l.ttl {
			continue
		}
		alive = append(alive, ev)
	}
	return alive
}

// Cleanup drops expired entries. Run it periodically from the owner.
func (l *DetectionLedger) Cleanup() {
	now := time.Now()
	l.mu.Lock()
	kept := l.entries[:0]
	for _, ev := range l.entries {
		if now.Sub(ev.Recorded) <= l.ttl {
			kept = append(kept, ev)
		}
	}
	l.entries = kept
	l.mu.Unlock()
}

func (l *DetectionLedger) Summary() DetectionSummary {
	summary := DetectionSummary{ActiveRules: make(map[string]int)}
	sources := make(map[string]struct{})
	for _, ev := range l.Snapshot() {
		summary.ActiveRules[ev.Rule]++
		summary.TotalMatches++
		sources[ev.Source] = struct{}{}
		if ev.Recorded.After(summary.LastUpdated) {
			summary.LastUpdated = ev.Recorded
		}
	}
	summary.ActiveSources = len(sources)
	return summary
}
