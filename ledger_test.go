package flowsentry

import (
	"testing"
	"time"
)

func TestLedgerTTL(t *testing.T) {
	l := NewDetectionLedger(time.Minute)

	l.Record(&AlertEvent{Rule: "fresh", Source: "t0", Recorded: time.Now()})
	l.Record(&AlertEvent{Rule: "stale", Source: "t1", Recorded: time.Now().Add(-2 * time.Minute)})
	l.Record(nil)
	l.Record(&AlertEvent{Rule: ""}) // ignored

	alive := l.Snapshot()
	if len(alive) != 1 || alive[0].Rule != "fresh" {
		t.Fatalf("snapshot = %+v, want only the fresh entry", alive)
	}

	l.Cleanup()
	if len(l.entries) != 1 {
		t.Fatalf("cleanup kept %d entries, want 1", len(l.entries))
	}
}

func TestLedgerSummary(t *testing.T) {
	l := NewDetectionLedger(time.Minute)
	now := time.Now()
	l.Record(&AlertEvent{Rule: "a", Source: "t0", Recorded: now.Add(-2 * time.Second)})
	l.Record(&AlertEvent{Rule: "a", Source: "t1", Recorded: now.Add(-time.Second)})
	l.Record(&AlertEvent{Rule: "b", Source: "t0", Recorded: now})

	s := l.Summary()
	if s.TotalMatches != 3 {
		t.Fatalf("total = %d, want 3", s.TotalMatches)
	}
	if s.ActiveRules["a"] != 2 || s.ActiveRules["b"] != 1 {
		t.Fatalf("rule counts = %v", s.ActiveRules)
	}
	if s.ActiveSources != 2 {
		t.Fatalf("sources = %d, want 2", s.ActiveSources)
	}
	if !s.LastUpdated.Equal(now) {
		t.Fatalf("last updated = %v, want %v", s.LastUpdated, now)
	}
}
