package flowsentry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReloadDeliversSwapTokens(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, filepath.Join(dir, "rules", "cvs.json"),
		`{"name": "cvs-invalid-entry", "option": "cvs", "args": "invalid-entry", "enabled": true}`)

	w := NewConfigWatcher(dir, DefaultOptionRegistry(), nil)
	a := NewAnalyzer("t0", NewSliceSource(), &capturePipeline{}, NewConfigHandle(&RuntimeConfig{}, nil), nil)
	w.Register(a)

	if err := w.Reload(); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !a.SwapPending() {
		t.Fatalf("reload did not deliver a swap token")
	}

	// The delivered configuration carries the compiled rule set.
	a.Run(context.Background()) // empty source: applies the swap, then EOF
	if a.Count() != 0 || !a.Done() {
		t.Fatalf("analyzer did not drain cleanly")
	}
}

func TestReloadRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, filepath.Join(dir, "rules", "bad.json"),
		`{"name": "r", "option": "no-such-keyword", "enabled": true}`)

	w := NewConfigWatcher(dir, DefaultOptionRegistry(), nil)
	a := NewAnalyzer("t0", NewSliceSource(), &capturePipeline{}, NewConfigHandle(&RuntimeConfig{}, nil), nil)
	w.Register(a)

	if err := w.Reload(); err == nil {
		t.Fatalf("expected reload to reject an uncompilable rule")
	}

	// Duplicate names fail validation before compilation.
	os.Remove(filepath.Join(dir, "rules", "bad.json"))
	writeConfigFile(t, filepath.Join(dir, "rules", "a.json"),
		`{"name": "dup", "option": "cvs", "args": "invalid-entry", "enabled": true}`)
	writeConfigFile(t, filepath.Join(dir, "rules", "b.json"),
		`{"name": "dup", "option": "cvs", "args": "invalid-entry", "enabled": true}`)
	if err := w.Reload(); err == nil {
		t.Fatalf("expected reload to reject duplicate rule names")
	}
}

func TestWatcherPicksUpFileChanges(t *testing.T) {
	dir := t.TempDir()
	rulesDir := filepath.Join(dir, "rules")
	if err := os.MkdirAll(rulesDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := NewConfigWatcher(dir, DefaultOptionRegistry(), nil)
	a := NewAnalyzer("t0", NewSliceSource(), &capturePipeline{}, NewConfigHandle(&RuntimeConfig{}, nil), nil)
	w.Register(a)

	if err := w.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, filepath.Join(rulesDir, "cvs.json"),
		`{"name": "cvs-invalid-entry", "option": "cvs", "args": "invalid-entry", "enabled": true}`)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.SwapPending() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("file change never produced a swap token")
}
