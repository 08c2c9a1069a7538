package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestNewFileWatcher verifies that creating a new FileWatcher succeeds.
func TestNewFileWatcher(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.watcher.Close()

	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(path); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(path); err == nil {
		t.Error("second Start() should fail")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
	if err := fw.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}

	if _, ok := <-fw.Events(); ok {
		t.Error("Events() channel should be closed after Stop()")
	}
}

func TestFileWatcher_MissingDirectory(t *testing.T) {
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	defer fw.watcher.Close()

	if err := fw.Start(filepath.Join(t.TempDir(), "missing", "config.toml")); err == nil {
		t.Error("Start() should fail for a missing directory")
	}
}

// TestFileWatcher_Events verifies that writes to the watched file are
// reported and that other files in the directory are ignored.
func TestFileWatcher_Events(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if err := fw.Start(path); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer fw.Stop()

	if err := os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("[jira]\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	select {
	case ev := <-fw.Events():
		want, _ := filepath.Abs(path)
		if ev.Path != want {
			t.Errorf("event path = %s, want %s", ev.Path, want)
		}
		if ev.Op != OpCreate && ev.Op != OpModify {
			t.Errorf("event op = %s, want create or modify", ev.Op)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-fw.Events():
			if ev.Op == OpDelete {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for delete event")
		}
	}
}

func TestEventOpString(t *testing.T) {
	tests := []struct {
		op   EventOp
		want string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{EventOp(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("EventOp(%d).String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
