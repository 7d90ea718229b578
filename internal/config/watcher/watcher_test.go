package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/streetsidesoftware/vscode-spell-checker-sub002/internal/logging"
)

func newTestWatcher(t *testing.T, debounce time.Duration) *Watcher {
	t.Helper()
	w, err := New(WithDebounce(debounce), WithLogger(logging.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// collector records delivered events.
type collector struct {
	mu     sync.Mutex
	calls  int
	events []Event
	ch     chan struct{}
}

func newCollector() *collector {
	return &collector{ch: make(chan struct{}, 16)}
}

func (c *collector) handle(events []Event) {
	c.mu.Lock()
	c.calls++
	c.events = append(c.events, events...)
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpWrite, "write"},
		{OpCreate, "create"},
		{OpRemove, "remove"},
		{OpRename, "rename"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}

func TestWatcher_Watch(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 10*time.Millisecond)

	file := filepath.Join(tmpDir, "custom.yaml")
	if err := w.Watch(file); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := w.Watch(file); err != nil {
		t.Fatalf("second Watch() error = %v", err)
	}
	w.mu.Lock()
	files, refs := len(w.files), w.dirs[tmpDir]
	w.mu.Unlock()
	if files != 1 || refs != 1 {
		t.Errorf("files = %d, dir refs = %d, want 1 and 1", files, refs)
	}
}

func TestWatcher_UnwatchDir(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 10*time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := w.WatchDir(tmpDir); err != nil {
			t.Fatalf("WatchDir() error = %v", err)
		}
	}
	if err := w.UnwatchDir(tmpDir); err != nil {
		t.Fatalf("UnwatchDir() error = %v", err)
	}
	if !w.relevant(filepath.Join(tmpDir, "cspell.json")) {
		t.Error("directory dropped while still referenced")
	}
	if err := w.UnwatchDir(tmpDir); err != nil {
		t.Fatalf("UnwatchDir() error = %v", err)
	}
	if w.relevant(filepath.Join(tmpDir, "cspell.json")) {
		t.Error("directory still watched after last UnwatchDir")
	}
	if err := w.UnwatchDir(tmpDir); err != nil {
		t.Errorf("UnwatchDir() of unwatched dir = %v", err)
	}
}

func TestWatcher_DetectsWrite(t *testing.T) {
	tmpDir := t.TempDir()
	file := filepath.Join(tmpDir, "settings.toml")
	if err := os.WriteFile(file, []byte("checkLimit = 1"), 0644); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(t, 20*time.Millisecond)
	c := newCollector()
	w.OnChange(c.handle)
	if err := w.Watch(file); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(file, []byte("checkLimit = 2"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("expected a change event")
	}
	if c.events[0].Path != file {
		t.Errorf("Path = %q, want %q", c.events[0].Path, file)
	}
}

func TestWatcher_WatchDirConfigNames(t *testing.T) {
	tmpDir := t.TempDir()
	w := newTestWatcher(t, 20*time.Millisecond)
	c := newCollector()
	w.OnChange(c.handle)
	if err := w.WatchDir(tmpDir); err != nil {
		t.Fatal(err)
	}

	// Not a configuration file name.
	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(tmpDir, "cspell.json")
	if err := os.WriteFile(cfg, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	c.wait(t)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Path != cfg {
			t.Errorf("unexpected event for %s", ev.Path)
		}
	}
}

func TestWatcher_QueueCoalesce(t *testing.T) {
	w := newTestWatcher(t, time.Hour)
	now := time.Now()

	w.queueEvent(Event{Path: "/a", Op: OpCreate, Time: now})
	w.queueEvent(Event{Path: "/a", Op: OpWrite, Time: now})
	w.queueEvent(Event{Path: "/b", Op: OpWrite, Time: now})
	w.queueEvent(Event{Path: "/b", Op: OpRemove, Time: now})
	w.queueEvent(Event{Path: "/c", Op: OpWrite, Time: now})
	w.queueEvent(Event{Path: "/c", Op: OpWrite, Time: now})

	w.mu.Lock()
	defer w.mu.Unlock()
	want := map[string]Operation{"/a": OpCreate, "/b": OpRemove, "/c": OpWrite}
	for path, op := range want {
		if got := w.pending[path].Op; got != op {
			t.Errorf("pending[%s] = %v, want %v", path, got, op)
		}
	}
}

func TestWatcher_HandlerPanic(t *testing.T) {
	w := newTestWatcher(t, 0)
	c := newCollector()
	w.OnChange(func([]Event) { panic("boom") })
	w.OnChange(c.handle)

	w.queueEvent(Event{Path: "/x", Op: OpWrite, Time: time.Now()})
	c.wait(t)
}

func TestWatcher_Close(t *testing.T) {
	w, err := New(WithLogger(logging.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := w.Watch(filepath.Join(t.TempDir(), "cspell.json")); err != ErrClosed {
		t.Errorf("Watch after Close = %v, want ErrClosed", err)
	}
}
