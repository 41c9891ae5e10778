package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"claude-auto/internal/config"
)

type recordingSaver struct {
	mu    sync.Mutex
	saved []string
}

func (r *recordingSaver) Save(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, path)
	return nil
}

func (r *recordingSaver) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

func startWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return w
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestExcluded(t *testing.T) {
	root := "/work/project"
	tests := []struct {
		path string
		want bool
	}{
		{"/work/project/main.go", false},
		{"/work/project/.git/HEAD", true},
		{"/work/project/web/node_modules/x/index.js", true},
		{"/work/project/pkg/__pycache__/m.cpython-311.pyc", true},
		{"/work/project/tool.pyc", true},
		{"/work/project/vendor/lib.go", true},
		{"/work/project/.claude/settings.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, excluded(root, tt.path))
		})
	}

	// An excluded name above the root does not exclude the whole tree.
	assert.False(t, excluded("/src/vendor/project", "/src/vendor/project/main.go"))
}

func TestOptionsFromSettings(t *testing.T) {
	s := config.DefaultSettings()
	opts := OptionsFromSettings("/tmp/x", s, false)
	assert.Equal(t, time.Second, opts.SaveDelay)
	assert.True(t, opts.AutoSave)
	assert.Equal(t, DefaultSettle, opts.Settle)

	assert.Zero(t, OptionsFromSettings("/tmp/x", s, true).SaveDelay)

	s.Automation.YoloMode = true
	assert.Zero(t, OptionsFromSettings("/tmp/x", s, false).SaveDelay)

	s = config.DefaultSettings()
	s.Automation.SaveDelay = 2.5
	assert.Equal(t, 2500*time.Millisecond, OptionsFromSettings("/tmp/x", s, false).SaveDelay)
}

func TestNew_RejectsMissingRoot(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "f")
	writeFile(t, file, "x")
	_, err = New(Options{Root: file})
	assert.Error(t, err)
}

func TestWatcher_SavesChangedFileOnce(t *testing.T) {
	dir := t.TempDir()
	saver := &recordingSaver{}
	startWatcher(t, Options{Root: dir, Settle: 100 * time.Millisecond, AutoSave: true, Saver: saver})

	path := filepath.Join(dir, "main.go")
	for i := 0; i < 3; i++ {
		writeFile(t, path, "package main // "+string(rune('a'+i)))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(saver.paths()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, []string{path}, saver.paths())
}

func TestWatcher_SkipsExcludedDirectories(t *testing.T) {
	dir := t.TempDir()
	nm := filepath.Join(dir, "node_modules")
	require.NoError(t, os.MkdirAll(nm, 0o755))

	saver := &recordingSaver{}
	startWatcher(t, Options{Root: dir, Settle: 50 * time.Millisecond, AutoSave: true, Saver: saver})

	writeFile(t, filepath.Join(nm, "pkg.json"), "{}")
	writeFile(t, filepath.Join(dir, "cache.pyc"), "x")
	kept := filepath.Join(dir, "kept.txt")
	writeFile(t, kept, "x")

	require.Eventually(t, func() bool { return len(saver.paths()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{kept}, saver.paths())
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	saver := &recordingSaver{}
	startWatcher(t, Options{Root: dir, Settle: 50 * time.Millisecond, AutoSave: true, Saver: saver})

	sub := filepath.Join(dir, "pkg", "inner")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	path := filepath.Join(sub, "file.go")
	// The directory watch is added asynchronously; keep touching the file
	// until a save shows up.
	assert.Eventually(t, func() bool {
		writeFile(t, path, "package inner")
		for _, p := range saver.paths() {
			if p == path {
				return true
			}
		}
		return false
	}, 3*time.Second, 100*time.Millisecond)
}

func TestWatcher_AutoSaveDisabledOnlyObserves(t *testing.T) {
	dir := t.TempDir()
	saver := &recordingSaver{}
	w := startWatcher(t, Options{Root: dir, Settle: 50 * time.Millisecond, AutoSave: false, Saver: saver})

	path := filepath.Join(dir, "notes.md")
	writeFile(t, path, "x")

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, seen := w.lastSave[path]
		return seen
	}, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, saver.paths())
}

func TestWatcher_Throttle(t *testing.T) {
	w, err := New(Options{Root: t.TempDir(), SaveDelay: time.Second})
	require.NoError(t, err)
	defer w.fs.Close()

	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }

	w.mu.Lock()
	defer w.mu.Unlock()

	assert.True(t, w.dueLocked("a.go"), "never saved")

	w.lastSave["a.go"] = now.Add(-500 * time.Millisecond)
	assert.False(t, w.dueLocked("a.go"))

	w.lastSave["a.go"] = now.Add(-time.Second)
	assert.False(t, w.dueLocked("a.go"), "exactly at the delay is still throttled")

	w.lastSave["a.go"] = now.Add(-1500 * time.Millisecond)
	assert.True(t, w.dueLocked("a.go"))

	w.opts.SaveDelay = 0
	w.lastSave["a.go"] = now
	assert.True(t, w.dueLocked("a.go"), "zero delay disables the throttle")
}

func TestWatcher_FiredSavesLeaveNoPendingEntries(t *testing.T) {
	dir := t.TempDir()
	saver := &recordingSaver{}
	w, err := New(Options{Root: dir, Settle: time.Nanosecond, AutoSave: true, Saver: saver})
	require.NoError(t, err)
	defer w.fs.Close()

	ctx := context.Background()
	const n = 200
	for i := 0; i < n; i++ {
		w.schedule(ctx, filepath.Join(dir, "f"+strconv.Itoa(i)))
	}
	w.inflight.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.pending)
	assert.Len(t, w.lastSave, n)
	assert.Len(t, saver.paths(), n)
}
