package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu      sync.Mutex
	changed []string
	removed []string
}

func (r *recorder) Changed(_ context.Context, path string) {
	r.mu.Lock()
	r.changed = append(r.changed, path)
	r.mu.Unlock()
}

func (r *recorder) Removed(path string) {
	r.mu.Lock()
	r.removed = append(r.removed, path)
	r.mu.Unlock()
}

func (r *recorder) snapshot() (changed, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changed...), append([]string(nil), r.removed...)
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, root string, exts []string, rec *recorder) *Watcher {
	t.Helper()
	w := New([]string{root}, exts, true, rec, WithDebounce(50*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_debouncesWrites(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, []string{".txt"}, rec)

	path := filepath.Join(dir, "guide.txt")
	for i := 0; i < 3; i++ {
		writeFile(t, path, strings.Repeat("x", i+1))
	}
	writeFile(t, filepath.Join(dir, "skip.bin"), "x")

	if !waitFor(t, func() bool { c, _ := rec.snapshot(); return len(c) > 0 }) {
		t.Fatal("no change reported")
	}
	time.Sleep(150 * time.Millisecond)
	changed, _ := rec.snapshot()
	if len(changed) != 1 || changed[0] != path {
		t.Errorf("changed = %v, want one event for %s", changed, path)
	}
}

func TestWatcher_reportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guide.md")
	writeFile(t, path, "hello")
	rec := &recorder{}
	startWatcher(t, dir, []string{".md"}, rec)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { _, r := rec.snapshot(); return len(r) == 1 }) {
		t.Fatal("removal not reported")
	}
	_, removed := rec.snapshot()
	if removed[0] != path {
		t.Errorf("removed = %v", removed)
	}
}

func TestWatcher_newDirectory(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, []string{".txt"}, rec)

	nested := filepath.Join(dir, "level1", "level2")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(nested, "deep.txt"), "deep")

	found := waitFor(t, func() bool {
		c, _ := rec.snapshot()
		for _, p := range c {
			if strings.HasSuffix(p, "deep.txt") {
				return true
			}
		}
		return false
	})
	if !found {
		c, _ := rec.snapshot()
		t.Errorf("deep.txt not reported, got %v", c)
	}
}

func TestWatcher_startCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "docs", "ref")
	w := New([]string{root}, nil, true, &recorder{})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("root not created: %v", err)
	}
}

func TestWatcher_sync(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "a.txt"), "a")
	writeFile(t, filepath.Join(sub, "b.csv"), "h\n1")
	writeFile(t, filepath.Join(root, "c.xyz"), "c")

	tests := []struct {
		name      string
		recursive bool
		want      []string
	}{
		{"recursive", true, []string{"a.txt", "b.csv"}},
		{"flat", false, []string{"a.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			New([]string{root}, []string{".txt", ".csv"}, tt.recursive, rec).Sync(context.Background())
			changed, _ := rec.snapshot()
			got := make([]string, len(changed))
			for i, p := range changed {
				got[i] = filepath.Base(p)
			}
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("Sync reported %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcher_stopIsIdempotent(t *testing.T) {
	w := New([]string{t.TempDir()}, nil, false, &recorder{})
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.PDF", []string{"pdf"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
	}
	for _, tt := range tests {
		if got := matchExtension(tt.path, tt.extensions); got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir, path string
		want      bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/ab", false},
	}
	for _, tt := range tests {
		if got := inDir(tt.dir, tt.path); got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
