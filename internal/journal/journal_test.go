package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/samber/lo"
)

func sampleCycle(start time.Time) scheduler.Cycle {
	return scheduler.Cycle{
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Watched:    []string{"alpha", "beta", "gone"},
		Failed:     []string{"gone"},
		Channels: []kick.Channel{
			{Slug: "alpha", DisplayName: "Alpha", IsLive: true, ViewerCount: lo.ToPtr(2500), Title: lo.ToPtr("speedrun")},
			{Slug: "beta", DisplayName: "beta"},
		},
	}
}

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	return out
}

func TestFromCycle(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := FromCycle(sampleCycle(start))
	if got, want := e.DurationMS, int64(1500); got != want {
		t.Fatalf("DurationMS = %d; want %d", got, want)
	}
	if got, want := e.Watched, 3; got != want {
		t.Fatalf("Watched = %d; want %d", got, want)
	}
	if got, want := e.Live, 1; got != want {
		t.Fatalf("Live = %d; want %d", got, want)
	}
	if got, want := e.Channels[0], (Status{Slug: "alpha", Live: true, Viewers: 2500, Title: "speedrun"}); got != want {
		t.Fatalf("Channels[0] = %+v; want %+v", got, want)
	}
}

func TestWriterWritesDatedFiles(t *testing.T) {
	dir := t.TempDir()

	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	w := newWriter(dir, 8, 1, clock)

	w.Observe(sampleCycle(now))
	deadline := time.Now().Add(2 * time.Second)
	first := filepath.Join(dir, "2026-03-01", fileName)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(first); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	w.Observe(sampleCycle(now))

	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := readEntries(t, first); len(got) != 1 {
		t.Fatalf("entries on first day = %d; want 1", len(got))
	}
	second := readEntries(t, filepath.Join(dir, "2026-03-02", fileName))
	if len(second) != 1 {
		t.Fatalf("entries on second day = %d; want 1", len(second))
	}
	if got, want := second[0].Failed, []string{"gone"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("Failed = %v; want %v", got, want)
	}
}

func TestWriteAfterClose(t *testing.T) {
	w := NewWriter(t.TempDir(), 1, 1)
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Write(Entry{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() error = %v; want ErrClosed", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}
