package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/samber/lo"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(d time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = &fakeTicker{ch: make(chan time.Time, 1), period: d}
	return c.ticker
}

func (c *fakeClock) tick() {
	c.mu.Lock()
	t := c.ticker
	c.now = c.now.Add(t.Period())
	now := c.now
	c.mu.Unlock()
	t.ch <- now
}

type fakeTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	period  time.Duration
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Reset(d time.Duration) {
	t.mu.Lock()
	t.period = d
	t.mu.Unlock()
}

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *fakeTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *fakeTicker) Period() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.period
}

type fakeSource struct {
	mu       sync.Mutex
	statuses map[string]kick.Channel
	failing  map[string]bool
	batches  [][]string
}

func (f *fakeSource) FetchBatch(_ context.Context, slugs []string, _ time.Duration) kick.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, slugs)
	var res kick.BatchResult
	for _, slug := range slugs {
		if f.failing[slug] {
			res.Failed = append(res.Failed, slug)
			continue
		}
		if ch, ok := f.statuses[slug]; ok {
			res.Channels = append(res.Channels, ch)
		}
	}
	return res
}

func (f *fakeSource) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type capturePublisher struct {
	mu  sync.Mutex
	got []message.Envelope
	ch  chan message.Envelope
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan message.Envelope, 16)}
}

func (p *capturePublisher) Publish(env message.Envelope) {
	p.mu.Lock()
	p.got = append(p.got, env)
	p.mu.Unlock()
	p.ch <- env
}

func (p *capturePublisher) wait(t *testing.T) message.Envelope {
	t.Helper()
	select {
	case env := <-p.ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
		return message.Envelope{}
	}
}

func slugsOf(chs []kick.Channel) string {
	return strings.Join(lo.Map(chs, func(c kick.Channel, _ int) string { return c.Slug }), ",")
}

func TestRunCycleSortsDedupesPersistsAndPublishes(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	if err := st.SetWatchList(ctx, []string{"alpha", "beta"}); err != nil {
		t.Fatalf("SetWatchList() error = %v", err)
	}
	src := &fakeSource{statuses: map[string]kick.Channel{
		"alpha": {Slug: "alpha", DisplayName: "alpha", IsLive: true, ViewerCount: lo.ToPtr(2500)},
		"beta":  {Slug: "beta", DisplayName: "beta"},
	}}
	pub := newCapturePublisher()
	s := New(src, st, pub, WithClock(newFakeClock()))

	chs, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got, want := slugsOf(chs), "alpha,beta"; got != want {
		t.Fatalf("order = %q; want %q", got, want)
	}

	persisted, _ := st.ChannelState(ctx)
	if got, want := slugsOf(persisted), "alpha,beta"; got != want {
		t.Fatalf("persisted = %q; want %q", got, want)
	}
	env := pub.wait(t)
	if env.Type != message.TypeChannelsUpdated || slugsOf(env.Channels) != "alpha,beta" {
		t.Fatalf("published %+v", env)
	}
	if _, ok := s.LastCycle(); !ok {
		t.Fatal("LastCycle() missing after a cycle")
	}
}

func TestRunCycleDropsDuplicateSlugs(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_ = st.SetWatchList(ctx, []string{"Zed", "zed", "amy"})
	src := &fakeSource{statuses: map[string]kick.Channel{
		"Zed": {Slug: "Zed", DisplayName: "Zed", IsLive: true},
		"zed": {Slug: "zed", DisplayName: "zed"},
		"amy": {Slug: "amy", DisplayName: "amy"},
	}}
	s := New(src, st, newCapturePublisher())

	chs, err := s.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got, want := slugsOf(chs), "Zed,amy"; got != want {
		t.Fatalf("channels = %q; want %q", got, want)
	}
}

func TestRunCycleEmptyWatchList(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_ = st.SetChannelState(ctx, []kick.Channel{{Slug: "old"}})
	_ = st.SetWatchList(ctx, []string{})
	src := &fakeSource{}
	pub := newCapturePublisher()

	chs, err := New(src, st, pub).RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if len(chs) != 0 {
		t.Fatalf("channels = %v; want empty", chs)
	}
	if src.batchCount() != 0 {
		t.Fatal("empty watch-list still fetched")
	}
	persisted, _ := st.ChannelState(ctx)
	if len(persisted) != 0 {
		t.Fatalf("persisted = %v; want empty", persisted)
	}
	if env := pub.wait(t); env.Type != message.TypeChannelsUpdated || len(env.Channels) != 0 {
		t.Fatalf("published %+v; want empty CHANNELS_UPDATED", env)
	}
}

func TestRunCycleRetainStale(t *testing.T) {
	ctx := context.Background()
	newStore := func() *store.Store {
		st := store.New(store.NewMemory())
		_ = st.SetWatchList(ctx, []string{"alpha", "beta"})
		_ = st.SetChannelState(ctx, []kick.Channel{{Slug: "beta", DisplayName: "beta", IsLive: true}})
		return st
	}
	src := &fakeSource{
		statuses: map[string]kick.Channel{"alpha": {Slug: "alpha", DisplayName: "alpha"}},
		failing:  map[string]bool{"beta": true},
	}

	chs, err := New(src, newStore(), newCapturePublisher()).RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got, want := slugsOf(chs), "alpha"; got != want {
		t.Fatalf("default drops failed channel: got %q; want %q", got, want)
	}

	chs, err = New(src, newStore(), newCapturePublisher(), WithRetainStale(true)).RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if got, want := slugsOf(chs), "beta,alpha"; got != want {
		t.Fatalf("retained = %q; want %q", got, want)
	}
}

func TestIntervalFloor(t *testing.T) {
	s := New(&fakeSource{}, store.New(store.NewMemory()), newCapturePublisher(), WithInterval(10*time.Second))
	if got, want := s.Interval(), MinInterval; got != want {
		t.Fatalf("Interval() = %v; want %v", got, want)
	}
	s.Reschedule(5 * time.Minute)
	if got, want := s.Interval(), 5*time.Minute; got != want {
		t.Fatalf("Interval() = %v; want %v", got, want)
	}
	s.Reschedule(time.Second)
	if got, want := s.Interval(), MinInterval; got != want {
		t.Fatalf("Interval() = %v; want %v", got, want)
	}
}

func TestStartRunsImmediatelyAndOnTick(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_ = st.SetWatchList(ctx, []string{"alpha"})
	src := &fakeSource{statuses: map[string]kick.Channel{"alpha": {Slug: "alpha", DisplayName: "alpha"}}}
	pub := newCapturePublisher()
	clock := newFakeClock()
	s := New(src, st, pub, WithClock(clock), WithInterval(2*time.Minute))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err != ErrAlreadyStarted {
		t.Fatalf("second Start() error = %v; want ErrAlreadyStarted", err)
	}
	pub.wait(t)

	clock.tick()
	pub.wait(t)

	s.Reschedule(3 * time.Minute)
	if got, want := clock.ticker.Period(), 3*time.Minute; got != want {
		t.Fatalf("ticker period = %v; want %v", got, want)
	}

	s.TriggerNow(ctx)
	pub.wait(t)

	s.Stop()
	if !clock.ticker.isStopped() {
		t.Fatal("ticker not stopped")
	}
	if got, want := src.batchCount(), 3; got != want {
		t.Fatalf("batches = %d; want %d", got, want)
	}
	if got := s.InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d after Stop; want 0", got)
	}
}

func TestWatchListChangeTriggersCycle(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_ = st.SetWatchList(ctx, []string{})
	src := &fakeSource{statuses: map[string]kick.Channel{"new": {Slug: "new", DisplayName: "new"}}}
	pub := newCapturePublisher()
	s := New(src, st, pub)
	st.OnWatchListChange(func() { s.TriggerNow(ctx) })

	if _, _, err := st.AddChannel(ctx, "new"); err != nil {
		t.Fatalf("AddChannel() error = %v", err)
	}
	env := pub.wait(t)
	if got, want := slugsOf(env.Channels), "new"; got != want {
		t.Fatalf("published %q; want %q", got, want)
	}
}

func TestTriggerNowAfterStopIsIgnored(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemory())
	_ = st.SetWatchList(ctx, []string{"alpha"})
	src := &fakeSource{statuses: map[string]kick.Channel{"alpha": {Slug: "alpha", DisplayName: "alpha"}}}
	pub := newCapturePublisher()
	clock := newFakeClock()
	s := New(src, st, pub, WithClock(clock))

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pub.wait(t)
	s.Stop()

	s.TriggerNow(ctx)
	s.Stop()
	if got, want := src.batchCount(), 1; got != want {
		t.Fatalf("batches = %d; want %d", got, want)
	}
	if got := s.InFlight(); got != 0 {
		t.Fatalf("InFlight() = %d; want 0", got)
	}
}
