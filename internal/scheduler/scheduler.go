package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/kwitch/internal/broadcast"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/samber/lo"
)

// MinInterval is the shortest poll period; shorter requests are raised to it.
const MinInterval = time.Minute

const DefaultRequestDelay = 200 * time.Millisecond

var ErrAlreadyStarted = errors.New("scheduler: already started")

// Source fetches channel status in one sequential batch.
type Source interface {
	FetchBatch(ctx context.Context, slugs []string, delay time.Duration) kick.BatchResult
}

// Store is the persistence the scheduler reads from and writes to.
type Store interface {
	WatchList(ctx context.Context) ([]string, error)
	ChannelState(ctx context.Context) ([]kick.Channel, error)
	SetChannelState(ctx context.Context, chs []kick.Channel) error
}

// Cycle describes one completed poll.
type Cycle struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Watched    []string
	Channels   []kick.Channel
	Failed     []string
}

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = floorInterval(d) }
}

// WithRequestDelay sets the pause between consecutive fetches in a batch.
func WithRequestDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.delay = d }
}

// WithRetainStale keeps the last cached entry of a watched channel whose
// fetch failed with a transport error, instead of dropping it for the cycle.
func WithRetainStale(on bool) Option {
	return func(s *Scheduler) { s.retainStale = on }
}

// WithObserver registers fn to receive every completed cycle.
func WithObserver(fn func(Cycle)) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, fn) }
}

// Scheduler owns the poll loop: fetch, sort, persist, broadcast.
type Scheduler struct {
	src   Source
	store Store
	pub   broadcast.Publisher

	clock       Clock
	delay       time.Duration
	retainStale bool
	observers   []func(Cycle)

	mu       sync.Mutex
	interval time.Duration
	ticker   Ticker
	cancel   context.CancelFunc
	loopDone chan struct{}
	stopped  bool
	cycles   sync.WaitGroup

	inFlight  atomic.Int64
	lastCycle atomic.Pointer[Cycle]
}

func New(src Source, st Store, pub broadcast.Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		src:      src,
		store:    st,
		pub:      pub,
		clock:    realClock{},
		delay:    DefaultRequestDelay,
		interval: MinInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func floorInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

// Interval returns the current poll period.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start runs one cycle immediately and then one per interval until ctx is
// done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.stopped = false
	s.ticker = s.clock.NewTicker(s.interval)
	s.loopDone = make(chan struct{})
	ticker, done := s.ticker, s.loopDone
	s.mu.Unlock()

	slog.Info("scheduler started", "interval", s.Interval(), "request_delay", s.delay)
	s.launch(loopCtx)

	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C():
				s.launch(loopCtx)
			}
		}
	}()
	return nil
}

// Stop ends the loop and waits for in-flight cycles to finish. In-flight
// cycles are never cancelled, and no new cycle starts once Stop is called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, ticker, done := s.cancel, s.ticker, s.loopDone
	s.cancel, s.ticker, s.loopDone = nil, nil, nil
	s.stopped = true
	s.mu.Unlock()
	if cancel != nil {
		ticker.Stop()
		cancel()
		<-done
	}
	s.cycles.Wait()
	if cancel != nil {
		slog.Info("scheduler stopped")
	}
}

// TriggerNow starts a cycle without waiting for the next tick.
func (s *Scheduler) TriggerNow(ctx context.Context) {
	s.launch(ctx)
}

// Reschedule changes the poll period, applying the floor.
func (s *Scheduler) Reschedule(d time.Duration) {
	d = floorInterval(d)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return
	}
	s.interval = d
	if s.ticker != nil {
		s.ticker.Reset(d)
	}
	slog.Info("scheduler rescheduled", "interval", d)
}

// InFlight returns the number of cycles currently running.
func (s *Scheduler) InFlight() int {
	return int(s.inFlight.Load())
}

// LastCycle returns the most recently completed cycle.
func (s *Scheduler) LastCycle() (Cycle, bool) {
	c := s.lastCycle.Load()
	if c == nil {
		return Cycle{}, false
	}
	return *c, true
}

func (s *Scheduler) launch(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		slog.Debug("scheduler stopped, cycle not started")
		return
	}
	s.cycles.Add(1)
	s.mu.Unlock()

	cycleCtx := context.WithoutCancel(ctx)
	go func() {
		defer s.cycles.Done()
		if _, err := s.RunCycle(cycleCtx); err != nil {
			slog.Error("scheduler cycle failed", "error", err)
		}
	}()
}

// RunCycle performs one poll synchronously and returns the persisted
// collection. Overlapping cycles run independently and the last one to
// persist wins.
func (s *Scheduler) RunCycle(ctx context.Context) ([]kick.Channel, error) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	started := s.clock.Now()
	slugs, err := s.store.WatchList(ctx)
	if err != nil {
		return nil, err
	}

	var res kick.BatchResult
	if len(slugs) == 0 {
		slog.Info("scheduler no channels to poll")
		res.Channels = []kick.Channel{}
	} else {
		res = s.src.FetchBatch(ctx, slugs, s.delay)
		if s.retainStale && len(res.Failed) > 0 {
			res.Channels = append(res.Channels, s.staleEntries(ctx, res.Failed)...)
		}
	}

	chs := kick.UniqueBySlug(kick.SortChannels(res.Channels))
	if err := s.store.SetChannelState(ctx, chs); err != nil {
		return nil, err
	}
	s.pub.Publish(message.ChannelsUpdated(chs))

	cycle := Cycle{
		StartedAt:  started,
		FinishedAt: s.clock.Now(),
		Watched:    slugs,
		Channels:   chs,
		Failed:     res.Failed,
	}
	s.lastCycle.Store(&cycle)
	for _, fn := range s.observers {
		fn(cycle)
	}

	slog.Info("scheduler cycle complete", "count", len(chs), "live", kick.LiveCount(chs), "failed", len(res.Failed))
	return chs, nil
}

func (s *Scheduler) staleEntries(ctx context.Context, failed []string) []kick.Channel {
	prev, err := s.store.ChannelState(ctx)
	if err != nil {
		slog.Warn("scheduler stale lookup failed", "error", err)
		return nil
	}
	return lo.Filter(prev, func(c kick.Channel, _ int) bool {
		return lo.ContainsBy(failed, func(slug string) bool { return kick.SameSlug(slug, c.Slug) })
	})
}
