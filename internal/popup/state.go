package popup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/samber/lo"
)

// RefreshDelay is how long Refresh waits for the forced cycle before pulling.
const RefreshDelay = 2 * time.Second

const (
	StatusAlreadyAdded = "Already added!"
	StatusAdding       = "Adding..."
	StatusAdded        = "Added! Refreshing..."
	StatusRemoving     = "Removing..."
	StatusRemoved      = "Removed"
	StatusRefreshing   = "Refreshing..."
)

// API is the daemon surface the popup needs.
type API interface {
	Channels(ctx context.Context) ([]kick.Channel, error)
	WatchList(ctx context.Context) ([]string, error)
	AddChannel(ctx context.Context, slug string) (controller.WatchListResult, error)
	RemoveChannel(ctx context.Context, slug string) (controller.WatchListResult, error)
	Refresh(ctx context.Context) error
	Watch(ctx context.Context, slug string) error
}

// State is what the popup shows: the channel collection and a status line.
// It is safe for use from the UI loop and the stream goroutine at once.
type State struct {
	api          API
	refreshDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	channels []kick.Channel
	status   string
}

func NewState(api API) *State {
	return &State{api: api, refreshDelay: RefreshDelay, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Normalize turns user input into a slug: trimmed, lowercased and without a
// leading "@".
func Normalize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	return strings.TrimPrefix(s, "@")
}

// LiveSummary is the status line shown when nothing else is going on.
func LiveSummary(chs []kick.Channel) string {
	return fmt.Sprintf("%d live", kick.LiveCount(chs))
}

// LiveText describes one channel's state.
func LiveText(c kick.Channel) string {
	if !c.IsLive {
		return "Offline"
	}
	return "🔴 " + kick.FormatViewers(c.Viewers()) + " watching"
}

// Snapshot returns a copy of the channels and the status line.
func (s *State) Snapshot() ([]kick.Channel, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]kick.Channel(nil), s.channels...), s.status
}

func (s *State) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *State) replace(chs []kick.Channel) {
	s.mu.Lock()
	s.channels = append([]kick.Channel(nil), chs...)
	s.status = LiveSummary(s.channels)
	s.mu.Unlock()
}

// Load pulls the cached collection. When the daemon has not completed a
// cycle yet, the watch-list is shown as offline placeholders.
func (s *State) Load(ctx context.Context) error {
	chs, err := s.api.Channels(ctx)
	if err != nil {
		return err
	}
	if len(chs) == 0 {
		slugs, err := s.api.WatchList(ctx)
		if err != nil {
			return err
		}
		chs = lo.Map(slugs, func(slug string, _ int) kick.Channel { return kick.Placeholder(slug) })
	}
	s.replace(chs)
	return nil
}

// Apply takes a pushed envelope. It reports whether the channels changed.
func (s *State) Apply(env message.Envelope) bool {
	if !env.Type.CarriesChannels() {
		return false
	}
	s.replace(env.Channels)
	return true
}

// Add normalizes input and adds it to the watch-list. The daemon polls on
// every watch-list change, so no separate refresh is sent.
func (s *State) Add(ctx context.Context, input string) error {
	slug := Normalize(input)
	if slug == "" {
		return nil
	}
	s.mu.Lock()
	dup := lo.ContainsBy(s.channels, func(c kick.Channel) bool { return kick.SameSlug(c.Slug, slug) })
	s.mu.Unlock()
	if dup {
		s.setStatus(StatusAlreadyAdded)
		return nil
	}

	s.setStatus(StatusAdding)
	res, err := s.api.AddChannel(ctx, slug)
	if err != nil {
		s.setStatus("Add failed")
		return err
	}
	if !res.Changed {
		s.setStatus(StatusAlreadyAdded)
		return nil
	}

	s.mu.Lock()
	s.channels = append(s.channels, kick.Placeholder(slug))
	s.status = StatusAdded
	s.mu.Unlock()
	return nil
}

func (s *State) Remove(ctx context.Context, slug string) error {
	s.setStatus(StatusRemoving)
	if _, err := s.api.RemoveChannel(ctx, slug); err != nil {
		s.setStatus("Remove failed")
		return err
	}
	s.mu.Lock()
	s.channels = lo.Reject(s.channels, func(c kick.Channel, _ int) bool { return kick.SameSlug(c.Slug, slug) })
	s.status = StatusRemoved
	s.mu.Unlock()
	return nil
}

// Refresh forces a cycle, waits RefreshDelay and pulls the result.
func (s *State) Refresh(ctx context.Context) error {
	s.setStatus(StatusRefreshing)
	if err := s.api.Refresh(ctx); err != nil {
		s.setStatus("Refresh failed")
		return err
	}
	if err := s.sleep(ctx, s.refreshDelay); err != nil {
		return err
	}
	chs, err := s.api.Channels(ctx)
	if err != nil {
		s.setStatus("Refresh failed")
		return err
	}
	s.replace(chs)
	return nil
}

func (s *State) Watch(ctx context.Context, slug string) error {
	return s.api.Watch(ctx, slug)
}
