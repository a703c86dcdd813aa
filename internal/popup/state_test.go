package popup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/samber/lo"
)

type fakeAPI struct {
	channels  []kick.Channel
	watchList []string
	added     []string
	removed   []string
	refreshes int
	addErr    error
	unchanged bool
}

func (f *fakeAPI) Channels(context.Context) ([]kick.Channel, error) { return f.channels, nil }
func (f *fakeAPI) WatchList(context.Context) ([]string, error)      { return f.watchList, nil }

func (f *fakeAPI) AddChannel(_ context.Context, slug string) (controller.WatchListResult, error) {
	if f.addErr != nil {
		return controller.WatchListResult{}, f.addErr
	}
	f.added = append(f.added, slug)
	return controller.WatchListResult{Changed: !f.unchanged}, nil
}

func (f *fakeAPI) RemoveChannel(_ context.Context, slug string) (controller.WatchListResult, error) {
	f.removed = append(f.removed, slug)
	return controller.WatchListResult{Changed: true}, nil
}

func (f *fakeAPI) Refresh(context.Context) error {
	f.refreshes++
	return nil
}

func (f *fakeAPI) Watch(context.Context, string) error { return nil }

func TestNormalize(t *testing.T) {
	for _, tc := range []struct{ in, want string }{
		{"  @KyootBot ", "kyootbot"},
		{"alpha", "alpha"},
		{"@", ""},
		{"   ", ""},
		{"a@b", "a@b"},
	} {
		if got := Normalize(tc.in); got != tc.want {
			t.Fatalf("Normalize(%q) = %q; want %q", tc.in, got, tc.want)
		}
	}
}

func TestLiveText(t *testing.T) {
	if got, want := LiveText(kick.Channel{IsLive: true, ViewerCount: lo.ToPtr(2500)}), "🔴 2.5K watching"; got != want {
		t.Fatalf("LiveText(live) = %q; want %q", got, want)
	}
	if got, want := LiveText(kick.Channel{IsLive: true}), "🔴 0 watching"; got != want {
		t.Fatalf("LiveText(live, no count) = %q; want %q", got, want)
	}
	if got, want := LiveText(kick.Channel{}), "Offline"; got != want {
		t.Fatalf("LiveText(offline) = %q; want %q", got, want)
	}
}

func TestLoadFallsBackToPlaceholders(t *testing.T) {
	api := &fakeAPI{watchList: []string{"alpha", "beta"}}
	s := NewState(api)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	chs, status := s.Snapshot()
	if len(chs) != 2 || chs[0].Slug != "alpha" || chs[0].IsLive {
		t.Fatalf("channels = %+v", chs)
	}
	if got, want := status, "0 live"; got != want {
		t.Fatalf("status = %q; want %q", got, want)
	}
}

func TestLoadUsesCachedState(t *testing.T) {
	api := &fakeAPI{
		channels:  []kick.Channel{{Slug: "alpha", IsLive: true}, {Slug: "beta"}},
		watchList: []string{"ignored"},
	}
	s := NewState(api)
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	chs, status := s.Snapshot()
	if len(chs) != 2 || status != "1 live" {
		t.Fatalf("Snapshot() = %+v, %q", chs, status)
	}
}

func TestAdd(t *testing.T) {
	api := &fakeAPI{channels: []kick.Channel{{Slug: "alpha", DisplayName: "alpha"}}}
	s := NewState(api)
	ctx := context.Background()
	if err := s.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if err := s.Add(ctx, " @ALPHA"); err != nil {
		t.Fatalf("Add(dup) error = %v", err)
	}
	if _, status := s.Snapshot(); status != StatusAlreadyAdded {
		t.Fatalf("status = %q; want %q", status, StatusAlreadyAdded)
	}
	if len(api.added) != 0 {
		t.Fatalf("duplicate reached the daemon: %v", api.added)
	}

	if err := s.Add(ctx, "@Gamma"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	chs, status := s.Snapshot()
	if status != StatusAdded {
		t.Fatalf("status = %q; want %q", status, StatusAdded)
	}
	if got := chs[len(chs)-1]; got.Slug != "gamma" || got.IsLive {
		t.Fatalf("placeholder = %+v", got)
	}
	if got, want := api.added, []string{"gamma"}; len(got) != 1 || got[0] != want[0] {
		t.Fatalf("added = %v; want %v", got, want)
	}

	if err := s.Add(ctx, "   "); err != nil || len(api.added) != 1 {
		t.Fatalf("blank Add() = %v, added %v", err, api.added)
	}

	api.unchanged = true
	if err := s.Add(ctx, "delta"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, status := s.Snapshot(); status != StatusAlreadyAdded {
		t.Fatalf("status = %q; want %q when the daemon already had it", status, StatusAlreadyAdded)
	}

	api.addErr = errors.New("down")
	if err := s.Add(ctx, "epsilon"); err == nil {
		t.Fatal("Add() = nil; want daemon error")
	}
}

func TestRemove(t *testing.T) {
	api := &fakeAPI{channels: []kick.Channel{{Slug: "Alpha"}, {Slug: "beta"}}}
	s := NewState(api)
	ctx := context.Background()
	_ = s.Load(ctx)

	if err := s.Remove(ctx, "alpha"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	chs, status := s.Snapshot()
	if len(chs) != 1 || chs[0].Slug != "beta" || status != StatusRemoved {
		t.Fatalf("Snapshot() = %+v, %q", chs, status)
	}
}

func TestRefreshWaitsThenPulls(t *testing.T) {
	api := &fakeAPI{}
	s := NewState(api)
	var slept time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = d
		if _, status := s.Snapshot(); status != StatusRefreshing {
			t.Errorf("status while waiting = %q; want %q", status, StatusRefreshing)
		}
		api.channels = []kick.Channel{{Slug: "alpha", IsLive: true}}
		return nil
	}

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if api.refreshes != 1 {
		t.Fatalf("refreshes = %d; want 1", api.refreshes)
	}
	if slept != RefreshDelay {
		t.Fatalf("slept %v; want %v", slept, RefreshDelay)
	}
	if chs, status := s.Snapshot(); len(chs) != 1 || status != "1 live" {
		t.Fatalf("Snapshot() = %+v, %q", chs, status)
	}
}

func TestApply(t *testing.T) {
	s := NewState(&fakeAPI{})
	if s.Apply(message.ForceRefresh()) {
		t.Fatal("Apply(FORCE_REFRESH) = true")
	}
	if !s.Apply(message.ChannelsUpdated([]kick.Channel{{Slug: "a", IsLive: true}, {Slug: "b", IsLive: true}})) {
		t.Fatal("Apply(CHANNELS_UPDATED) = false")
	}
	if _, status := s.Snapshot(); status != "2 live" {
		t.Fatalf("status = %q; want %q", status, "2 live")
	}
}
