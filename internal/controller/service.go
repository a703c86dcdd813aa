// Package controller implements the daemon's commands on top of the store,
// the scheduler and the tab manager. The HTTP API, the WebSocket transport
// and injected panels all go through it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/dgnsrekt/kwitch/internal/tabs"
)

// Poller is the part of the scheduler the service drives.
type Poller interface {
	TriggerNow(ctx context.Context)
	Reschedule(d time.Duration)
	Interval() time.Duration
	InFlight() int
	LastCycle() (scheduler.Cycle, bool)
}

// Tabs is the part of the tab manager the service drives.
type Tabs interface {
	Activate(ctx context.Context, slug string) error
	ApplySettings(ctx context.Context, s store.Settings)
	Tabs(ctx context.Context) []tabs.Info
}

// TargetCounter reports how many broadcast targets are subscribed.
type TargetCounter interface {
	Targets() int
}

// WatchListResult is the outcome of a watch-list edit.
type WatchListResult struct {
	Changed  bool     `json:"changed"`
	Channels []string `json:"channels"`
}

// CycleSummary describes the last completed poll.
type CycleSummary struct {
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Count      int       `json:"count"`
	Live       int       `json:"live"`
	Failed     []string  `json:"failed"`
}

// Health is the daemon status snapshot.
type Health struct {
	Status          string        `json:"status"`
	Tabs            []tabs.Info   `json:"tabs"`
	Subscribers     int           `json:"subscribers"`
	InFlight        int           `json:"in_flight"`
	IntervalSeconds int           `json:"interval_seconds"`
	LastCycle       *CycleSummary `json:"last_cycle,omitempty"`
}

// Service wraps kwitch operations.
type Service struct {
	store   *store.Store
	poller  Poller
	targets TargetCounter

	mu   sync.RWMutex
	tabs Tabs
}

// NewService wires st change hooks to the poller: watch-list edits trigger
// an immediate cycle and settings edits re-arm the interval.
func NewService(st *store.Store, poller Poller, targets TargetCounter) *Service {
	s := &Service{store: st, poller: poller, targets: targets}
	st.OnWatchListChange(s.watchListChanged)
	st.OnSettingsChange(s.settingsChanged)
	return s
}

// AttachTabs connects the tab manager once it exists. Activation fails
// until this is called.
func (s *Service) AttachTabs(t Tabs) {
	s.mu.Lock()
	s.tabs = t
	s.mu.Unlock()
}

func (s *Service) currentTabs() Tabs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tabs
}

func (s *Service) watchListChanged() {
	slog.Info("controller watch-list changed, refreshing")
	s.poller.TriggerNow(context.Background())
}

func (s *Service) settingsChanged(next store.Settings) {
	s.poller.Reschedule(time.Duration(next.PollingIntervalSeconds) * time.Second)
	if t := s.currentTabs(); t != nil {
		t.ApplySettings(context.Background(), next)
	}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return &CodedError{Code: CodeValidation, Message: fieldName + " is required"}
	}
	return nil
}

// Channels returns the cached collection.
func (s *Service) Channels(ctx context.Context) ([]kick.Channel, error) {
	chs, err := s.store.ChannelState(ctx)
	if err != nil {
		return nil, newError(CodeStoreFailure, "read channel state", err)
	}
	return chs, nil
}

func (s *Service) WatchList(ctx context.Context) ([]string, error) {
	list, err := s.store.WatchList(ctx)
	if err != nil {
		return nil, newError(CodeStoreFailure, "read watch-list", err)
	}
	return list, nil
}

func (s *Service) AddChannel(ctx context.Context, slug string) (WatchListResult, error) {
	if err := s.requireNonEmpty(slug, "slug"); err != nil {
		return WatchListResult{}, err
	}
	changed, list, err := s.store.AddChannel(ctx, slug)
	if err != nil {
		return WatchListResult{}, newError(CodeStoreFailure, "add channel", err)
	}
	slog.Info("controller channel add", "slug", strings.TrimSpace(slug), "changed", changed, "count", len(list))
	return WatchListResult{Changed: changed, Channels: list}, nil
}

func (s *Service) RemoveChannel(ctx context.Context, slug string) (WatchListResult, error) {
	if err := s.requireNonEmpty(slug, "slug"); err != nil {
		return WatchListResult{}, err
	}
	changed, list, err := s.store.RemoveChannel(ctx, slug)
	if err != nil {
		return WatchListResult{}, newError(CodeStoreFailure, "remove channel", err)
	}
	slog.Info("controller channel remove", "slug", strings.TrimSpace(slug), "changed", changed, "count", len(list))
	return WatchListResult{Changed: changed, Channels: list}, nil
}

// Refresh starts a cycle now. It does not wait for the cycle to finish.
func (s *Service) Refresh(ctx context.Context) {
	slog.Info("controller refresh requested")
	s.poller.TriggerNow(ctx)
}

func (s *Service) Settings(ctx context.Context) (store.Settings, error) {
	cur, err := s.store.Settings(ctx)
	if err != nil {
		return store.Settings{}, newError(CodeStoreFailure, "read settings", err)
	}
	return cur, nil
}

// UpdateSettings validates and merges patch over the stored settings.
func (s *Service) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (store.Settings, error) {
	if patch.PollingIntervalSeconds != nil && *patch.PollingIntervalSeconds <= 0 {
		return store.Settings{}, &CodedError{Code: CodeValidation, Message: "pollingIntervalSeconds must be positive"}
	}
	if patch.PanelPosition != nil && !store.ValidPosition(*patch.PanelPosition) {
		return store.Settings{}, &CodedError{Code: CodeValidation, Message: fmt.Sprintf("panelPosition %q is not one of %s, %s, %s, %s",
			*patch.PanelPosition, store.PositionAboveFollowed, store.PositionBelowFollowed, store.PositionBelowLive, store.PositionBelowRecommended)}
	}
	next, err := s.store.UpdateSettings(ctx, patch)
	if err != nil {
		return store.Settings{}, newError(CodeStoreFailure, "write settings", err)
	}
	slog.Info("controller settings updated",
		"polling_interval_seconds", next.PollingIntervalSeconds,
		"embed", next.EmbedEnabled,
		"popout", next.PopoutEnabled,
		"show_offline", next.ShowOfflineChannels,
		"position", next.PanelPosition,
	)
	return next, nil
}

// Watch opens slug in the browser according to the activation settings.
func (s *Service) Watch(ctx context.Context, slug string) error {
	if err := s.requireNonEmpty(slug, "slug"); err != nil {
		return err
	}
	t := s.currentTabs()
	if t == nil {
		return &CodedError{Code: CodeCDPUnavailable, Message: "browser integration is disabled"}
	}
	err := t.Activate(ctx, strings.TrimSpace(slug))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tabs.ErrActivationDisabled):
		return newError(CodeActivationDisabled, "embed and popout are both disabled", err)
	default:
		return newError(CodeCDPUnavailable, "open channel", err)
	}
}

func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:          "ok",
		Tabs:            []tabs.Info{},
		InFlight:        s.poller.InFlight(),
		IntervalSeconds: int(s.poller.Interval() / time.Second),
	}
	if s.targets != nil {
		h.Subscribers = s.targets.Targets()
	}
	if t := s.currentTabs(); t != nil {
		h.Tabs = t.Tabs(ctx)
	}
	if c, ok := s.poller.LastCycle(); ok {
		h.LastCycle = &CycleSummary{
			StartedAt:  c.StartedAt,
			DurationMS: c.FinishedAt.Sub(c.StartedAt).Milliseconds(),
			Count:      len(c.Channels),
			Live:       kick.LiveCount(c.Channels),
			Failed:     c.Failed,
		}
	}
	return h
}

// HandleCommand executes a command envelope from a WebSocket client.
// GET_CHANNELS is answered with GET_CHANNELS_RESPONSE.
func (s *Service) HandleCommand(ctx context.Context, env message.Envelope) (*message.Envelope, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	switch env.Type {
	case message.TypeGetChannels:
		chs, err := s.Channels(ctx)
		if err != nil {
			return nil, err
		}
		reply := message.GetChannelsResponse(chs)
		return &reply, nil
	case message.TypeForceRefresh:
		s.Refresh(ctx)
		return nil, nil
	case message.TypeWatchChannel:
		return nil, s.Watch(ctx, env.Slug)
	}
	return nil, fmt.Errorf("controller: %s is not a command: %w", env.Type, message.ErrUnknownType)
}

// Sink accepts commands raised by injected panels.
func (s *Service) Sink(ctx context.Context, env message.Envelope) error {
	_, err := s.HandleCommand(ctx, env)
	return err
}
