package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/samber/lo"
)

const (
	KeyWatchList    = "kickChannels"
	KeyChannelState = "channelState"
	KeySettings     = "settings"
)

// DefaultWatchList seeds the watch-list on first run.
var DefaultWatchList = []string{"kyootbot", "brotherzac"}

// ErrEmptySlug is returned when a watch-list edit carries no identity.
var ErrEmptySlug = errors.New("store: empty channel slug")

// Store owns the watch-list, the cached channel statuses and the settings.
//
// Watch-list edits are read-modify-write without locking: two concurrent
// editors can lose an update. Edits come from a single user through one
// daemon so this is accepted.
type Store struct {
	kv KV

	mu            sync.RWMutex
	watchHooks    []func()
	settingsHooks []func(Settings)
}

func New(kv KV) *Store {
	return &Store{kv: kv}
}

// OnWatchListChange registers fn to run after every successful watch-list write.
func (s *Store) OnWatchListChange(fn func()) {
	s.mu.Lock()
	s.watchHooks = append(s.watchHooks, fn)
	s.mu.Unlock()
}

// OnSettingsChange registers fn to run after every successful settings write.
func (s *Store) OnSettingsChange(fn func(Settings)) {
	s.mu.Lock()
	s.settingsHooks = append(s.settingsHooks, fn)
	s.mu.Unlock()
}

// WatchList returns the watched slugs in insertion order, seeding the
// defaults when nothing usable is stored.
func (s *Store) WatchList(ctx context.Context) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, ScopeLocal, KeyWatchList)
	if err != nil {
		return nil, err
	}
	if ok {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil && list != nil {
			return list, nil
		}
		slog.Warn("store value corrupt, using defaults", "key", KeyWatchList)
	}

	list := append([]string(nil), DefaultWatchList...)
	if err := s.put(ctx, ScopeLocal, KeyWatchList, list); err != nil {
		return nil, err
	}
	return list, nil
}

// SetWatchList replaces the watch-list.
func (s *Store) SetWatchList(ctx context.Context, list []string) error {
	if list == nil {
		list = []string{}
	}
	if err := s.put(ctx, ScopeLocal, KeyWatchList, list); err != nil {
		return err
	}
	s.mu.RLock()
	hooks := slices.Clone(s.watchHooks)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// AddChannel appends slug unless a case-insensitive match is already
// watched. It reports whether the list changed.
func (s *Store) AddChannel(ctx context.Context, slug string) (bool, []string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return false, nil, ErrEmptySlug
	}
	list, err := s.WatchList(ctx)
	if err != nil {
		return false, nil, err
	}
	if lo.ContainsBy(list, func(v string) bool { return kick.SameSlug(v, slug) }) {
		return false, list, nil
	}
	list = append(list, slug)
	if err := s.SetWatchList(ctx, list); err != nil {
		return false, nil, err
	}
	return true, list, nil
}

// RemoveChannel drops every case-insensitive match of slug. Removing a slug
// that is not watched is a no-op.
func (s *Store) RemoveChannel(ctx context.Context, slug string) (bool, []string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return false, nil, ErrEmptySlug
	}
	list, err := s.WatchList(ctx)
	if err != nil {
		return false, nil, err
	}
	kept := lo.Reject(list, func(v string, _ int) bool { return kick.SameSlug(v, slug) })
	if len(kept) == len(list) {
		return false, list, nil
	}
	if err := s.SetWatchList(ctx, kept); err != nil {
		return false, nil, err
	}
	return true, kept, nil
}

// ChannelState returns the last persisted collection, empty when none.
func (s *Store) ChannelState(ctx context.Context) ([]kick.Channel, error) {
	raw, ok, err := s.kv.Get(ctx, ScopeLocal, KeyChannelState)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []kick.Channel{}, nil
	}
	var chs []kick.Channel
	if err := json.Unmarshal(raw, &chs); err != nil {
		slog.Warn("store value corrupt, using defaults", "key", KeyChannelState, "error", err)
		return []kick.Channel{}, nil
	}
	if chs == nil {
		chs = []kick.Channel{}
	}
	return chs, nil
}

// SetChannelState replaces the cached collection.
func (s *Store) SetChannelState(ctx context.Context, chs []kick.Channel) error {
	if chs == nil {
		chs = []kick.Channel{}
	}
	return s.put(ctx, ScopeLocal, KeyChannelState, chs)
}

// Settings returns the defaults merged with whatever partial record is stored.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	raw, ok, err := s.kv.Get(ctx, ScopeSync, KeySettings)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return DefaultSettings(), nil
	}
	var patch SettingsPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		slog.Warn("store value corrupt, using defaults", "key", KeySettings, "error", err)
		return DefaultSettings(), nil
	}
	return patch.Apply(DefaultSettings()), nil
}

// UpdateSettings merges patch over the current settings and stores the result.
func (s *Store) UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error) {
	cur, err := s.Settings(ctx)
	if err != nil {
		return Settings{}, err
	}
	next := patch.Apply(cur)
	if err := s.put(ctx, ScopeSync, KeySettings, next); err != nil {
		return Settings{}, err
	}
	s.mu.RLock()
	hooks := slices.Clone(s.settingsHooks)
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(next)
	}
	return next, nil
}

func (s *Store) put(ctx context.Context, scope Scope, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.kv.Set(ctx, scope, key, raw)
}
