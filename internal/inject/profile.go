package inject

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/kwitch/internal/dom"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// AnchorRule is one anchor discovery strategy in a profile.
// By is one of label, class, attribute or selector.
type AnchorRule struct {
	By    string `yaml:"by"`
	Name  string `yaml:"name,omitempty"`
	Value string `yaml:"value"`
}

// PlacementRule inserts relative to the first element matching Selector.
type PlacementRule struct {
	Selector  string        `yaml:"selector"`
	Placement dom.Placement `yaml:"placement"`
}

// Profile is a versioned selector table for one revision of the host page.
type Profile struct {
	Version   int                        `yaml:"version"`
	NavRoot   string                     `yaml:"nav_root"`
	Anchors   []AnchorRule               `yaml:"anchors"`
	Positions map[string][]PlacementRule `yaml:"positions"`
}

// DefaultProfile matches the host navigation as of the current layout.
func DefaultProfile() Profile {
	return Profile{
		Version: 1,
		NavRoot: ".side-nav",
		Anchors: []AnchorRule{
			{By: "label", Value: "Followed Channels"},
			{By: "class", Value: "side-nav-section"},
			{By: "attribute", Name: "data-a-target", Value: "side-nav-header-expanded"},
			{By: "selector", Value: ".side-nav"},
		},
		Positions: map[string][]PlacementRule{
			store.PositionAboveFollowed: {
				{Selector: `[aria-label="Followed Channels"]`, Placement: dom.Before},
				{Selector: ".side-nav-section", Placement: dom.Before},
			},
			store.PositionBelowFollowed: {
				{Selector: `[aria-label="Followed Channels"]`, Placement: dom.After},
				{Selector: ".side-nav-section", Placement: dom.After},
			},
			store.PositionBelowLive: {
				{Selector: `[aria-label="Live Channels"]`, Placement: dom.After},
				{Selector: `[aria-label="Recommended Channels"]`, Placement: dom.Before},
			},
			store.PositionBelowRecommended: {
				{Selector: `[aria-label="Recommended Channels"]`, Placement: dom.After},
				{Selector: `[aria-label="Viewers Also Watch"]`, Placement: dom.Before},
			},
		},
	}
}

// Validate rejects profiles the engine cannot use.
func (p Profile) Validate() error {
	if p.NavRoot == "" {
		return fmt.Errorf("inject: profile v%d: nav_root is empty", p.Version)
	}
	if len(p.Anchors) == 0 {
		return fmt.Errorf("inject: profile v%d: no anchors", p.Version)
	}
	for i, a := range p.Anchors {
		switch a.By {
		case "label", "class", "selector":
		case "attribute":
			if a.Name == "" {
				return fmt.Errorf("inject: profile v%d: anchor %d: attribute name is empty", p.Version, i)
			}
		default:
			return fmt.Errorf("inject: profile v%d: anchor %d: unknown strategy %q", p.Version, i, a.By)
		}
		if a.Value == "" {
			return fmt.Errorf("inject: profile v%d: anchor %d: value is empty", p.Version, i)
		}
	}
	for pos, rules := range p.Positions {
		if !store.ValidPosition(pos) {
			return fmt.Errorf("inject: profile v%d: unknown position %q", p.Version, pos)
		}
		for i, r := range rules {
			if r.Selector == "" || !r.Placement.Valid() {
				return fmt.Errorf("inject: profile v%d: %s rule %d is invalid", p.Version, pos, i)
			}
		}
	}
	return nil
}

// ParseProfile decodes and validates a YAML profile.
func ParseProfile(data []byte) (Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("inject: decode profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile from disk.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("inject: read profile: %w", err)
	}
	return ParseProfile(data)
}

// ProfileSource supplies the current profile.
type ProfileSource interface {
	Profile() Profile
}

// StaticProfile is a ProfileSource that never changes.
type StaticProfile Profile

func (s StaticProfile) Profile() Profile { return Profile(s) }

// ProfileStore holds the active profile and swaps it when its file changes.
type ProfileStore struct {
	current atomic.Pointer[Profile]

	mu        sync.Mutex
	listeners []func(Profile)
}

func NewProfileStore(initial Profile) *ProfileStore {
	s := &ProfileStore{}
	s.current.Store(&initial)
	return s
}

func (s *ProfileStore) Profile() Profile {
	return *s.current.Load()
}

// OnChange registers fn to run after a reload.
func (s *ProfileStore) OnChange(fn func(Profile)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Reload reads path and swaps the profile in. An invalid file keeps the
// current profile.
func (s *ProfileStore) Reload(path string) error {
	p, err := LoadProfile(path)
	if err != nil {
		return err
	}
	s.current.Store(&p)

	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(p)
	}
	slog.Info("inject profile reloaded", "path", path, "version", p.Version)
	return nil
}

// Watch reloads the profile whenever path is written or replaced, until ctx
// is done. The parent directory is watched so editors that save by rename
// are picked up.
func (s *ProfileStore) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inject: watch profile: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("inject: watch profile: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("inject: watch profile: %w", err)
	}

	go func() {
		defer func() {
			_ = watcher.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Reload(abs); err != nil {
					slog.Warn("inject profile reload failed, keeping previous", "path", abs, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("inject profile watcher error", "error", err)
			}
		}
	}()
	return nil
}
