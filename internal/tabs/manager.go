// Package tabs attaches a panel engine to every matching browser tab and
// opens channels on activation.
package tabs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/kwitch/internal/broadcast"
	"github.com/dgnsrekt/kwitch/internal/cdpdom"
	"github.com/dgnsrekt/kwitch/internal/dom"
	"github.com/dgnsrekt/kwitch/internal/inject"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/store"
)

const (
	PopoutWidth  = 1280
	PopoutHeight = 800

	updateTimeout = 10 * time.Second
)

var (
	ErrNotConnected       = errors.New("tabs: browser not connected")
	ErrActivationDisabled = errors.New("tabs: embed and popout are both disabled")
)

type Options struct {
	CDPURL         string
	TabURLFilter   string
	EvalTimeout    time.Duration
	AnchorAttempts int
	AnchorInterval time.Duration
	Profiles       inject.ProfileSource
	Sink           inject.CommandSink
}

// Info describes one attached tab.
type Info struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Injected bool   `json:"injected"`
}

type tab struct {
	id     string
	url    string
	engine *inject.Engine
	cancel context.CancelFunc
}

// opener creates a browser target.
type opener func(ctx context.Context, params *target.CreateTargetParams) error

// Manager owns the CDP connection and one engine per matching tab.
type Manager struct {
	opts Options
	sub  broadcast.Subscriber
	pull broadcast.PullFunc

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	open          opener

	mu       sync.RWMutex
	tabs     map[string]*tab
	settings store.Settings
	unsub    func()
}

func NewManager(sub broadcast.Subscriber, pull broadcast.PullFunc, settings store.Settings, opts Options) *Manager {
	if opts.Profiles == nil {
		opts.Profiles = inject.StaticProfile(inject.DefaultProfile())
	}
	if opts.TabURLFilter == "" {
		opts.TabURLFilter = "twitch.tv"
	}
	m := &Manager{
		opts:     opts,
		sub:      sub,
		pull:     pull,
		tabs:     make(map[string]*tab),
		settings: settings,
	}
	m.unsub = sub.Subscribe(m.handleBroadcast)
	return m
}

// Connect attaches to the browser, injects into every matching tab and
// follows tabs as they open, navigate and close.
func (m *Manager) Connect(ctx context.Context) error {
	_ = ctx
	slog.Info("tabs connecting to chromium", "url", m.opts.CDPURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), m.opts.CDPURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("tabs: connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("tabs: enumerate targets: %w", err)
	}

	m.mu.Lock()
	m.allocCancel, m.browserCtx, m.browserCancel = allocCancel, browserCtx, browserCancel
	m.open = func(ctx context.Context, params *target.CreateTargetParams) error {
		return chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := params.Do(ctx)
			return err
		}))
	}
	m.mu.Unlock()

	chromedp.ListenBrowser(browserCtx, m.handleTargetEvent)
	if err := chromedp.Run(browserCtx, target.SetDiscoverTargets(true)); err != nil {
		slog.Warn("tabs target discovery unavailable", "error", err)
	}

	for _, t := range targets {
		m.consider(t)
	}
	slog.Info("tabs connected", "targets", len(targets), "attached", m.Count(), "tab_url_filter", m.opts.TabURLFilter)
	return nil
}

func (m *Manager) handleTargetEvent(ev any) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		go m.consider(e.TargetInfo)
	case *target.EventTargetInfoChanged:
		go m.consider(e.TargetInfo)
	case *target.EventTargetDestroyed:
		go m.detach(string(e.TargetID))
	}
}

// consider attaches a page target that matches the filter and detaches one
// that navigated away from the host site.
func (m *Manager) consider(info *target.Info) {
	if info == nil || info.Type != "page" {
		return
	}
	id := string(info.TargetID)
	matches := m.matchesTabURL(info.URL)

	m.mu.RLock()
	_, attached := m.tabs[id]
	browserCtx := m.browserCtx
	m.mu.RUnlock()

	switch {
	case matches && !attached && browserCtx != nil:
		tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithTargetID(info.TargetID))
		doc := cdpdom.New(tabCtx, cdpdom.WithEvalTimeout(m.opts.EvalTimeout))
		m.attachDocument(tabCtx, cancel, id, info.URL, doc)
	case !matches && attached:
		m.detach(id)
	}
}

// attachDocument starts an engine for doc. The engine runs until the tab is
// detached or cancel is called.
func (m *Manager) attachDocument(ctx context.Context, cancel context.CancelFunc, id, url string, doc dom.Document) *inject.Engine {
	m.mu.Lock()
	if t, ok := m.tabs[id]; ok {
		m.mu.Unlock()
		cancel()
		return t.engine
	}
	s := m.settings
	engine := inject.NewEngine(doc, m.opts.Profiles, inject.Options{
		Position:    s.PanelPosition,
		ShowOffline: s.ShowOfflineChannels,
		Attempts:    m.opts.AnchorAttempts,
		Interval:    m.opts.AnchorInterval,
		Sink:        m.opts.Sink,
		Logger:      slog.Default().With("tab_id", id),
	})
	m.tabs[id] = &tab{id: id, url: url, engine: engine, cancel: cancel}
	m.mu.Unlock()

	slog.Info("tabs attached", "tab_id", id, "url", truncateURL(url))

	go func() {
		if m.pull != nil {
			pullCtx, stop := context.WithTimeout(ctx, updateTimeout)
			chs, err := m.pull(pullCtx)
			stop()
			if err != nil {
				slog.Warn("tabs initial pull failed", "tab_id", id, "error", err)
			} else if err := engine.Update(ctx, chs); err != nil {
				slog.Debug("tabs initial update failed", "tab_id", id, "error", err)
			}
		}
		if err := engine.Start(ctx); err != nil && !errors.Is(err, inject.ErrAnchorNotFound) && ctx.Err() == nil {
			slog.Warn("tabs engine start failed", "tab_id", id, "error", err)
		}
	}()
	return engine
}

func (m *Manager) detach(id string) {
	m.mu.Lock()
	t, ok := m.tabs[id]
	delete(m.tabs, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	t.engine.Close()
	t.cancel()
	slog.Info("tabs detached", "tab_id", id)
}

func (m *Manager) snapshot() []*tab {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*tab, 0, len(m.tabs))
	for _, t := range m.tabs {
		out = append(out, t)
	}
	return out
}

func (m *Manager) handleBroadcast(env message.Envelope) error {
	if env.Type != message.TypeChannelsUpdated {
		return nil
	}
	var errs []error
	for _, t := range m.snapshot() {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		if err := t.engine.Update(ctx, env.Channels); err != nil {
			errs = append(errs, fmt.Errorf("tab %s: %w", t.id, err))
		}
		cancel()
	}
	return errors.Join(errs...)
}

// ApplySettings moves or refilters every panel and records s for tabs
// attached later.
func (m *Manager) ApplySettings(ctx context.Context, s store.Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	for _, t := range m.snapshot() {
		if err := t.engine.ApplySettings(ctx, s.PanelPosition, s.ShowOfflineChannels); err != nil {
			slog.Warn("tabs apply settings failed", "tab_id", t.id, "error", err)
		}
	}
}

// Activate opens a channel: a sized popup window when popouts are enabled,
// otherwise a new tab when embedding is enabled.
func (m *Manager) Activate(ctx context.Context, slug string) error {
	m.mu.RLock()
	s, open := m.settings, m.open
	m.mu.RUnlock()

	params, err := activation(slug, s)
	if err != nil {
		return err
	}
	if open == nil {
		return ErrNotConnected
	}
	if err := open(ctx, params); err != nil {
		return fmt.Errorf("tabs: open %s: %w", slug, err)
	}
	slog.Info("tabs channel opened", "slug", slug, "popout", params.NewWindow)
	return nil
}

func activation(slug string, s store.Settings) (*target.CreateTargetParams, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, message.ErrMissingSlug
	}
	url := kick.WatchURL(slug)
	switch {
	case s.PopoutEnabled:
		return target.CreateTarget(url).
			WithNewWindow(true).
			WithWidth(PopoutWidth).
			WithHeight(PopoutHeight), nil
	case s.EmbedEnabled:
		return target.CreateTarget(url), nil
	}
	return nil, ErrActivationDisabled
}

// Count returns the number of attached tabs.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tabs)
}

// Tabs lists attached tabs.
func (m *Manager) Tabs(ctx context.Context) []Info {
	out := make([]Info, 0)
	for _, t := range m.snapshot() {
		out = append(out, Info{ID: t.id, URL: t.url, Injected: t.engine.Injected(ctx)})
	}
	return out
}

// Close detaches every tab and drops the browser connection.
func (m *Manager) Close() error {
	if m.unsub != nil {
		m.unsub()
	}
	for _, t := range m.snapshot() {
		m.detach(t.id)
	}

	m.mu.Lock()
	browserCancel, allocCancel := m.browserCancel, m.allocCancel
	m.browserCtx, m.browserCancel, m.allocCancel, m.open = nil, nil, nil, nil
	m.mu.Unlock()
	if browserCancel != nil {
		browserCancel()
	}
	if allocCancel != nil {
		allocCancel()
	}
	slog.Info("tabs manager closed")
	return nil
}

func (m *Manager) matchesTabURL(url string) bool {
	if m.opts.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(m.opts.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
