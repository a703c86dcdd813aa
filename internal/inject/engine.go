package inject

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dgnsrekt/kwitch/internal/dom"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/google/uuid"
)

const (
	RootClass      = "kwitch-section"
	RootSelector   = "." + RootClass
	CollapsedClass = "collapsed"
	TooltipID      = "kwitch-tooltip"

	// CollapseThreshold is the navigation width below which the panel
	// switches to its collapsed look.
	CollapseThreshold = 100.0
	// TooltipOffset is the gap between a card's right edge and its tooltip.
	TooltipOffset = 10.0
)

// CommandSink receives commands raised from the panel, such as a card click.
type CommandSink func(ctx context.Context, env message.Envelope) error

type Options struct {
	Position    string
	ShowOffline bool
	Attempts    int
	Interval    time.Duration
	Sink        CommandSink
	Logger      *slog.Logger
}

// Engine keeps one panel alive inside one host page. It owns the panel state
// for that page and nothing else.
type Engine struct {
	doc      dom.Document
	profiles ProfileSource
	sink     CommandSink
	log      *slog.Logger
	attempts int
	interval time.Duration
	instance string

	mu          sync.Mutex
	channels    []kick.Channel
	position    string
	showOffline bool
	collapsed   bool
	expanded    bool
	hovered     string

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(doc dom.Document, profiles ProfileSource, opts Options) *Engine {
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAnchorAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultAnchorInterval
	}
	if !store.ValidPosition(opts.Position) {
		opts.Position = store.PositionAboveFollowed
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		doc:         doc,
		profiles:    profiles,
		sink:        opts.Sink,
		attempts:    opts.Attempts,
		interval:    opts.Interval,
		instance:    uuid.NewString(),
		position:    opts.Position,
		showOffline: opts.ShowOffline,
		channels:    []kick.Channel{},
	}
	e.log = opts.Logger.With("instance", e.instance)
	return e
}

// Instance returns the id written to the panel's data-kwitch-instance attribute.
func (e *Engine) Instance() string { return e.instance }

func (e *Engine) Collapsed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.collapsed
}

func (e *Engine) Expanded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.expanded
}

// Injected reports whether the panel is currently in the document.
func (e *Engine) Injected(ctx context.Context) bool {
	ok, err := e.doc.Exists(ctx, RootSelector)
	return err == nil && ok
}

// Start begins observing the page and then looks for the anchor with
// bounded retries. Observation keeps running when discovery gives up, so a
// later host render still gets the panel. ErrAnchorNotFound is returned in
// that case.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.cancel != nil {
		e.lifeMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	events, err := e.doc.Observe(runCtx, dom.Node{Selector: e.profiles.Profile().NavRoot})
	if err != nil {
		cancel()
		e.lifeMu.Unlock()
		return err
	}
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.lifeMu.Unlock()

	err = e.injectWithRetry(runCtx)
	go e.run(runCtx, events, done)
	if errors.Is(err, ErrAnchorNotFound) {
		e.log.Info("inject anchor not found, giving up", "attempts", e.attempts)
	}
	return err
}

// Close stops observation and removes the panel and any tooltip.
func (e *Engine) Close() {
	e.lifeMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.lifeMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	ctx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	_ = e.doc.Remove(ctx, "#"+TooltipID)
	_ = e.doc.Remove(ctx, RootSelector)
	e.log.Info("inject panel closed")
}

// Inject places the panel once. It is a no-op when the panel already exists.
func (e *Engine) Inject(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.injectLocked(ctx)
}

func (e *Engine) injectLocked(ctx context.Context) error {
	exists, err := e.doc.Exists(ctx, RootSelector)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	p := e.profiles.Profile()
	anchor, ok := FindAnchor(ctx, e.doc, Strategies(p))
	if !ok {
		return ErrAnchorNotFound
	}
	if w, err := e.doc.Width(ctx, anchor); err == nil {
		e.collapsed = w < CollapseThreshold
	}

	html := RenderPanel(e.instance, e.channels, e.showOffline, e.collapsed, e.expanded)
	if err := place(ctx, e.doc, p, e.position, anchor, html); err != nil {
		return err
	}
	e.log.Info("inject panel injected", "position", e.position, "anchor", anchor.Selector, "count", len(e.channels))
	return nil
}

func (e *Engine) injectWithRetry(ctx context.Context) error {
	p := e.profiles.Profile()
	if _, err := WaitForAnchor(ctx, e.doc, Strategies(p), e.attempts, e.interval); err != nil {
		return err
	}
	return e.Inject(ctx)
}

// Update replaces the displayed channels, re-injecting when the panel is gone.
func (e *Engine) Update(ctx context.Context, chs []kick.Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = slices.Clone(chs)
	if e.channels == nil {
		e.channels = []kick.Channel{}
	}
	return e.refreshLocked(ctx)
}

// ApplySettings changes placement and the offline filter. A position change
// moves the panel.
func (e *Engine) ApplySettings(ctx context.Context, position string, showOffline bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !store.ValidPosition(position) {
		position = e.position
	}
	moved := position != e.position
	e.position = position
	e.showOffline = showOffline
	if moved {
		if err := e.doc.Remove(ctx, RootSelector); err != nil {
			return err
		}
		return e.ignoreMissingAnchor(e.injectLocked(ctx))
	}
	return e.refreshLocked(ctx)
}

func (e *Engine) refreshLocked(ctx context.Context) error {
	exists, err := e.doc.Exists(ctx, RootSelector)
	if err != nil {
		return err
	}
	if !exists {
		return e.ignoreMissingAnchor(e.injectLocked(ctx))
	}
	return e.doc.Replace(ctx, RootSelector, RenderBody(e.channels, e.showOffline, e.expanded))
}

func (e *Engine) ignoreMissingAnchor(err error) error {
	if errors.Is(err, ErrAnchorNotFound) {
		e.log.Debug("inject anchor not present, waiting for host render")
		return nil
	}
	return err
}

func (e *Engine) run(ctx context.Context, events <-chan dom.Event, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.handle(ctx, ev); err != nil && ctx.Err() == nil {
				e.log.Debug("inject event failed", "kind", ev.Kind, "error", err)
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev dom.Event) error {
	switch ev.Kind {
	case dom.Mutation:
		return e.Inject(ctx)
	case dom.Navigate:
		e.hideTooltip(ctx)
		e.log.Info("inject host navigated", "url", ev.URL)
		err := e.injectWithRetry(ctx)
		if errors.Is(err, ErrAnchorNotFound) {
			e.log.Info("inject anchor not found, giving up", "attempts", e.attempts)
			return nil
		}
		return err
	case dom.Resize:
		return e.resize(ctx, ev.Width)
	case dom.PointerEnter:
		return e.showTooltip(ctx, ev.Slug)
	case dom.PointerLeave:
		e.hideTooltip(ctx)
		return nil
	case dom.Toggle:
		e.mu.Lock()
		defer e.mu.Unlock()
		e.expanded = !e.expanded
		return e.refreshLocked(ctx)
	case dom.Click:
		if ev.Control || ev.Slug == "" {
			return nil
		}
		return e.activate(ctx, ev.Slug)
	}
	return nil
}

func (e *Engine) resize(ctx context.Context, width float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	collapsed := width < CollapseThreshold
	if collapsed == e.collapsed {
		return nil
	}
	e.collapsed = collapsed
	exists, err := e.doc.Exists(ctx, RootSelector)
	if err != nil || !exists {
		return err
	}
	return e.doc.SetClass(ctx, RootSelector, CollapsedClass, collapsed)
}

func (e *Engine) activate(ctx context.Context, slug string) error {
	e.log.Info("inject channel activated", "slug", slug)
	if e.sink == nil {
		return nil
	}
	return e.sink(ctx, message.WatchChannel(slug))
}

func (e *Engine) showTooltip(ctx context.Context, slug string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ch *kick.Channel
	for i := range e.channels {
		if kick.SameSlug(e.channels[i].Slug, slug) {
			ch = &e.channels[i]
			break
		}
	}
	if ch == nil {
		return nil
	}
	if err := e.doc.Remove(ctx, "#"+TooltipID); err != nil {
		return err
	}
	rect, err := e.doc.Rect(ctx, cardSelector(ch.Slug))
	if err != nil {
		return err
	}
	if err := e.doc.Insert(ctx, dom.Body, dom.Append, RenderTooltip(*ch, rect.Top, rect.Right+TooltipOffset)); err != nil {
		return err
	}
	e.hovered = ch.Slug
	return nil
}

func (e *Engine) hideTooltip(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hovered = ""
	if err := e.doc.Remove(ctx, "#"+TooltipID); err != nil {
		e.log.Debug("inject tooltip remove failed", "error", err)
	}
}

func cardSelector(slug string) string {
	return `.kwitch-channel[data-slug=` + quoteAttr(slug) + `]`
}

// Hovered returns the slug whose tooltip is showing, if any.
func (e *Engine) Hovered() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hovered
}
