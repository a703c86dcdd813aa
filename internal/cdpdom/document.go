// Package cdpdom implements dom.Document over a live browser tab using the
// Chrome DevTools Protocol.
package cdpdom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/kwitch/internal/dom"
)

const DefaultEvalTimeout = 5 * time.Second

// Document drives one tab. tabCtx must come from chromedp.NewContext bound
// to that tab.
type Document struct {
	tabCtx      context.Context
	evalTimeout time.Duration
	log         *slog.Logger

	mu        sync.Mutex
	subs      []chan dom.Event
	listening bool
}

type Option func(*Document)

func WithEvalTimeout(d time.Duration) Option {
	return func(doc *Document) {
		if d > 0 {
			doc.evalTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(doc *Document) { doc.log = l }
}

func New(tabCtx context.Context, opts ...Option) *Document {
	d := &Document{tabCtx: tabCtx, evalTimeout: DefaultEvalTimeout, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ dom.Document = (*Document)(nil)

// run executes actions on the tab, bounded by both ctx and the eval timeout.
func (d *Document) run(ctx context.Context, actions ...chromedp.Action) error {
	evalCtx, cancel := context.WithTimeout(d.tabCtx, d.evalTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(evalCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Document) eval(ctx context.Context, selector, js string, out any) error {
	var raw string
	if err := d.run(ctx, chromedp.Evaluate(js, &raw)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("cdpdom: evaluation timed out: %w", err)
		}
		return fmt.Errorf("cdpdom: evaluate: %w", err)
	}
	return decodeResult(selector, raw, out)
}

func (d *Document) Query(ctx context.Context, selector string) (dom.Node, bool, error) {
	n, err := d.Count(ctx, selector)
	if err != nil || n == 0 {
		return dom.Node{}, false, err
	}
	return dom.Node{Selector: selector}, true, nil
}

func (d *Document) Exists(ctx context.Context, selector string) (bool, error) {
	n, err := d.Count(ctx, selector)
	return n > 0, err
}

func (d *Document) Count(ctx context.Context, selector string) (int, error) {
	var n int
	err := d.eval(ctx, selector, queryScript(selector), &n)
	return n, err
}

func (d *Document) Insert(ctx context.Context, anchor dom.Node, where dom.Placement, html string) error {
	if !where.Valid() {
		return fmt.Errorf("cdpdom: unknown placement %q", where)
	}
	return d.eval(ctx, anchor.Selector, insertScript(anchor.Selector, where, html), nil)
}

func (d *Document) Replace(ctx context.Context, selector, html string) error {
	return d.eval(ctx, selector, replaceScript(selector, html), nil)
}

func (d *Document) SetClass(ctx context.Context, selector, class string, on bool) error {
	return d.eval(ctx, selector, setClassScript(selector, class, on), nil)
}

func (d *Document) Remove(ctx context.Context, selector string) error {
	return d.eval(ctx, selector, removeScript(selector), nil)
}

func (d *Document) Width(ctx context.Context, node dom.Node) (float64, error) {
	var w float64
	err := d.eval(ctx, node.Selector, widthScript(node.Selector), &w)
	return w, err
}

func (d *Document) Rect(ctx context.Context, selector string) (dom.Rect, error) {
	var r dom.Rect
	err := d.eval(ctx, selector, rectScript(selector), &r)
	return r, err
}

// Observe installs the page binding and observer script, then streams
// events until ctx is done. The script is also registered for new documents
// so a full reload keeps reporting.
func (d *Document) Observe(ctx context.Context, root dom.Node) (<-chan dom.Event, error) {
	d.listen()

	script := observerScript(root.Selector)
	err := d.run(ctx,
		runtime.AddBinding(BindingName),
		page.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		return nil, fmt.Errorf("cdpdom: install observer: %w", err)
	}

	ch := make(chan dom.Event, 64)
	d.mu.Lock()
	d.subs = append(d.subs, ch)
	d.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-d.tabCtx.Done():
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, c := range d.subs {
			if c == ch {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (d *Document) listen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listening {
		return
	}
	d.listening = true
	chromedp.ListenTarget(d.tabCtx, d.handleEvent)
}

func (d *Document) handleEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		if e.Name != BindingName {
			return
		}
		if out, ok := decodeEvent(e.Payload); ok {
			d.emit(out)
		} else {
			d.log.Debug("cdpdom dropped binding payload", "payload", e.Payload)
		}
	case *page.EventNavigatedWithinDocument:
		d.emit(dom.Event{Kind: dom.Navigate, URL: e.URL})
	case *page.EventFrameNavigated:
		if e.Frame.ParentID == "" {
			d.emit(dom.Event{Kind: dom.Navigate, URL: e.Frame.URL})
		}
	}
}

func (d *Document) emit(ev dom.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- ev:
		default:
			d.log.Debug("cdpdom event dropped, observer busy", "kind", ev.Kind)
		}
	}
}
