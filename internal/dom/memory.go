package dom

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

const defaultWidth = 240

// Memory is an in-memory Document over a parsed HTML tree. Host* methods
// simulate what the host page does on its own (re-renders, resizes,
// navigation, user input) and are reported to observers.
type Memory struct {
	mu     sync.Mutex
	doc    *goquery.Document
	widths map[string]float64
	rects  map[string]Rect
	subs   []chan Event
}

// NewMemory parses html into a document.
func NewMemory(html string) (*Memory, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Memory{
		doc:    doc,
		widths: make(map[string]float64),
		rects:  make(map[string]Rect),
	}, nil
}

// Find returns a selection for inspection. Callers must not mutate it.
func (m *Memory) Find(selector string) *goquery.Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Find(selector)
}

// HTML renders the whole document.
func (m *Memory) HTML() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, _ := m.doc.Html()
	return out
}

func (m *Memory) Query(_ context.Context, selector string) (Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.Find(selector).Length() == 0 {
		return Node{}, false, nil
	}
	return Node{Selector: selector}, true, nil
}

func (m *Memory) Exists(_ context.Context, selector string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Find(selector).Length() > 0, nil
}

func (m *Memory) Count(_ context.Context, selector string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Find(selector).Length(), nil
}

func (m *Memory) Insert(_ context.Context, anchor Node, where Placement, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := m.doc.Find(anchor.Selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, anchor.Selector)
	}
	switch where {
	case Before:
		sel.BeforeHtml(html)
	case Prepend:
		sel.PrependHtml(html)
	case Append:
		sel.AppendHtml(html)
	case After:
		sel.AfterHtml(html)
	default:
		return fmt.Errorf("dom: unknown placement %q", where)
	}
	return nil
}

func (m *Memory) Replace(_ context.Context, selector, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := m.doc.Find(selector).First()
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, selector)
	}
	sel.SetHtml(html)
	return nil
}

func (m *Memory) SetClass(_ context.Context, selector, class string, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := m.doc.Find(selector)
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, selector)
	}
	if on {
		sel.AddClass(class)
	} else {
		sel.RemoveClass(class)
	}
	return nil
}

func (m *Memory) Remove(_ context.Context, selector string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Find(selector).Remove()
	return nil
}

func (m *Memory) Width(_ context.Context, node Node) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.Find(node.Selector).Length() == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNodeNotFound, node.Selector)
	}
	if w, ok := m.widths[node.Selector]; ok {
		return w, nil
	}
	return defaultWidth, nil
}

func (m *Memory) Rect(_ context.Context, selector string) (Rect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc.Find(selector).Length() == 0 {
		return Rect{}, fmt.Errorf("%w: %s", ErrNodeNotFound, selector)
	}
	return m.rects[selector], nil
}

func (m *Memory) Observe(ctx context.Context, _ Node) (<-chan Event, error) {
	ch := make(chan Event, 64)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, c := range m.subs {
			if c == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Observers returns the number of active observers.
func (m *Memory) Observers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// emit must be called with m.mu held.
func (m *Memory) emit(ev Event) {
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// HostRemove removes every element matching selector, as a host re-render would.
func (m *Memory) HostRemove(selector string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Find(selector).Remove()
	m.emit(Event{Kind: Mutation})
}

// HostSetHTML replaces the inner HTML of selector.
func (m *Memory) HostSetHTML(selector, html string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Find(selector).SetHtml(html)
	m.emit(Event{Kind: Mutation})
}

// HostResize sets the width of the element matched by selector.
func (m *Memory) HostResize(selector string, width float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widths[selector] = width
	m.emit(Event{Kind: Resize, Width: width})
}

// HostSetRect sets the bounding box reported for selector.
func (m *Memory) HostSetRect(selector string, r Rect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rects[selector] = r
}

// HostNavigate simulates an in-app navigation that replaces body content.
func (m *Memory) HostNavigate(url, bodyHTML string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Find("body").SetHtml(bodyHTML)
	m.emit(Event{Kind: Navigate, URL: url})
}

// HostEvent delivers an input event such as a pointer or click.
func (m *Memory) HostEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emit(ev)
}
