// Package dom abstracts the host page document the panel is injected into.
// A Document is either a live browser tab or an in-memory stand-in.
package dom

import (
	"context"
	"errors"
)

// ErrNodeNotFound is returned when a selector matches nothing.
var ErrNodeNotFound = errors.New("dom: node not found")

// Node identifies an element by a selector that matches it.
type Node struct {
	Selector string
}

// Body is the document body.
var Body = Node{Selector: "body"}

// Placement is where inserted markup goes relative to an anchor node.
type Placement string

const (
	Before  Placement = "before"
	Prepend Placement = "prepend"
	Append  Placement = "append"
	After   Placement = "after"
)

// Valid reports whether p is one of the four placements.
func (p Placement) Valid() bool {
	switch p {
	case Before, Prepend, Append, After:
		return true
	}
	return false
}

// Rect is an element's bounding box in viewport pixels.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type EventKind string

const (
	// Mutation reports a host-side structural change in the document.
	// Changes made through the Document API are not reported.
	Mutation     EventKind = "mutation"
	Resize       EventKind = "resize"
	PointerEnter EventKind = "pointerenter"
	PointerLeave EventKind = "pointerleave"
	Click        EventKind = "click"
	Toggle       EventKind = "toggle"
	Navigate     EventKind = "navigate"
)

// Event is an observation from the document. Slug is set for pointer and
// click events on channel cards; Control marks a click that landed on an
// interactive sub-control inside a card.
type Event struct {
	Kind    EventKind `json:"kind"`
	Width   float64   `json:"width,omitempty"`
	Slug    string    `json:"slug,omitempty"`
	Control bool      `json:"control,omitempty"`
	URL     string    `json:"url,omitempty"`
}

// Document is the set of operations the injection engine performs on a page.
type Document interface {
	Query(ctx context.Context, selector string) (Node, bool, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	Insert(ctx context.Context, anchor Node, where Placement, html string) error
	// Replace sets the inner HTML of the first element matching selector.
	Replace(ctx context.Context, selector, html string) error
	SetClass(ctx context.Context, selector, class string, on bool) error
	Remove(ctx context.Context, selector string) error
	Width(ctx context.Context, node Node) (float64, error)
	Rect(ctx context.Context, selector string) (Rect, error)
	// Observe streams events until ctx is done. Resize events report the
	// width of root.
	Observe(ctx context.Context, root Node) (<-chan Event, error)
}
