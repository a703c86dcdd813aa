package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/dgnsrekt/kwitch/internal/dom"
	"github.com/samber/lo"
)

const (
	DefaultAnchorAttempts = 30
	DefaultAnchorInterval = time.Second
)

// ErrAnchorNotFound is returned when no strategy locates the host navigation.
var ErrAnchorNotFound = errors.New("inject: anchor not found")

// Strategy locates a candidate anchor. Strategies hold no state and are
// tried in order until one succeeds.
type Strategy func(ctx context.Context, doc dom.Document) (dom.Node, bool)

// BySelector matches the first element for a raw CSS selector.
func BySelector(selector string) Strategy {
	return func(ctx context.Context, doc dom.Document) (dom.Node, bool) {
		node, ok, err := doc.Query(ctx, selector)
		if err != nil {
			slog.Debug("inject anchor query failed", "selector", selector, "error", err)
			return dom.Node{}, false
		}
		return node, ok
	}
}

// ByLabel matches an element by its accessible label.
func ByLabel(label string) Strategy {
	return ByAttribute("aria-label", label)
}

// ByClass matches an element by one of its classes.
func ByClass(class string) Strategy {
	return BySelector("." + class)
}

// ByAttribute matches an element whose attribute equals value.
func ByAttribute(name, value string) Strategy {
	return BySelector(fmt.Sprintf("[%s=%s]", name, quoteAttr(value)))
}

// Strategies builds the ordered strategy list of a profile.
func Strategies(p Profile) []Strategy {
	return lo.FilterMap(p.Anchors, func(a AnchorRule, _ int) (Strategy, bool) {
		switch a.By {
		case "label":
			return ByLabel(a.Value), true
		case "class":
			return ByClass(a.Value), true
		case "attribute":
			return ByAttribute(a.Name, a.Value), true
		case "selector":
			return BySelector(a.Value), true
		}
		return nil, false
	})
}

// FindAnchor runs strategies in order and returns the first hit.
func FindAnchor(ctx context.Context, doc dom.Document, strategies []Strategy) (dom.Node, bool) {
	for _, s := range strategies {
		if node, ok := s(ctx, doc); ok {
			return node, true
		}
	}
	return dom.Node{}, false
}

// WaitForAnchor retries FindAnchor every interval up to attempts times.
func WaitForAnchor(ctx context.Context, doc dom.Document, strategies []Strategy, attempts int, interval time.Duration) (dom.Node, error) {
	var node dom.Node
	err := retry.New(
		retry.Attempts(uint(max(attempts, 1))),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	).Do(func() error {
		n, ok := FindAnchor(ctx, doc, strategies)
		if !ok {
			return ErrAnchorNotFound
		}
		node = n
		return nil
	})
	if err != nil {
		return dom.Node{}, err
	}
	return node, nil
}

// place inserts html at position, walking the position's rule chain and
// falling back to prepending inside anchor.
func place(ctx context.Context, doc dom.Document, p Profile, position string, anchor dom.Node, html string) error {
	for _, r := range p.Positions[position] {
		node, ok, err := doc.Query(ctx, r.Selector)
		if err != nil || !ok {
			continue
		}
		return doc.Insert(ctx, node, r.Placement, html)
	}
	return doc.Insert(ctx, anchor, dom.Prepend, html)
}

func quoteAttr(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}
