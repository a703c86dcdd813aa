package kick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://kick.com/api/v2"

// ErrNotFound is returned when the remote API has no channel for a slug.
var ErrNotFound = errors.New("kick: channel not found")

// TransportError wraps a network failure or an unexpected response status.
type TransportError struct {
	Slug       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("kick: fetch %s: status=%d", e.Slug, e.StatusCode)
	}
	return fmt.Sprintf("kick: fetch %s: %v", e.Slug, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BatchResult is the outcome of a sequential batch fetch. Channels holds the
// successful fetches in request order; Failed lists slugs that hit a
// transport error. Slugs that were not found appear in neither.
type BatchResult struct {
	Channels []Channel
	Failed   []string
}

// Client reads public channel status from the Kick API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithClock sets the source of LastUpdated timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    DefaultBaseURL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchStatus performs one unauthenticated request for a channel.
func (c *Client) FetchStatus(ctx context.Context, slug string) (Channel, error) {
	endpoint := c.baseURL + "/channels/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Channel{}, &TransportError{Slug: slug, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Channel{}, &TransportError{Slug: slug, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Channel{}, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Channel{}, &TransportError{Slug: slug, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Channel{}, &TransportError{Slug: slug, Err: err}
	}
	return parseChannel(body, slug, c.now())
}

// FetchAll fetches every slug one at a time and returns the channels that
// could be fetched.
func (c *Client) FetchAll(ctx context.Context, slugs []string, delay time.Duration) []Channel {
	return c.FetchBatch(ctx, slugs, delay).Channels
}

// FetchBatch fetches slugs strictly sequentially, waiting delay between
// requests. Failures are logged and skipped; nothing is retried within a
// batch. A cancelled context ends the batch early with what was fetched.
func (c *Client) FetchBatch(ctx context.Context, slugs []string, delay time.Duration) BatchResult {
	res := BatchResult{Channels: make([]Channel, 0, len(slugs))}
	for i, slug := range slugs {
		if i > 0 && delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return res
		}

		ch, err := c.FetchStatus(ctx, slug)
		switch {
		case err == nil:
			res.Channels = append(res.Channels, ch)
		case errors.Is(err, ErrNotFound):
			slog.Warn("channel not found", "slug", slug)
		default:
			slog.Error("channel fetch failed", "slug", slug, "error", err)
			res.Failed = append(res.Failed, slug)
		}
	}
	return res
}

func parseChannel(body []byte, slug string, now time.Time) (Channel, error) {
	if !gjson.ValidBytes(body) {
		return Channel{}, &TransportError{Slug: slug, Err: errors.New("invalid json body")}
	}
	doc := gjson.ParseBytes(body)

	ch := Channel{
		Slug:        lo.Ternary(doc.Get("slug").String() != "", doc.Get("slug").String(), slug),
		IsLive:      doc.Get("livestream.is_live").Bool(),
		LastUpdated: now.UnixMilli(),
	}
	ch.DisplayName = lo.Ternary(doc.Get("user.username").String() != "", doc.Get("user.username").String(), ch.Slug)
	ch.ProfilePic = lo.Ternary(doc.Get("user.profile_pic").String() != "", doc.Get("user.profile_pic").String(), DefaultAvatar(ch.Slug))

	if !ch.IsLive {
		return ch, nil
	}
	if v := doc.Get("livestream.session_title"); v.Exists() && v.Type != gjson.Null {
		ch.Title = lo.ToPtr(v.String())
	}
	if v := doc.Get("livestream.viewer_count"); v.Exists() && v.Type != gjson.Null {
		ch.ViewerCount = lo.ToPtr(int(v.Int()))
	}
	if v := doc.Get("livestream.categories.0.name"); v.Exists() && v.Type != gjson.Null {
		ch.Category = lo.ToPtr(v.String())
	}
	return ch, nil
}
