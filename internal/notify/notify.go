package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/samber/lo"
)

const sendTimeout = 10 * time.Second

// Alert is one push notification. Title and Click map onto ntfy headers.
type Alert struct {
	Title string
	Body  string
	Click string
	Tags  []string
}

// Send posts an alert to an ntfy topic endpoint.
func Send(ctx context.Context, client *http.Client, endpoint string, alert Alert) error {
	if endpoint == "" {
		return errors.New("notify: endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(alert.Body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if alert.Title != "" {
		req.Header.Set("Title", alert.Title)
	}
	if alert.Click != "" {
		req.Header.Set("Click", alert.Click)
	}
	if len(alert.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(alert.Tags, ","))
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// NewRetryingClient returns an http.Client that retries connection errors
// and 5xx responses up to retries times with backoff.
func NewRetryingClient(retries int, timeout time.Duration) *http.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			slog.Debug("notify retrying", "url", req.URL.String(), "attempt", attempt)
		}
	}
	return rc.StandardClient()
}

// LiveAlert builds the alert for a channel that just went live.
func LiveAlert(c kick.Channel) Alert {
	body := lo.FromPtr(c.Title)
	if body == "" {
		body = "Live"
	}
	if cat := lo.FromPtr(c.Category); cat != "" {
		body += " [" + cat + "]"
	}
	body += fmt.Sprintf(" (%s viewers)", kick.FormatViewers(c.Viewers()))
	return Alert{
		Title: c.DisplayName + " is live on Kick",
		Body:  body,
		Click: kick.WatchURL(c.Slug),
		Tags:  []string{"red_circle"},
	}
}

// GoLive tracks live status across broadcasts and alerts on offline to live
// transitions. The first broadcast only records the baseline.
type GoLive struct {
	endpoint string
	client   *http.Client

	mu     sync.Mutex
	live   map[string]bool
	seeded bool
}

func NewGoLive(endpoint string, client *http.Client) *GoLive {
	return &GoLive{endpoint: endpoint, client: client, live: make(map[string]bool)}
}

// Transitions records chs as the current state and returns the channels that
// went live since the previous call. Channels missing from chs keep their
// last known state, so a failed fetch does not re-arm the alert.
func (g *GoLive) Transitions(chs []kick.Channel) []kick.Channel {
	g.mu.Lock()
	defer g.mu.Unlock()

	var wentLive []kick.Channel
	for _, c := range chs {
		key := strings.ToLower(c.Slug)
		if g.seeded && c.IsLive && !g.live[key] {
			wentLive = append(wentLive, c)
		}
		g.live[key] = c.IsLive
	}
	g.seeded = true
	return wentLive
}

// Forget drops the state of every channel not in watched.
func (g *GoLive) Forget(watched []string) {
	keep := lo.SliceToMap(watched, func(slug string) (string, struct{}) {
		return strings.ToLower(slug), struct{}{}
	})

	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.live {
		if _, ok := keep[key]; !ok {
			delete(g.live, key)
		}
	}
}

// ObserveCycle is a scheduler observer that forgets channels that left the
// watch-list.
func (g *GoLive) ObserveCycle(c scheduler.Cycle) {
	g.Forget(c.Watched)
}

// Handle is a broadcast handler. Delivery errors are returned to the broker,
// which logs them.
func (g *GoLive) Handle(env message.Envelope) error {
	if env.Type != message.TypeChannelsUpdated {
		return nil
	}
	var errs []error
	for _, c := range g.Transitions(env.Channels) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := Send(ctx, g.client, g.endpoint, LiveAlert(c))
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", c.Slug, err))
			continue
		}
		slog.Info("notify go-live sent", "slug", c.Slug)
	}
	return errors.Join(errs...)
}
