// Package popup is the transient action UI: a client for the daemon, the
// state it shows and a terminal front end.
package popup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/tidwall/gjson"
)

const DefaultServer = "http://127.0.0.1:8199"

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("popup: daemon returned %d", e.Status)
	}
	return fmt.Sprintf("popup: daemon returned %d: %s", e.Status, e.Detail)
}

// Client talks to a running kwitchd.
type Client struct {
	base string
	hc   *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func NewClient(server string, opts ...Option) *Client {
	if strings.TrimSpace(server) == "" {
		server = DefaultServer
	}
	c := &Client{
		base: strings.TrimRight(server, "/"),
		hc:   &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("popup: encode %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("popup: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("popup: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("popup: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Detail: gjson.GetBytes(raw, "detail").String()}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("popup: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) Channels(ctx context.Context) ([]kick.Channel, error) {
	var out struct {
		Channels []kick.Channel `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/channels", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func (c *Client) WatchList(ctx context.Context) ([]string, error) {
	var out struct {
		Channels []string `json:"channels"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/watchlist", nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func (c *Client) AddChannel(ctx context.Context, slug string) (controller.WatchListResult, error) {
	var out controller.WatchListResult
	err := c.do(ctx, http.MethodPost, "/api/v1/watchlist", map[string]string{"slug": slug}, &out)
	return out, err
}

func (c *Client) RemoveChannel(ctx context.Context, slug string) (controller.WatchListResult, error) {
	var out controller.WatchListResult
	err := c.do(ctx, http.MethodDelete, "/api/v1/watchlist/"+url.PathEscape(slug), nil, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/refresh", nil, nil)
}

func (c *Client) Watch(ctx context.Context, slug string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/watch", map[string]string{"slug": slug}, nil)
}

func (c *Client) Settings(ctx context.Context) (store.Settings, error) {
	var out store.Settings
	err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &out)
	return out, err
}

func (c *Client) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (store.Settings, error) {
	var out store.Settings
	err := c.do(ctx, http.MethodPatch, "/api/v1/settings", patch, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (controller.Health, error) {
	var out controller.Health
	err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out)
	return out, err
}

func (c *Client) streamURL() (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", fmt.Errorf("popup: parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/ws"
	return u.String(), nil
}

// Subscribe opens the WebSocket stream and calls fn for every envelope until
// ctx is done or the connection drops. The daemon sends the cached
// collection first.
func (c *Client) Subscribe(ctx context.Context, fn func(message.Envelope)) error {
	streamURL, err := c.streamURL()
	if err != nil {
		return err
	}
	conn, br, _, err := ws.Dial(ctx, streamURL)
	if err != nil {
		return fmt.Errorf("popup: dial %s: %w", streamURL, err)
	}
	defer func() { _ = conn.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	rw := streamConn(conn, br)
	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("popup: read stream: %w", err)
		}
		if op != ws.OpText {
			continue
		}
		env, err := message.Decode(data)
		if err != nil {
			slog.Debug("popup stream message rejected", "error", err)
			continue
		}
		fn(env)
	}
}

// Follow is Subscribe with reconnects. It gives up once attempts
// subscriptions have ended in an error.
func (c *Client) Follow(ctx context.Context, attempts uint, delay time.Duration, fn func(message.Envelope)) error {
	return retry.New(
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("popup stream lost, reconnecting", "attempt", n+1, "error", err)
		}),
	).Do(func() error {
		return c.Subscribe(ctx, fn)
	})
}

type bufferedConn struct {
	io.Reader
	io.Writer
}

func streamConn(conn net.Conn, br *bufio.Reader) io.ReadWriter {
	if br == nil {
		return conn
	}
	return bufferedConn{Reader: io.MultiReader(br, conn), Writer: conn}
}
