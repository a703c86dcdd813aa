package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/samber/lo"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     make(http.Header),
	}
}

func TestSendPostsAlert(t *testing.T) {
	ctx := context.Background()

	var received *http.Request
	var receivedBody string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			received = r
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return okResponse(), nil
		}),
	}

	alert := Alert{Title: "alpha is live on Kick", Body: "speedrun", Click: "https://kick.com/alpha", Tags: []string{"a", "b"}}
	if err := Send(ctx, client, "http://example.com/kwitch", alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := received.Method, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := received.URL.Path, "/kwitch"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := received.Header.Get("Title"), alert.Title; got != want {
		t.Fatalf("Title = %q; want %q", got, want)
	}
	if got, want := received.Header.Get("Click"), alert.Click; got != want {
		t.Fatalf("Click = %q; want %q", got, want)
	}
	if got, want := received.Header.Get("Tags"), "a,b"; got != want {
		t.Fatalf("Tags = %q; want %q", got, want)
	}
	if got, want := receivedBody, "speedrun"; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(context.Background(), client, "http://example.com/kwitch", Alert{Body: "x"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	if err := Send(context.Background(), http.DefaultClient, "", Alert{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

func TestLiveAlert(t *testing.T) {
	a := LiveAlert(kick.Channel{
		Slug:        "alpha",
		DisplayName: "Alpha",
		IsLive:      true,
		Title:       lo.ToPtr("speedrun"),
		Category:    lo.ToPtr("Retro"),
		ViewerCount: lo.ToPtr(2500),
	})
	if got, want := a.Title, "Alpha is live on Kick"; got != want {
		t.Fatalf("Title = %q; want %q", got, want)
	}
	if got, want := a.Body, "speedrun [Retro] (2.5K viewers)"; got != want {
		t.Fatalf("Body = %q; want %q", got, want)
	}
	if got, want := a.Click, "https://kick.com/alpha"; got != want {
		t.Fatalf("Click = %q; want %q", got, want)
	}
}

func TestGoLiveAlertsOnlyOnTransition(t *testing.T) {
	var mu sync.Mutex
	var titles []string
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			mu.Lock()
			titles = append(titles, r.Header.Get("Title"))
			mu.Unlock()
			return okResponse(), nil
		}),
	}
	g := NewGoLive("http://example.com/kwitch", client)

	live := func(slug string, on bool) kick.Channel {
		return kick.Channel{Slug: slug, DisplayName: slug, IsLive: on}
	}

	steps := []struct {
		chs  []kick.Channel
		want int
	}{
		{[]kick.Channel{live("alpha", true), live("beta", false)}, 0},
		{[]kick.Channel{live("alpha", true), live("beta", true)}, 1},
		{[]kick.Channel{live("alpha", true), live("beta", true)}, 1},
		{[]kick.Channel{live("alpha", false), live("beta", true)}, 1},
		{[]kick.Channel{live("alpha", true), live("beta", true), live("gamma", true)}, 3},
	}
	for i, step := range steps {
		if err := g.Handle(message.ChannelsUpdated(step.chs)); err != nil {
			t.Fatalf("step %d: Handle() error = %v", i, err)
		}
		mu.Lock()
		got := len(titles)
		mu.Unlock()
		if got != step.want {
			t.Fatalf("step %d: alerts = %d; want %d (%v)", i, got, step.want, titles)
		}
	}
	if got, want := titles[0], "beta is live on Kick"; got != want {
		t.Fatalf("first alert = %q; want %q", got, want)
	}
}

func TestGoLiveKeepsStateAcrossFailedFetch(t *testing.T) {
	g := NewGoLive("http://example.com/kwitch", nil)
	alpha := func(on bool) []kick.Channel {
		return []kick.Channel{{Slug: "alpha", DisplayName: "alpha", IsLive: on}}
	}

	if got := g.Transitions(alpha(false)); len(got) != 0 {
		t.Fatalf("baseline alerts = %d; want 0", len(got))
	}
	if got := g.Transitions(alpha(true)); len(got) != 1 {
		t.Fatalf("went live alerts = %d; want 1", len(got))
	}
	if got := g.Transitions([]kick.Channel{}); len(got) != 0 {
		t.Fatalf("failed fetch alerts = %d; want 0", len(got))
	}
	if got := g.Transitions(alpha(true)); len(got) != 0 {
		t.Fatalf("alpha alerted again after a failed fetch: %d alerts", len(got))
	}
}

func TestGoLiveForgetsRemovedChannels(t *testing.T) {
	g := NewGoLive("http://example.com/kwitch", nil)
	chs := []kick.Channel{
		{Slug: "Alpha", DisplayName: "Alpha", IsLive: true},
		{Slug: "beta", DisplayName: "beta", IsLive: true},
	}
	g.Transitions(chs)

	g.ObserveCycle(scheduler.Cycle{Watched: []string{"alpha"}})
	got := g.Transitions(chs)
	if len(got) != 1 || got[0].Slug != "beta" {
		t.Fatalf("Transitions() = %+v; want only beta after it left and rejoined", got)
	}
}

func TestGoLiveIgnoresOtherMessages(t *testing.T) {
	g := NewGoLive("http://example.com/kwitch", &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			t.Fatal("unexpected request")
			return nil, nil
		}),
	})
	if err := g.Handle(message.ForceRefresh()); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}

func TestRetryingClientRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if got, want := string(body), "Live (12 viewers)"; got != want {
			t.Errorf("retried body = %q; want %q", got, want)
		}
	}))
	defer srv.Close()

	client := NewRetryingClient(2, 5*time.Second)
	alert := LiveAlert(kick.Channel{Slug: "alpha", DisplayName: "alpha", IsLive: true, ViewerCount: lo.ToPtr(12)})
	if err := Send(context.Background(), client, srv.URL, alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got, want := calls, 2; got != want {
		t.Fatalf("calls = %d; want %d", got, want)
	}
}
