package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/kwitch/internal/broadcast"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/scheduler"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/dgnsrekt/kwitch/internal/tabs"
	"github.com/samber/lo"
)

type stubPoller struct {
	mu       sync.Mutex
	triggers int
}

func (p *stubPoller) TriggerNow(context.Context) {
	p.mu.Lock()
	p.triggers++
	p.mu.Unlock()
}
func (p *stubPoller) Reschedule(time.Duration)           {}
func (p *stubPoller) Interval() time.Duration            { return time.Minute }
func (p *stubPoller) InFlight() int                      { return 0 }
func (p *stubPoller) LastCycle() (scheduler.Cycle, bool) { return scheduler.Cycle{}, false }

type stubTabs struct{ err error }

func (t stubTabs) Activate(context.Context, string) error        { return t.err }
func (t stubTabs) ApplySettings(context.Context, store.Settings) {}
func (t stubTabs) Tabs(context.Context) []tabs.Info              { return nil }

type fixture struct {
	handler http.Handler
	svc     *controller.Service
	store   *store.Store
	poller  *stubPoller
	broker  *broadcast.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(store.NewMemory())
	p := &stubPoller{}
	b := broadcast.NewBroker()
	svc := controller.NewService(st, p, b)
	return &fixture{handler: NewServer(svc, b), svc: svc, store: st, poller: p, broker: b}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestDocsDarkMode(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/docs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
	if !strings.Contains(body, `href="/docs/events"`) {
		t.Fatalf("docs missing event stream link")
	}
	events := f.do(t, http.MethodGet, "/docs/events", "").Body.String()
	for _, want := range []string{
		"/api/v1/events", "/api/v1/ws", `href="/docs"`,
		"CHANNELS_UPDATED", "GET_CHANNELS_RESPONSE", "GET_CHANNELS", "FORCE_REFRESH", "WATCH_KICK_CHANNEL",
	} {
		if !strings.Contains(events, want) {
			t.Fatalf("event docs missing %q", want)
		}
	}
}

func TestOpenAPIListsRoutes(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/openapi.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, want := range []string{"/api/v1/channels", "/api/v1/watchlist/{slug}", "/api/v1/settings", "/api/v1/refresh", "/api/v1/watch", "/api/v1/health"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("openapi missing %s", want)
		}
	}
}

func TestGetChannels(t *testing.T) {
	f := newFixture(t)
	chs := []kick.Channel{
		{Slug: "alpha", DisplayName: "alpha", IsLive: true, ViewerCount: lo.ToPtr(2500)},
		{Slug: "beta", DisplayName: "beta"},
	}
	if err := f.store.SetChannelState(context.Background(), chs); err != nil {
		t.Fatalf("SetChannelState() error = %v", err)
	}

	w := f.do(t, http.MethodGet, "/api/v1/channels", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	got := decode[struct {
		Channels []kick.Channel `json:"channels"`
		Live     int            `json:"live"`
	}](t, w)
	if len(got.Channels) != 2 || got.Channels[0].Slug != "alpha" {
		t.Fatalf("channels = %+v", got.Channels)
	}
	if got.Live != 1 {
		t.Fatalf("live = %d; want 1", got.Live)
	}
}

func TestWatchListEdits(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/watchlist", `{"slug":"gamma"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add status = %d body=%s", w.Code, w.Body.String())
	}
	res := decode[controller.WatchListResult](t, w)
	if !res.Changed || res.Channels[len(res.Channels)-1] != "gamma" {
		t.Fatalf("add = %+v", res)
	}

	w = f.do(t, http.MethodPost, "/api/v1/watchlist", `{"slug":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank add status = %d; want 400", w.Code)
	}

	w = f.do(t, http.MethodDelete, "/api/v1/watchlist/KYOOTBOT", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d body=%s", w.Code, w.Body.String())
	}
	res = decode[controller.WatchListResult](t, w)
	if !res.Changed || lo.Contains(res.Channels, "kyootbot") {
		t.Fatalf("remove = %+v", res)
	}

	w = f.do(t, http.MethodGet, "/api/v1/watchlist", "")
	list := decode[struct {
		Channels []string `json:"channels"`
	}](t, w)
	if got, want := strings.Join(list.Channels, ","), "brotherzac,gamma"; got != want {
		t.Fatalf("watch-list = %q; want %q", got, want)
	}

	f.poller.mu.Lock()
	defer f.poller.mu.Unlock()
	if got, want := f.poller.triggers, 2; got != want {
		t.Fatalf("triggers = %d; want %d", got, want)
	}
}

func TestRefreshAccepted(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; want 202", w.Code)
	}
	if f.poller.triggers != 1 {
		t.Fatalf("triggers = %d; want 1", f.poller.triggers)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/settings", "")
	if got := decode[store.Settings](t, w); got != store.DefaultSettings() {
		t.Fatalf("settings = %+v; want defaults", got)
	}

	w = f.do(t, http.MethodPatch, "/api/v1/settings", `{"pollingIntervalSeconds":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d body=%s", w.Code, w.Body.String())
	}
	got := decode[store.Settings](t, w)
	if got.PollingIntervalSeconds != 30 || !got.EmbedEnabled {
		t.Fatalf("patched = %+v", got)
	}

	w = f.do(t, http.MethodPatch, "/api/v1/settings", `{"panelPosition":"sideways"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad position status = %d; want 400", w.Code)
	}
}

func TestWatchStatusCodes(t *testing.T) {
	f := newFixture(t)

	if w := f.do(t, http.MethodPost, "/api/v1/watch", `{"slug":"alpha"}`); w.Code != http.StatusBadGateway {
		t.Fatalf("no browser status = %d; want 502", w.Code)
	}

	f.svc.AttachTabs(stubTabs{err: tabs.ErrActivationDisabled})
	if w := f.do(t, http.MethodPost, "/api/v1/watch", `{"slug":"alpha"}`); w.Code != http.StatusConflict {
		t.Fatalf("disabled status = %d; want 409", w.Code)
	}

	f.svc.AttachTabs(stubTabs{})
	w := f.do(t, http.MethodPost, "/api/v1/watch", `{"slug":"alpha"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("watch status = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "https://kick.com/alpha") {
		t.Fatalf("watch body = %s", w.Body.String())
	}
}

func TestWatchTrimsSlugInResponse(t *testing.T) {
	f := newFixture(t)
	f.svc.AttachTabs(stubTabs{})

	w := f.do(t, http.MethodPost, "/api/v1/watch", `{"slug":"  alpha  "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("watch status = %d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		Slug    string `json:"slug"`
		URL     string `json:"url"`
		ChatURL string `json:"chatUrl"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got, want := body.Slug, "alpha"; got != want {
		t.Fatalf("slug = %q; want %q", got, want)
	}
	if got, want := body.URL, "https://kick.com/alpha"; got != want {
		t.Fatalf("url = %q; want %q", got, want)
	}
	if got, want := body.ChatURL, "https://kick.com/popout/alpha/chat"; got != want {
		t.Fatalf("chatUrl = %q; want %q", got, want)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	h := decode[controller.Health](t, w)
	if h.Status != "ok" || h.IntervalSeconds != 60 {
		t.Fatalf("health = %+v", h)
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	events := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}
	if got, want := next(), string(message.TypeGetChannelsResponse); got != want {
		t.Fatalf("first event = %q; want %q", got, want)
	}
	for deadline := time.Now().Add(2 * time.Second); f.broker.Targets() == 0 && time.Now().Before(deadline); {
		time.Sleep(5 * time.Millisecond)
	}
	f.broker.Publish(message.ChannelsUpdated(nil))
	if got, want := next(), string(message.TypeChannelsUpdated); got != want {
		t.Fatalf("second event = %q; want %q", got, want)
	}
}

func TestMapErr(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int
	}{
		{&controller.CodedError{Code: controller.CodeValidation}, http.StatusBadRequest},
		{&controller.CodedError{Code: controller.CodeNotFound}, http.StatusNotFound},
		{&controller.CodedError{Code: controller.CodeActivationDisabled}, http.StatusConflict},
		{&controller.CodedError{Code: controller.CodeCDPUnavailable}, http.StatusBadGateway},
		{&controller.CodedError{Code: controller.CodeStoreFailure}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	} {
		var se huma.StatusError
		if !errors.As(mapErr(tc.err), &se) {
			t.Fatalf("mapErr(%v) is not a huma.StatusError", tc.err)
		}
		if got := se.GetStatus(); got != tc.want {
			t.Fatalf("mapErr(%v) status = %d; want %d", tc.err, got, tc.want)
		}
	}
	if mapErr(nil) != nil {
		t.Fatal("mapErr(nil) != nil")
	}
}
