package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/kwitch/internal/broadcast"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Service is the daemon surface behind the HTTP API. It also answers
// commands sent over the WebSocket stream.
type Service interface {
	broadcast.CommandHandler

	Channels(ctx context.Context) ([]kick.Channel, error)
	WatchList(ctx context.Context) ([]string, error)
	AddChannel(ctx context.Context, slug string) (controller.WatchListResult, error)
	RemoveChannel(ctx context.Context, slug string) (controller.WatchListResult, error)
	Refresh(ctx context.Context)
	Settings(ctx context.Context) (store.Settings, error)
	UpdateSettings(ctx context.Context, patch store.SettingsPatch) (store.Settings, error)
	Watch(ctx context.Context, slug string) error
	Health(ctx context.Context) controller.Health
}

func NewServer(svc Service, sub broadcast.Subscriber) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Kwitch API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", staticPage(docsHTML))
	router.Get("/docs/events", staticPage(eventsDocsHTML))

	router.Get("/api/v1/events", broadcast.SSEHandler(sub, svc.Channels))
	router.Get("/api/v1/ws", broadcast.WebSocketHandler(sub, svc.Channels, svc))

	registerChannelHandlers(api, svc)
	registerSettingsHandlers(api, svc)

	return router
}

func staticPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *controller.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case controller.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case controller.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case controller.CodeActivationDisabled:
			return huma.Error409Conflict(coded.Message)
		case controller.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
