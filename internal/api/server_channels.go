package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
)

type slugBody struct {
	Slug string `json:"slug" required:"true" doc:"Kick channel slug"`
}

func registerChannelHandlers(api huma.API, svc Service) {
	type channelsOutput struct {
		Body struct {
			Channels []kick.Channel `json:"channels"`
			Live     int            `json:"live"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-channels", Method: http.MethodGet, Path: "/api/v1/channels", Summary: "Get cached channel statuses", Tags: []string{"Channels"}},
		func(ctx context.Context, input *struct{}) (*channelsOutput, error) {
			chs, err := svc.Channels(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &channelsOutput{}
			out.Body.Channels = chs
			out.Body.Live = kick.LiveCount(chs)
			return out, nil
		})

	type watchListOutput struct {
		Body struct {
			Channels []string `json:"channels"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "get-watchlist", Method: http.MethodGet, Path: "/api/v1/watchlist", Summary: "Get watched channel slugs", Tags: []string{"Watch-list"}},
		func(ctx context.Context, input *struct{}) (*watchListOutput, error) {
			list, err := svc.WatchList(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &watchListOutput{}
			out.Body.Channels = list
			return out, nil
		})

	type watchListResultOutput struct {
		Body controller.WatchListResult
	}
	huma.Register(api, huma.Operation{OperationID: "add-channel", Method: http.MethodPost, Path: "/api/v1/watchlist", Summary: "Add a channel to the watch-list", Tags: []string{"Watch-list"}},
		func(ctx context.Context, input *struct{ Body slugBody }) (*watchListResultOutput, error) {
			res, err := svc.AddChannel(ctx, input.Body.Slug)
			if err != nil {
				return nil, mapErr(err)
			}
			return &watchListResultOutput{Body: res}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "remove-channel", Method: http.MethodDelete, Path: "/api/v1/watchlist/{slug}", Summary: "Remove a channel from the watch-list", Tags: []string{"Watch-list"}},
		func(ctx context.Context, input *struct {
			Slug string `path:"slug"`
		}) (*watchListResultOutput, error) {
			res, err := svc.RemoveChannel(ctx, input.Slug)
			if err != nil {
				return nil, mapErr(err)
			}
			return &watchListResultOutput{Body: res}, nil
		})

	type statusOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "refresh", Method: http.MethodPost, Path: "/api/v1/refresh", Summary: "Poll every watched channel now", Tags: []string{"Channels"}, DefaultStatus: http.StatusAccepted},
		func(ctx context.Context, input *struct{}) (*statusOutput, error) {
			svc.Refresh(ctx)
			out := &statusOutput{}
			out.Body.Status = "refreshing"
			return out, nil
		})

	type watchOutput struct {
		Body struct {
			Slug    string `json:"slug"`
			Status  string `json:"status"`
			URL     string `json:"url"`
			ChatURL string `json:"chatUrl"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "watch-channel", Method: http.MethodPost, Path: "/api/v1/watch", Summary: "Open a channel in the browser", Tags: []string{"Channels"}},
		func(ctx context.Context, input *struct{ Body slugBody }) (*watchOutput, error) {
			slug := strings.TrimSpace(input.Body.Slug)
			if err := svc.Watch(ctx, slug); err != nil {
				return nil, mapErr(err)
			}
			out := &watchOutput{}
			out.Body.Slug = slug
			out.Body.Status = "opened"
			out.Body.URL = kick.WatchURL(slug)
			out.Body.ChatURL = kick.ChatURL(slug)
			return out, nil
		})
}
