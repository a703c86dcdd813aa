package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/store"
)

func registerSettingsHandlers(api huma.API, svc Service) {
	type settingsOutput struct {
		Body store.Settings
	}
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get settings merged over defaults", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			s, err := svc.Settings(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: s}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "update-settings", Method: http.MethodPatch, Path: "/api/v1/settings", Summary: "Update some settings", Tags: []string{"Settings"}},
		func(ctx context.Context, input *struct{ Body store.SettingsPatch }) (*settingsOutput, error) {
			s, err := svc.UpdateSettings(ctx, input.Body)
			if err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: s}, nil
		})

	type healthOutput struct {
		Body controller.Health
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Daemon status", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			return &healthOutput{Body: svc.Health(ctx)}, nil
		})
}
