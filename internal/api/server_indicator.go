package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
)

func registerIndicatorHandlers(api huma.API, svc Service) {
	type indicatorOutput struct {
		Body struct {
			TabID int    `json:"tab_id"`
			State string `json:"state"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "get-indicator", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/indicator", Summary: "Get a tab's indicator state", Tags: []string{"Indicator"}},
		func(ctx context.Context, input *tabIDInput) (*indicatorOutput, error) {
			out := &indicatorOutput{}
			out.Body.TabID = input.TabID
			out.Body.State = string(svc.IndicatorState(input.TabID))
			return out, nil
		})

	type setIndicatorInput struct {
		TabID int `path:"tab_id"`
		Body  struct {
			State string `json:"state" enum:"none,pulsing,static,hidden_for_screenshot"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-indicator", Method: http.MethodPut, Path: "/api/v1/tabs/{tab_id}/indicator", Summary: "Set a tab's indicator state", Tags: []string{"Indicator"}},
		func(ctx context.Context, input *setIndicatorInput) (*indicatorOutput, error) {
			if err := svc.SetIndicator(input.TabID, indicator.State(input.Body.State)); err != nil {
				return nil, mapErr(err)
			}
			out := &indicatorOutput{}
			out.Body.TabID = input.TabID
			out.Body.State = input.Body.State
			return out, nil
		})

	type setGroupIndicatorInput struct {
		MainTabID int `path:"main_tab_id"`
		Body      struct {
			State string `json:"state" enum:"none,pulsing,static,hidden_for_screenshot"`
		}
	}
	type groupIndicatorOutput struct {
		Body struct {
			MainTabID int    `json:"main_tab_id"`
			State     string `json:"state"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "set-group-indicator", Method: http.MethodPut, Path: "/api/v1/groups/{main_tab_id}/indicator", Summary: "Set every member's indicator state", Tags: []string{"Indicator"}},
		func(ctx context.Context, input *setGroupIndicatorInput) (*groupIndicatorOutput, error) {
			if err := svc.SetGroupIndicator(input.MainTabID, indicator.State(input.Body.State)); err != nil {
				return nil, mapErr(err)
			}
			out := &groupIndicatorOutput{}
			out.Body.MainTabID = input.MainTabID
			out.Body.State = input.Body.State
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "hide-indicator", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/indicator/hide", Summary: "Hide the indicator for a capture", Tags: []string{"Indicator"}},
		func(ctx context.Context, input *tabIDInput) (*indicatorOutput, error) {
			svc.HideIndicatorForCapture(input.TabID)
			out := &indicatorOutput{}
			out.Body.TabID = input.TabID
			out.Body.State = string(svc.IndicatorState(input.TabID))
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "restore-indicator", Method: http.MethodPost, Path: "/api/v1/tabs/{tab_id}/indicator/restore", Summary: "Restore the indicator after a capture", Tags: []string{"Indicator"}},
		func(ctx context.Context, input *tabIDInput) (*indicatorOutput, error) {
			svc.RestoreIndicatorAfterCapture(input.TabID)
			out := &indicatorOutput{}
			out.Body.TabID = input.TabID
			out.Body.State = string(svc.IndicatorState(input.TabID))
			return out, nil
		})
}
