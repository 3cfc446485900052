package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "resolve-context", Method: http.MethodPost, Path: "/api/v1/context", Summary: "Resolve or create the shared automation context group", Tags: []string{"Context"}},
		func(ctx context.Context, input *struct {
			Body struct {
				CreateIfEmpty bool `json:"create_if_empty"`
			}
		}) (*groupOutput, error) {
			meta, err := svc.GetOrCreateMCPContext(ctx, input.Body.CreateIfEmpty)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &groupOutput{}
			out.Body = toGroupView(meta)
			return out, nil
		})

	type reconcileOutput struct {
		Body struct {
			Reconciled bool `json:"reconciled"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "reconcile", Method: http.MethodPost, Path: "/api/v1/reconcile", Summary: "Reconcile tracked groups against the browser", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct{}) (*reconcileOutput, error) {
			if err := svc.Reconcile(ctx); err != nil {
				return nil, mapErr(err)
			}
			out := &reconcileOutput{}
			out.Body.Reconciled = true
			return out, nil
		})
}
