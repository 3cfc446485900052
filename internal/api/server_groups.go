package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tab_warden/internal/groups"
)

func registerGroupHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "create-group", Method: http.MethodPost, Path: "/api/v1/groups", Summary: "Create a session group anchored at a tab", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct {
			Body struct {
				TabID int `json:"tab_id" doc:"Tab to anchor the session at"`
			}
		}) (*groupOutput, error) {
			meta, err := svc.CreateGroup(ctx, input.Body.TabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &groupOutput{}
			out.Body = toGroupView(meta)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "adopt-group", Method: http.MethodPost, Path: "/api/v1/groups/adopt", Summary: "Adopt an existing browser group", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct {
			Body struct {
				TabID           int `json:"tab_id" doc:"Member tab that becomes the main tab"`
				ExternalGroupID int `json:"external_group_id"`
			}
		}) (*groupOutput, error) {
			meta, err := svc.AdoptOrphanedGroup(ctx, input.Body.TabID, input.Body.ExternalGroupID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &groupOutput{}
			out.Body = toGroupView(meta)
			return out, nil
		})

	type groupListOutput struct {
		Body struct {
			Groups []groupView `json:"groups"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-groups", Method: http.MethodGet, Path: "/api/v1/groups", Summary: "List tracked session groups", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct{}) (*groupListOutput, error) {
			out := &groupListOutput{}
			out.Body.Groups = []groupView{}
			for _, meta := range svc.AllGroups() {
				out.Body.Groups = append(out.Body.Groups, toGroupView(meta))
			}
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-group", Method: http.MethodGet, Path: "/api/v1/groups/{main_tab_id}", Summary: "Get one session group", Tags: []string{"Groups"}},
		func(ctx context.Context, input *mainTabInput) (*groupOutput, error) {
			meta, ok := svc.FindGroupByMainTab(input.MainTabID)
			if !ok {
				return nil, huma.Error404NotFound("no tracked group for that main tab")
			}
			out := &groupOutput{}
			out.Body = toGroupView(meta)
			return out, nil
		})

	type deleteGroupInput struct {
		MainTabID int  `path:"main_tab_id"`
		Dismiss   bool `query:"dismiss" doc:"Record the group so future context scans skip it"`
	}
	type deletedOutput struct {
		Body struct {
			Deleted bool `json:"deleted"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-group", Method: http.MethodDelete, Path: "/api/v1/groups/{main_tab_id}", Summary: "End a session group", Tags: []string{"Groups"}},
		func(ctx context.Context, input *deleteGroupInput) (*deletedOutput, error) {
			if err := svc.DeleteGroup(ctx, input.MainTabID, input.Dismiss); err != nil {
				return nil, mapErr(err)
			}
			out := &deletedOutput{}
			out.Body.Deleted = true
			return out, nil
		})

	type promoteInput struct {
		MainTabID int `path:"main_tab_id"`
		Body      struct {
			NewMainTabID int `json:"new_main_tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "promote-main-tab", Method: http.MethodPost, Path: "/api/v1/groups/{main_tab_id}/promote", Summary: "Promote a member to main tab", Tags: []string{"Groups"}},
		func(ctx context.Context, input *promoteInput) (*groupOutput, error) {
			if err := svc.PromoteToMainTab(input.MainTabID, input.Body.NewMainTabID); err != nil {
				return nil, mapErr(err)
			}
			meta, ok := svc.FindGroupByMainTab(input.Body.NewMainTabID)
			if !ok {
				return nil, huma.Error500InternalServerError("promoted group vanished")
			}
			out := &groupOutput{}
			out.Body = toGroupView(meta)
			return out, nil
		})

	type validTabsOutput struct {
		Body struct {
			Tabs []groups.ValidTab `json:"tabs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-group-tabs", Method: http.MethodGet, Path: "/api/v1/groups/{main_tab_id}/tabs", Summary: "List a session's member tabs", Tags: []string{"Groups"}},
		func(ctx context.Context, input *mainTabInput) (*validTabsOutput, error) {
			tabs, err := svc.ValidTabsWithMetadata(ctx, input.MainTabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &validTabsOutput{}
			out.Body.Tabs = tabs
			return out, nil
		})

	type resolveTabOutput struct {
		Body struct {
			TabID int `json:"tab_id"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "resolve-tab", Method: http.MethodPost, Path: "/api/v1/tabs/resolve", Summary: "Resolve an effective tab id for automation", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct {
			Body struct {
				RequestedTabID int `json:"requested_tab_id" doc:"Caller-supplied tab id; zero or below means current"`
				CurrentTabID   int `json:"current_tab_id"`
			}
		}) (*resolveTabOutput, error) {
			id, err := svc.EffectiveTabID(input.Body.RequestedTabID, input.Body.CurrentTabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &resolveTabOutput{}
			out.Body.TabID = id
			return out, nil
		})

	type dismissedOutput struct {
		Body struct {
			Dismissed bool `json:"dismissed"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "dismiss-group", Method: http.MethodPost, Path: "/api/v1/groups/dismissed", Summary: "Mark an external group as dismissed", Tags: []string{"Groups"}},
		func(ctx context.Context, input *struct {
			Body struct {
				ExternalGroupID int `json:"external_group_id"`
			}
		}) (*dismissedOutput, error) {
			svc.MarkGroupDismissed(input.Body.ExternalGroupID)
			out := &dismissedOutput{}
			out.Body.Dismissed = true
			return out, nil
		})
}
