package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/tab_warden/internal/blocklist"
)

type tabCategory struct {
	TabID    int    `json:"tab_id"`
	Category string `json:"category"`
}

type safetyView struct {
	GroupID         int           `json:"group_id"`
	MostRestrictive string        `json:"most_restrictive"`
	Blocked         bool          `json:"blocked"`
	Categories      []tabCategory `json:"categories"`
	FlaggedTabs     []int         `json:"flagged_tabs,omitempty"`
	LastChecked     time.Time     `json:"last_checked"`
}

func toSafetyView(status blocklist.GroupStatus) safetyView {
	view := safetyView{
		GroupID:         status.GroupID,
		MostRestrictive: string(status.MostRestrictive),
		Blocked:         status.MostRestrictive.Blocked(),
		Categories:      make([]tabCategory, 0, len(status.CategoriesByTab)),
		FlaggedTabs:     status.FlaggedTabs,
		LastChecked:     status.LastChecked,
	}
	for tabID, cat := range status.CategoriesByTab {
		view.Categories = append(view.Categories, tabCategory{TabID: tabID, Category: string(cat)})
	}
	sort.Slice(view.Categories, func(i, j int) bool { return view.Categories[i].TabID < view.Categories[j].TabID })
	sort.Ints(view.FlaggedTabs)
	return view
}

func registerSafetyHandlers(api huma.API, svc Service) {
	type safetyOutput struct {
		Body safetyView
	}
	huma.Register(api, huma.Operation{OperationID: "group-safety", Method: http.MethodGet, Path: "/api/v1/groups/{main_tab_id}/safety", Summary: "Aggregate safety status for a session", Tags: []string{"Safety"}},
		func(ctx context.Context, input *mainTabInput) (*safetyOutput, error) {
			status, err := svc.SafetyStatus(ctx, input.MainTabID)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &safetyOutput{}
			out.Body = toSafetyView(status)
			return out, nil
		})

	type blockedOutput struct {
		Body struct {
			TabIDs []int `json:"tab_ids"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "group-blocked-tabs", Method: http.MethodGet, Path: "/api/v1/groups/{main_tab_id}/safety/blocked", Summary: "List members whose category gates automation", Tags: []string{"Safety"}},
		func(ctx context.Context, input *mainTabInput) (*blockedOutput, error) {
			ids, err := svc.BlockedGroupTabs(input.MainTabID)
			if err != nil {
				return nil, mapErr(err)
			}
			sort.Ints(ids)
			out := &blockedOutput{}
			out.Body.TabIDs = ids
			if out.Body.TabIDs == nil {
				out.Body.TabIDs = []int{}
			}
			return out, nil
		})

	type classifyInput struct {
		URL string `query:"url" required:"true" doc:"URL to classify"`
	}
	type classifyOutput struct {
		Body struct {
			URL      string `json:"url"`
			Category string `json:"category"`
			Blocked  bool   `json:"blocked"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "classify-url", Method: http.MethodGet, Path: "/api/v1/safety/classify", Summary: "Classify one URL", Tags: []string{"Safety"}},
		func(ctx context.Context, input *classifyInput) (*classifyOutput, error) {
			cat := svc.ClassifyURL(ctx, input.URL)
			out := &classifyOutput{}
			out.Body.URL = input.URL
			out.Body.Category = string(cat)
			out.Body.Blocked = cat.Blocked()
			return out, nil
		})
}
