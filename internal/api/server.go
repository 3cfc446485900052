package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/groups"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	CreateGroup(ctx context.Context, tabID int) (*groups.GroupMetadata, error)
	AdoptOrphanedGroup(ctx context.Context, tabID, externalGroupID int) (*groups.GroupMetadata, error)
	DeleteGroup(ctx context.Context, mainTabID int, dismiss bool) error
	PromoteToMainTab(oldMain, newMain int) error
	AllGroups() []*groups.GroupMetadata
	FindGroupByMainTab(mainTabID int) (*groups.GroupMetadata, bool)
	ValidTabsWithMetadata(ctx context.Context, mainTabID int) ([]groups.ValidTab, error)
	EffectiveTabID(requested, current int) (int, error)
	MarkGroupDismissed(externalGroupID int)
	GetOrCreateMCPContext(ctx context.Context, createIfEmpty bool) (*groups.GroupMetadata, error)
	Reconcile(ctx context.Context) error

	SetIndicator(tabID int, state indicator.State) error
	SetGroupIndicator(mainTabID int, state indicator.State) error
	HideIndicatorForCapture(tabID int)
	RestoreIndicatorAfterCapture(tabID int)
	IndicatorState(tabID int) indicator.State

	SafetyStatus(ctx context.Context, mainTabID int) (blocklist.GroupStatus, error)
	BlockedGroupTabs(mainTabID int) ([]int, error)
	ClassifyURL(ctx context.Context, url string) blocklist.Category
}

type mainTabInput struct {
	MainTabID int `path:"main_tab_id"`
}

type tabIDInput struct {
	TabID int `path:"tab_id"`
}

type memberView struct {
	TabID      int    `json:"tab_id"`
	Indicator  string `json:"indicator"`
	AgentOwned bool   `json:"agent_owned"`
	IsMain     bool   `json:"is_main"`
}

type groupView struct {
	MainTabID       int          `json:"main_tab_id"`
	ExternalGroupID int          `json:"external_group_id"`
	Domain          string       `json:"domain,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	Members         []memberView `json:"members"`
}

func toGroupView(meta *groups.GroupMetadata) groupView {
	view := groupView{
		MainTabID:       meta.MainTabID,
		ExternalGroupID: meta.ExternalGroupID,
		Domain:          meta.Domain,
		CreatedAt:       meta.CreatedAt,
		Members:         make([]memberView, 0, len(meta.MemberStates)),
	}
	for tabID, ms := range meta.MemberStates {
		view.Members = append(view.Members, memberView{
			TabID:      tabID,
			Indicator:  string(ms.Indicator),
			AgentOwned: ms.AgentOwned,
			IsMain:     tabID == meta.MainTabID,
		})
	}
	sort.Slice(view.Members, func(i, j int) bool { return view.Members[i].TabID < view.Members[j].TabID })
	return view
}

type groupOutput struct {
	Body groupView
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Tab Warden API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerGroupHandlers(api, svc)
	registerIndicatorHandlers(api, svc)
	registerSafetyHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *groups.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case groups.CodeValidation, groups.CodeTabNotInGroup:
			return huma.Error400BadRequest(coded.Message)
		case groups.CodeGroupNotFound:
			return huma.Error404NotFound(coded.Message)
		case groups.CodeCreateFailed:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	var bridge *tabs.BridgeError
	if errors.As(err, &bridge) {
		switch bridge.Code {
		case tabs.CodeTabNotFound, tabs.CodeGroupNotFound:
			return huma.Error404NotFound(bridge.Message)
		case tabs.CodeBridgeGone:
			return huma.Error502BadGateway(bridge.Message)
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
