package groups

import (
	"context"
	"testing"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/hub"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

func TestSetIndicatorSyncsMemberRecord(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	a := env.res.addTab(1, "https://a.test")
	if _, err := env.ctrl.CreateGroup(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.ctrl.SetIndicator(a, indicator.StateStatic); err != nil {
		t.Fatalf("set indicator: %v", err)
	}
	meta, _ := env.ctrl.FindGroupByMainTab(a)
	if meta.MemberStates[a].Indicator != indicator.StateStatic {
		t.Fatalf("member record = %q, want static", meta.MemberStates[a].Indicator)
	}
	if got := env.ind.TabState(a); got != indicator.StateStatic {
		t.Fatalf("machine state = %q, want static", got)
	}

	if err := env.ctrl.SetIndicator(a, indicator.State("sparkle")); err == nil {
		t.Fatal("expected rejection of unknown state")
	}
}

func TestSetGroupIndicator(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	a := env.res.addTab(1, "https://a.test")
	b := env.res.addTab(1, "https://b.test")
	groupID, _ := env.res.GroupTabs(ctx, []int{a, b}, tabs.GroupIDNone)
	if _, err := env.ctrl.AdoptOrphanedGroup(ctx, a, groupID); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	if err := env.ctrl.SetGroupIndicator(a, indicator.StatePulsing); err != nil {
		t.Fatalf("set group indicator: %v", err)
	}
	for _, id := range []int{a, b} {
		if got := env.ind.TabState(id); got != indicator.StatePulsing {
			t.Fatalf("tab %d state = %q, want pulsing", id, got)
		}
	}

	if err := env.ctrl.SetGroupIndicator(b, indicator.StatePulsing); err == nil {
		t.Fatal("expected not-found for non-main tab")
	}
}

func TestHideAndRestoreAroundCapture(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	a := env.res.addTab(1, "https://a.test")
	if _, err := env.ctrl.CreateGroup(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}

	env.ctrl.HideIndicatorForCapture(a)
	if got := env.ctrl.IndicatorState(a); got != indicator.StateHidden {
		t.Fatalf("state during capture = %q", got)
	}
	// Overlapping capture must not clobber the saved state.
	env.ctrl.HideIndicatorForCapture(a)
	env.ctrl.RestoreIndicatorAfterCapture(a)
	if got := env.ctrl.IndicatorState(a); got != indicator.StatePulsing {
		t.Fatalf("state after restore = %q, want pulsing", got)
	}
}

func TestSafetyStatusAggregates(t *testing.T) {
	res := newFakeResource()
	st := newMemStore()
	ind := indicator.New(nil, time.Hour)
	block := blocklist.New(&staticResolver{cats: map[string]blocklist.Category{
		"https://ok.test":     blocklist.CategorySafe,
		"https://risky.test":  blocklist.CategoryCaution,
		"https://banned.test": blocklist.CategoryOrgBlocked,
	}}, time.Minute)
	ctrl := New(res, st, ind, block, hub.New(newFakeSource()), Options{})
	ctx := context.Background()

	a := res.addTab(1, "https://ok.test")
	b := res.addTab(1, "https://risky.test")
	groupID, _ := res.GroupTabs(ctx, []int{a, b}, tabs.GroupIDNone)
	if _, err := ctrl.AdoptOrphanedGroup(ctx, a, groupID); err != nil {
		t.Fatalf("adopt: %v", err)
	}

	status, err := ctrl.SafetyStatus(ctx, a)
	if err != nil {
		t.Fatalf("safety status: %v", err)
	}
	if status.MostRestrictive != blocklist.CategoryCaution {
		t.Fatalf("aggregate = %q, want caution", status.MostRestrictive)
	}

	// A blocked-page member outranks everything regardless of resolver.
	c := res.addTab(1, "https://banned.test/blocked.html?from=x")
	res.moveTab(c, groupID)
	ctrl.handleTabUpdated(tabs.Event{Kind: tabs.EventUpdated, TabID: c, GroupID: groupID, URL: "https://banned.test/blocked.html?from=x"})

	status, err = ctrl.SafetyStatus(ctx, a)
	if err != nil {
		t.Fatalf("safety status: %v", err)
	}
	if status.MostRestrictive != blocklist.CategoryFlagged {
		t.Fatalf("aggregate = %q, want flagged-content", status.MostRestrictive)
	}
	blocked, err := ctrl.BlockedGroupTabs(a)
	if err != nil {
		t.Fatalf("blocked tabs: %v", err)
	}
	if len(blocked) != 1 || blocked[0] != c {
		t.Fatalf("blocked = %v, want [%d]", blocked, c)
	}
}
