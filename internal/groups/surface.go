package groups

import (
	"context"
	"fmt"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// SetIndicator sets one tab's indicator, keeping the tracked member
// record in sync when the tab belongs to a session.
func (c *Controller) SetIndicator(tabID int, state indicator.State) error {
	if !state.Valid() {
		return newError(CodeValidation, fmt.Sprintf("unknown indicator state %q", state), nil)
	}

	c.mu.Lock()
	tracked := false
	if meta := c.findByTabLocked(tabID); meta != nil {
		ms := meta.MemberStates[tabID]
		ms.Indicator = state
		ms.AgentOwned = true
		tracked = true
	}
	c.mu.Unlock()

	c.ind.SetTabState(tabID, state, true)
	if tracked {
		c.persist()
	}
	return nil
}

// SetGroupIndicator applies one indicator state to every member of a
// tracked session.
func (c *Controller) SetGroupIndicator(mainTabID int, state indicator.State) error {
	if !state.Valid() {
		return newError(CodeValidation, fmt.Sprintf("unknown indicator state %q", state), nil)
	}

	c.mu.Lock()
	meta, ok := c.groups[mainTabID]
	if !ok {
		c.mu.Unlock()
		return newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", mainTabID), nil)
	}
	for _, ms := range meta.MemberStates {
		ms.Indicator = state
		ms.AgentOwned = true
	}
	memberIDs := meta.TabIDs()
	c.mu.Unlock()

	c.ind.SetGroupState(memberIDs, state)
	c.persist()
	return nil
}

// HideIndicatorForCapture suppresses a tab's indicator ahead of a
// screenshot.
func (c *Controller) HideIndicatorForCapture(tabID int) {
	c.ind.HideForCapture(tabID)
}

// RestoreIndicatorAfterCapture brings the indicator back once the
// capture completed.
func (c *Controller) RestoreIndicatorAfterCapture(tabID int) {
	c.ind.RestoreAfterCapture(tabID)
}

// IndicatorState returns a tab's current indicator state.
func (c *Controller) IndicatorState(tabID int) indicator.State {
	return c.ind.TabState(tabID)
}

// SafetyStatus returns the aggregate safety view of a session, sweeping
// current member URLs so a stale cache is refreshed.
func (c *Controller) SafetyStatus(ctx context.Context, mainTabID int) (blocklist.GroupStatus, error) {
	c.mu.Lock()
	meta, ok := c.groups[mainTabID]
	if !ok {
		c.mu.Unlock()
		return blocklist.GroupStatus{}, newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", mainTabID), nil)
	}
	external := meta.ExternalGroupID
	c.mu.Unlock()

	var members map[int]string
	if current, err := c.resource.QueryTabs(ctx, tabs.Query{GroupID: external}); err == nil {
		members = make(map[int]string, len(current))
		for _, t := range current {
			members[t.ID] = t.URL
		}
	}
	return c.block.GroupStatus(ctx, external, members), nil
}

// BlockedGroupTabs returns the session members whose category gates
// automation, from cached state.
func (c *Controller) BlockedGroupTabs(mainTabID int) ([]int, error) {
	c.mu.Lock()
	meta, ok := c.groups[mainTabID]
	if !ok {
		c.mu.Unlock()
		return nil, newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", mainTabID), nil)
	}
	external := meta.ExternalGroupID
	c.mu.Unlock()

	return c.block.BlockedTabs(external), nil
}

// ClassifyURL resolves the safety category for a URL.
func (c *Controller) ClassifyURL(ctx context.Context, url string) blocklist.Category {
	return c.block.Classify(ctx, url)
}
