package groups

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// regroupMaxRetries bounds timer-driven regroup attempts after a
// displacement collides with an in-progress drag. One best-effort
// attempt follows exhaustion before the group is abandoned.
const regroupMaxRetries = 5

// pendingRegroup is a deferred displacement recovery for one main tab.
type pendingRegroup struct {
	tabID           int
	originalGroupID int
	indicatorState  indicator.State
	meta            *GroupMetadata
	attempts        int
	timer           *time.Timer
}

// handleTabUpdated arbitrates membership from group id changes. A tab
// moving between tracked groups produces a removal from one and an
// addition to the other from the same event.
func (c *Controller) handleTabUpdated(ev tabs.Event) {
	c.mu.Lock()

	// A pending recovery is cancelled when the tab reappears in its
	// original group: the user or browser put it back themselves.
	if p, ok := c.pendingRegroups[ev.TabID]; ok && ev.GroupID == p.originalGroupID {
		p.timer.Stop()
		delete(c.pendingRegroups, ev.TabID)
		delete(c.processing, ev.TabID)
		c.mu.Unlock()
		slog.Info("pending regroup cancelled, tab returned to group", "tab_id", ev.TabID, "external_group", ev.GroupID)
		return
	}

	meta := c.findByTabLocked(ev.TabID)
	var (
		removedFrom  = tabs.GroupIDNone
		displaced    *GroupMetadata
		urlChanged   bool
		currentGroup = tabs.GroupIDNone
	)
	switch {
	case meta == nil:
		// untracked; may still be joining a tracked group below
	case ev.GroupID == meta.ExternalGroupID:
		urlChanged = ev.URL != ""
		currentGroup = meta.ExternalGroupID
	case ev.TabID == meta.MainTabID:
		// Main tab left its group: displacement, not removal. A second
		// notification while recovery runs is a no-op.
		if c.processing[ev.TabID] {
			c.mu.Unlock()
			return
		}
		c.processing[ev.TabID] = true
		displaced = meta
	default:
		delete(meta.MemberStates, ev.TabID)
		removedFrom = meta.ExternalGroupID
	}

	// Addition: the event's group id matches a tracked group the tab is
	// not yet a member of.
	addedTo := tabs.GroupIDNone
	if displaced == nil && ev.GroupID != tabs.GroupIDNone {
		if target := c.findByExternalGroupLocked(ev.GroupID); target != nil {
			if _, ok := target.MemberStates[ev.TabID]; !ok {
				target.MemberStates[ev.TabID] = &MemberState{Indicator: indicator.StateStatic}
				addedTo = ev.GroupID
			}
		}
	}
	c.mu.Unlock()

	if displaced != nil {
		slog.Warn("main tab displaced from group", "tab_id", ev.TabID, "external_group", displaced.ExternalGroupID)
		c.recoverDisplacedMain(displaced)
		return
	}

	changed := false
	if removedFrom != tabs.GroupIDNone {
		c.ind.SetTabState(ev.TabID, indicator.StateNone, false)
		c.block.RemoveTab(removedFrom, ev.TabID)
		slog.Info("tab left group", "tab_id", ev.TabID, "external_group", removedFrom)
		changed = true
	}
	if addedTo != tabs.GroupIDNone {
		c.ind.SetTabState(ev.TabID, indicator.StateStatic, false)
		slog.Info("tab joined group", "tab_id", ev.TabID, "external_group", addedTo)
		currentGroup = addedTo
		changed = true
	}
	if currentGroup != tabs.GroupIDNone && (urlChanged || addedTo != tabs.GroupIDNone) {
		ctx, cancel := c.callCtx()
		c.block.UpdateTabStatus(ctx, currentGroup, ev.TabID, ev.URL)
		cancel()
	}
	if changed {
		c.persist()
	}
}

// handleTabRemoved ends the session when the main tab closes, or prunes
// a member otherwise.
func (c *Controller) handleTabRemoved(ev tabs.Event) {
	c.mu.Lock()
	if p, ok := c.pendingRegroups[ev.TabID]; ok {
		p.timer.Stop()
		delete(c.pendingRegroups, ev.TabID)
		delete(c.processing, ev.TabID)
	}

	if meta, ok := c.groups[ev.TabID]; ok {
		delete(c.groups, ev.TabID)
		external := meta.ExternalGroupID
		memberIDs := meta.TabIDs()
		c.mu.Unlock()

		for _, id := range memberIDs {
			c.ind.Forget(id)
		}
		c.block.EvictGroup(external)
		c.persist()
		slog.Info("main tab closed, group dropped", "main_tab", ev.TabID, "external_group", external)
		return
	}

	meta := c.findByTabLocked(ev.TabID)
	if meta == nil {
		c.mu.Unlock()
		return
	}
	delete(meta.MemberStates, ev.TabID)
	external := meta.ExternalGroupID
	c.mu.Unlock()

	c.ind.Forget(ev.TabID)
	c.block.RemoveTab(external, ev.TabID)
	c.persist()
	slog.Info("member tab closed", "tab_id", ev.TabID, "external_group", external)
}

// handleTabActivated re-sends the indicator so the freshly shown page
// renders its current state.
func (c *Controller) handleTabActivated(ev tabs.Event) {
	c.mu.Lock()
	tracked := c.findByTabLocked(ev.TabID) != nil
	c.mu.Unlock()
	if tracked {
		c.ind.Refresh(ev.TabID)
	}
}

// --- displacement recovery ---

// recoverDisplacedMain moves a displaced main tab into a fresh group.
// Caller has already set the processing guard for meta.MainTabID.
func (c *Controller) recoverDisplacedMain(meta *GroupMetadata) {
	main := meta.MainTabID
	prev := c.ind.TabState(main)
	if prev == indicator.StateNone || prev == indicator.StateHidden {
		prev = indicator.StatePulsing
	}

	ctx, cancel := c.callCtx()
	defer cancel()

	newID, err := c.resource.GroupTabs(ctx, []int{main}, tabs.GroupIDNone)
	if err == nil {
		c.finishRegroup(ctx, meta, main, newID, prev)
		return
	}
	if tabs.IsDragging(err) {
		c.deferRegroup(meta, main, prev)
		return
	}

	slog.Warn("abandoning group, main tab recovery failed", "main_tab", main, "error", err)
	c.dropGroup(main, "recovery failed")
	c.persist()
}

// finishRegroup re-points the metadata at the replacement group and
// restores the main tab's indicator. Members left behind in the old
// group are pruned by the next reconcile.
func (c *Controller) finishRegroup(ctx context.Context, meta *GroupMetadata, main, newID int, prev indicator.State) {
	c.mu.Lock()
	cur, tracked := c.groups[main]
	tracked = tracked && cur == meta
	if tracked {
		c.block.EvictGroup(meta.ExternalGroupID)
		meta.ExternalGroupID = newID
	}
	if p, ok := c.pendingRegroups[main]; ok {
		p.timer.Stop()
		delete(c.pendingRegroups, main)
	}
	delete(c.processing, main)
	c.mu.Unlock()

	if !tracked {
		// The group was dropped while the regroup call was in flight;
		// its indicators are already cleared. Nothing to restore.
		slog.Info("late regroup ignored, group no longer tracked", "main_tab", main, "external_group", newID)
		return
	}

	c.applyGroupStyle(ctx, newID)
	c.ind.SetTabState(main, prev, true)
	c.persist()
	slog.Info("main tab regrouped", "main_tab", main, "external_group", newID)
}

// deferRegroup schedules a retry after a drag collision.
func (c *Controller) deferRegroup(meta *GroupMetadata, main int, prev indicator.State) {
	c.mu.Lock()
	if _, ok := c.pendingRegroups[main]; ok {
		c.mu.Unlock()
		return
	}
	p := &pendingRegroup{
		tabID:           main,
		originalGroupID: meta.ExternalGroupID,
		indicatorState:  prev,
		meta:            meta,
	}
	p.timer = time.AfterFunc(c.opts.RegroupDelay, func() { c.retryRegroup(main) })
	c.pendingRegroups[main] = p
	c.mu.Unlock()
	slog.Info("regroup deferred, tab is being dragged", "main_tab", main)
}

// retryRegroup is the timer body for a deferred recovery.
func (c *Controller) retryRegroup(main int) {
	c.mu.Lock()
	p, ok := c.pendingRegroups[main]
	if !ok {
		c.mu.Unlock()
		return
	}
	p.attempts++
	attempts := p.attempts
	meta, prev := p.meta, p.indicatorState
	c.mu.Unlock()

	ctx, cancel := c.callCtx()
	defer cancel()

	newID, err := c.resource.GroupTabs(ctx, []int{main}, tabs.GroupIDNone)
	if err == nil {
		c.finishRegroup(ctx, meta, main, newID, prev)
		return
	}

	if attempts < regroupMaxRetries && tabs.IsDragging(err) {
		c.mu.Lock()
		if p2, ok := c.pendingRegroups[main]; ok {
			p2.timer = time.AfterFunc(c.opts.RegroupDelay, func() { c.retryRegroup(main) })
		}
		c.mu.Unlock()
		return
	}

	// Budget exhausted or a different failure: one last try, then the
	// group is abandoned rather than left half-tracked.
	if newID, ferr := c.resource.GroupTabs(ctx, []int{main}, tabs.GroupIDNone); ferr == nil {
		c.finishRegroup(ctx, meta, main, newID, prev)
		return
	}
	slog.Warn("abandoning group after exhausted regroup retries", "main_tab", main, "attempts", attempts, "error", err)
	c.dropGroup(main, "regroup retries exhausted")
	c.persist()
}

func (c *Controller) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.CallTimeout)
}
