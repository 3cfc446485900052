package groups

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// Reconcile walks every tracked group and corrects drift against the
// browser: groups whose external group or main tab is gone (or whose
// main tab moved) are dropped whole; members no longer in the external
// group are pruned. Reconcile never adds members and is idempotent —
// a second pass over an unchanged browser mutates nothing.
func (c *Controller) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	mains := make([]int, 0, len(c.groups))
	for id := range c.groups {
		mains = append(mains, id)
	}
	c.mu.Unlock()

	changed := false
	for _, main := range mains {
		c.mu.Lock()
		meta, ok := c.groups[main]
		if !ok || c.processing[main] {
			// Gone, or mid displacement recovery: the recovery path
			// re-derives this group's state itself.
			c.mu.Unlock()
			continue
		}
		external := meta.ExternalGroupID
		c.mu.Unlock()

		if _, err := c.resource.GetGroup(ctx, external); err != nil {
			if tabs.IsTransient(err) {
				c.dropGroup(main, "external group gone")
				changed = true
			}
			// Bridge failures keep the last-known view.
			continue
		}

		mainTab, err := c.resource.GetTab(ctx, main)
		if err != nil {
			if tabs.IsTransient(err) {
				c.dropGroup(main, "main tab gone")
				changed = true
			}
			continue
		}
		if mainTab.GroupID != external {
			c.dropGroup(main, "main tab moved out")
			changed = true
			continue
		}

		current, err := c.resource.QueryTabs(ctx, tabs.Query{GroupID: external})
		if err != nil {
			continue
		}
		present := make(map[int]bool, len(current))
		for _, t := range current {
			present[t.ID] = true
		}

		c.mu.Lock()
		meta, ok = c.groups[main]
		if !ok {
			c.mu.Unlock()
			continue
		}
		var pruned []int
		for id := range meta.MemberStates {
			if id != main && !present[id] {
				delete(meta.MemberStates, id)
				pruned = append(pruned, id)
			}
		}
		c.mu.Unlock()

		for _, id := range pruned {
			c.ind.SetTabState(id, indicator.StateNone, false)
			c.block.RemoveTab(external, id)
			slog.Info("reconcile: pruned member", "tab_id", id, "external_group", external)
			changed = true
		}
	}

	if changed {
		c.persist()
	}
	return nil
}

// dropGroup removes a tracked group and all derived state. Callers
// persist afterwards.
func (c *Controller) dropGroup(main int, reason string) {
	c.mu.Lock()
	meta, ok := c.groups[main]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.groups, main)
	if p, ok := c.pendingRegroups[main]; ok {
		p.timer.Stop()
		delete(c.pendingRegroups, main)
	}
	delete(c.processing, main)
	external := meta.ExternalGroupID
	memberIDs := meta.TabIDs()
	c.mu.Unlock()

	for _, id := range memberIDs {
		c.ind.SetTabState(id, indicator.StateNone, false)
	}
	c.block.EvictGroup(external)
	slog.Info("group dropped", "main_tab", main, "external_group", external, "reason", reason)
}

// findByTabLocked returns the tracked group containing tabID. Caller
// holds c.mu.
func (c *Controller) findByTabLocked(tabID int) *GroupMetadata {
	for _, meta := range c.groups {
		if _, ok := meta.MemberStates[tabID]; ok {
			return meta
		}
	}
	return nil
}

// findByExternalGroupLocked returns the tracked group with the given
// external id. Caller holds c.mu.
func (c *Controller) findByExternalGroupLocked(externalGroupID int) *GroupMetadata {
	for _, meta := range c.groups {
		if meta.ExternalGroupID == externalGroupID {
			return meta
		}
	}
	return nil
}
