package groups

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// GetOrCreateMCPContext resolves the shared automation context group:
// the persisted pointer if still live, else a characteristic scan for a
// group matching the managed label and color (skipping dismissed ids),
// else — when createIfEmpty is set — a fresh window whose active tab is
// grouped and tracked.
func (c *Controller) GetOrCreateMCPContext(ctx context.Context, createIfEmpty bool) (*GroupMetadata, error) {
	var savedID int
	if ok, err := c.store.Get(keyMCPGroupID, &savedID); err == nil && ok {
		if meta, err := c.contextFromGroup(ctx, savedID); err == nil {
			return meta, nil
		}
		slog.Debug("persisted context group no longer usable", "group_id", savedID)
	}

	found, err := c.resource.QueryGroups(ctx, tabs.GroupQuery{Title: c.opts.GroupLabel, Color: c.opts.GroupColor})
	if err != nil {
		slog.Debug("context group scan failed", "error", err)
	}
	for _, g := range found {
		if c.isDismissed(g.ID) {
			continue
		}
		meta, err := c.contextFromGroup(ctx, g.ID)
		if err != nil {
			slog.Debug("candidate context group unusable", "group_id", g.ID, "error", err)
			continue
		}
		c.saveContextPointer(g.ID)
		return meta, nil
	}

	if !createIfEmpty {
		return nil, newError(CodeGroupNotFound, "no managed context group found", nil)
	}

	win, err := c.resource.CreateWindow(ctx, "about:blank")
	if err != nil {
		return nil, newError(CodeCreateFailed, "could not create a context window", err)
	}
	meta, err := c.CreateGroup(ctx, win.ActiveTabID)
	if err != nil {
		return nil, err
	}
	c.saveContextPointer(meta.ExternalGroupID)
	slog.Info("context group created", "main_tab", meta.MainTabID, "external_group", meta.ExternalGroupID)
	return meta, nil
}

// contextFromGroup returns tracked metadata for an external group,
// adopting it if the controller does not know it yet.
func (c *Controller) contextFromGroup(ctx context.Context, externalGroupID int) (*GroupMetadata, error) {
	c.mu.Lock()
	if meta := c.findByExternalGroupLocked(externalGroupID); meta != nil {
		cp := meta.clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.mu.Unlock()

	if _, err := c.resource.GetGroup(ctx, externalGroupID); err != nil {
		return nil, err
	}
	members, err := c.resource.QueryTabs(ctx, tabs.Query{GroupID: externalGroupID})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("group %d has no tabs", externalGroupID)
	}
	return c.AdoptOrphanedGroup(ctx, members[0].ID, externalGroupID)
}

func (c *Controller) isDismissed(externalGroupID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dismissed[externalGroupID]
}

func (c *Controller) saveContextPointer(externalGroupID int) {
	if err := c.store.Set(keyMCPGroupID, externalGroupID); err != nil {
		slog.Debug("context pointer write failed", "error", err)
	}
}
