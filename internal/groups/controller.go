// Package groups owns tab session metadata and keeps it reconciled
// against the browser's own tab/group state, which users mutate
// independently at any time. Every bridge call is a suspension point;
// correctness comes from idempotent operations, per-key guard sets,
// and the reconcile sweep, not from locks around external calls.
package groups

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/hub"
	"github.com/dgnsrekt/tab_warden/internal/indicator"
	"github.com/dgnsrekt/tab_warden/internal/retry"
	"github.com/dgnsrekt/tab_warden/internal/store"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// Options tunes the controller.
type Options struct {
	GroupLabel   string
	GroupColor   string
	CreateRetry  retry.Policy
	RegroupDelay time.Duration
	CallTimeout  time.Duration
}

func (o *Options) applyDefaults() {
	if o.GroupLabel == "" {
		o.GroupLabel = "Agent"
	}
	if o.GroupColor == "" {
		o.GroupColor = "blue"
	}
	if o.CreateRetry.Attempts == 0 {
		o.CreateRetry = retry.Policy{Attempts: 3, Delay: 250 * time.Millisecond}
	}
	if o.RegroupDelay == 0 {
		o.RegroupDelay = 500 * time.Millisecond
	}
	if o.CallTimeout == 0 {
		o.CallTimeout = 10 * time.Second
	}
}

// Controller is the tab group controller.
type Controller struct {
	resource tabs.Resource
	store    store.Store
	ind      *indicator.Machine
	block    *blocklist.Aggregator
	events   *hub.Hub
	opts     Options

	mu              sync.Mutex
	groups          map[int]*GroupMetadata // mainTabID → metadata
	dismissed       map[int]bool           // external group ids
	processing      map[int]bool           // mainTabID mid displacement recovery
	pendingRegroups map[int]*pendingRegroup
	subIDs          []string
}

// New creates a Controller. Call Start to load persisted state and
// begin consuming events.
func New(resource tabs.Resource, st store.Store, ind *indicator.Machine, block *blocklist.Aggregator, events *hub.Hub, opts Options) *Controller {
	opts.applyDefaults()
	return &Controller{
		resource:        resource,
		store:           st,
		ind:             ind,
		block:           block,
		events:          events,
		opts:            opts,
		groups:          make(map[int]*GroupMetadata),
		dismissed:       make(map[int]bool),
		processing:      make(map[int]bool),
		pendingRegroups: make(map[int]*pendingRegroup),
	}
}

// Start loads persisted metadata, reconciles it against the browser,
// and subscribes to tab lifecycle events.
func (c *Controller) Start(ctx context.Context) error {
	var persisted map[int]*GroupMetadata
	if _, err := c.store.Get(keyTabGroups, &persisted); err != nil {
		slog.Warn("could not load persisted groups, starting empty", "error", err)
	}
	var dismissed []int
	if _, err := c.store.Get(keyDismissedGroups, &dismissed); err != nil {
		slog.Debug("could not load dismissed groups", "error", err)
	}

	c.mu.Lock()
	for main, meta := range persisted {
		if meta == nil || meta.MemberStates == nil {
			continue
		}
		meta.MainTabID = main
		c.groups[main] = meta
	}
	for _, id := range dismissed {
		c.dismissed[id] = true
	}
	c.mu.Unlock()

	// Persisted state is a snapshot of a browser that has moved on;
	// re-derive truth before serving any reads.
	if err := c.Reconcile(ctx); err != nil {
		slog.Warn("initial reconcile failed", "error", err)
	}

	c.events.SetRelevantTabs(c.relevantTabs)
	c.events.SetRelevantGroups(c.relevantGroups)
	kinds := []struct {
		kind tabs.EventKind
		fn   hub.Callback
	}{
		{tabs.EventUpdated, c.handleTabUpdated},
		{tabs.EventRemoved, c.handleTabRemoved},
		{tabs.EventActivated, c.handleTabActivated},
	}
	for _, k := range kinds {
		id := c.events.Subscribe(hub.ScopeTracked, []tabs.EventKind{k.kind}, k.fn)
		c.mu.Lock()
		c.subIDs = append(c.subIDs, id)
		c.mu.Unlock()
	}

	slog.Info("group controller started", "tracked_groups", c.groupCount())
	return nil
}

// Stop unsubscribes from events and cancels pending recovery timers.
func (c *Controller) Stop() {
	c.mu.Lock()
	subIDs := c.subIDs
	c.subIDs = nil
	for _, p := range c.pendingRegroups {
		p.timer.Stop()
	}
	c.pendingRegroups = make(map[int]*pendingRegroup)
	c.mu.Unlock()

	for _, id := range subIDs {
		c.events.Unsubscribe(id)
	}
}

func (c *Controller) groupCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.groups)
}

// relevantTabs is the hub's relevance hook: all tracked members plus
// tabs with a recovery in flight.
func (c *Controller) relevantTabs() map[int]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]struct{})
	for _, meta := range c.groups {
		for id := range meta.MemberStates {
			out[id] = struct{}{}
		}
	}
	for id := range c.pendingRegroups {
		out[id] = struct{}{}
	}
	return out
}

// relevantGroups is the hub's group-relevance hook. An updated event
// whose group id matches a tracked external group is a join by a tab
// the controller has never seen; it must not be filtered out on tab id.
func (c *Controller) relevantGroups() map[int]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]struct{}, len(c.groups))
	for _, meta := range c.groups {
		out[meta.ExternalGroupID] = struct{}{}
	}
	for _, p := range c.pendingRegroups {
		out[p.originalGroupID] = struct{}{}
	}
	return out
}

// --- creation / adoption / deletion ---

// CreateGroup designates tabID as a session anchor. Idempotent: if the
// tab is already a tracked main tab the existing group is returned.
func (c *Controller) CreateGroup(ctx context.Context, tabID int) (*GroupMetadata, error) {
	c.mu.Lock()
	if meta, ok := c.groups[tabID]; ok {
		cp := meta.clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.mu.Unlock()

	tab, err := c.resource.GetTab(ctx, tabID)
	if err != nil {
		return nil, newError(CodeValidation, fmt.Sprintf("tab %d is not available", tabID), err)
	}

	if tab.GroupID != tabs.GroupIDNone && !c.tracksExternalGroup(tab.GroupID) {
		// Pull the tab out of whatever unmanaged group it sits in so
		// the fresh group contains only our anchor.
		if err := c.resource.UngroupTabs(ctx, []int{tabID}); err != nil {
			slog.Debug("pre-create ungroup failed", "tab_id", tabID, "error", err)
		}
	}

	var externalID int
	err = c.opts.CreateRetry.Do(ctx, "create-group", func(ctx context.Context) error {
		id, err := c.resource.GroupTabs(ctx, []int{tabID}, tabs.GroupIDNone)
		if err != nil {
			return err
		}
		externalID = id
		return nil
	})
	if err != nil {
		return nil, newError(CodeCreateFailed, fmt.Sprintf("could not create a group for tab %d", tabID), err)
	}

	c.applyGroupStyle(ctx, externalID)

	meta := &GroupMetadata{
		MainTabID:       tabID,
		CreatedAt:       time.Now(),
		Domain:          domainOf(tab.URL),
		ExternalGroupID: externalID,
		MemberStates: map[int]*MemberState{
			tabID: {Indicator: indicator.StatePulsing, AgentOwned: true},
		},
	}

	c.mu.Lock()
	if existing, ok := c.groups[tabID]; ok {
		// Raced a concurrent create; the earlier registration wins and
		// the next reconcile cleans up the extra external group.
		cp := existing.clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.groups[tabID] = meta
	c.mu.Unlock()

	c.ind.SetTabState(tabID, indicator.StatePulsing, true)
	c.block.UpdateTabStatus(ctx, externalID, tabID, tab.URL)
	c.persist()

	slog.Info("group created", "main_tab", tabID, "external_group", externalID)
	return meta.clone(), nil
}

// AdoptOrphanedGroup binds the controller onto a pre-existing external
// group without creating a new one. Current members become static
// secondaries; tabID becomes the main tab.
func (c *Controller) AdoptOrphanedGroup(ctx context.Context, tabID, externalGroupID int) (*GroupMetadata, error) {
	c.mu.Lock()
	if meta, ok := c.groups[tabID]; ok {
		cp := meta.clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.mu.Unlock()

	if _, err := c.resource.GetGroup(ctx, externalGroupID); err != nil {
		return nil, newError(CodeGroupNotFound, fmt.Sprintf("group %d does not exist", externalGroupID), err)
	}

	members, err := c.resource.QueryTabs(ctx, tabs.Query{GroupID: externalGroupID})
	if err != nil {
		slog.Debug("adopt: member query failed, adopting anchor only", "group_id", externalGroupID, "error", err)
		members = nil
	}

	meta := &GroupMetadata{
		MainTabID:       tabID,
		CreatedAt:       time.Now(),
		ExternalGroupID: externalGroupID,
		MemberStates: map[int]*MemberState{
			tabID: {Indicator: indicator.StatePulsing, AgentOwned: true},
		},
	}
	found := false
	for _, m := range members {
		if m.ID == tabID {
			found = true
			meta.Domain = domainOf(m.URL)
			continue
		}
		meta.MemberStates[m.ID] = &MemberState{Indicator: indicator.StateStatic}
	}
	if len(members) > 0 && !found {
		return nil, newError(CodeValidation, fmt.Sprintf("tab %d is not in group %d", tabID, externalGroupID), nil)
	}

	c.mu.Lock()
	if existing, ok := c.groups[tabID]; ok {
		cp := existing.clone()
		c.mu.Unlock()
		return cp, nil
	}
	c.groups[tabID] = meta
	c.mu.Unlock()

	c.ind.SetTabState(tabID, indicator.StatePulsing, true)
	for _, m := range members {
		if m.ID != tabID {
			c.ind.SetTabState(m.ID, indicator.StateStatic, false)
		}
		c.block.UpdateTabStatus(ctx, externalGroupID, m.ID, m.URL)
	}
	c.persist()

	slog.Info("group adopted", "main_tab", tabID, "external_group", externalGroupID, "members", len(meta.MemberStates))
	return meta.clone(), nil
}

// DeleteGroup ends a session: tracked metadata is removed, member tabs
// are ungrouped best-effort, indicators cleared. With dismiss set the
// external group id is recorded so characteristic scans skip it.
func (c *Controller) DeleteGroup(ctx context.Context, mainTabID int, dismiss bool) error {
	c.mu.Lock()
	meta, ok := c.groups[mainTabID]
	if !ok {
		c.mu.Unlock()
		return newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", mainTabID), nil)
	}
	delete(c.groups, mainTabID)
	if p, ok := c.pendingRegroups[mainTabID]; ok {
		p.timer.Stop()
		delete(c.pendingRegroups, mainTabID)
	}
	delete(c.processing, mainTabID)
	if dismiss {
		c.dismissed[meta.ExternalGroupID] = true
	}
	external := meta.ExternalGroupID
	memberIDs := meta.TabIDs()
	c.mu.Unlock()

	if err := c.resource.UngroupTabs(ctx, memberIDs); err != nil {
		slog.Debug("delete: ungroup failed", "external_group", external, "error", err)
	}
	for _, id := range memberIDs {
		c.ind.SetTabState(id, indicator.StateNone, false)
	}
	c.block.EvictGroup(external)
	c.persist()
	if dismiss {
		c.persistDismissed()
	}

	slog.Info("group deleted", "main_tab", mainTabID, "external_group", external, "dismissed", dismiss)
	return nil
}

// MarkGroupDismissed records an external group id the user declined so
// adoption scans skip it.
func (c *Controller) MarkGroupDismissed(externalGroupID int) {
	c.mu.Lock()
	c.dismissed[externalGroupID] = true
	c.mu.Unlock()
	c.persistDismissed()
}

// --- promotion and the effective-tab gate ---

// PromoteToMainTab transfers the session anchor from oldMain to
// newMain in one synchronous map mutation: readers never observe a
// state where both or neither key resolves.
func (c *Controller) PromoteToMainTab(oldMain, newMain int) error {
	c.mu.Lock()
	meta, ok := c.groups[oldMain]
	if !ok {
		c.mu.Unlock()
		return newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", oldMain), nil)
	}
	if oldMain == newMain {
		c.mu.Unlock()
		return nil
	}
	if _, ok := meta.MemberStates[newMain]; !ok {
		valid := sortedIDs(meta.MemberStates)
		c.mu.Unlock()
		return newError(CodeTabNotInGroup, fmt.Sprintf("tab %d is not in tab %d's group; valid tab ids: %v", newMain, oldMain, valid), nil)
	}

	delete(c.groups, oldMain)
	meta.MainTabID = newMain
	c.groups[newMain] = meta
	meta.MemberStates[oldMain].Indicator = indicator.StateStatic
	meta.MemberStates[newMain].Indicator = indicator.StatePulsing
	meta.MemberStates[newMain].AgentOwned = true
	c.mu.Unlock()

	c.ind.SetTabState(oldMain, indicator.StateStatic, true)
	c.ind.SetTabState(newMain, indicator.StatePulsing, true)
	c.persist()

	slog.Info("main tab promoted", "old_main", oldMain, "new_main", newMain)
	return nil
}

// EffectiveTabID is the safety gate automation tools pass a
// caller-supplied tab id through before acting on it. A requested id
// of zero or below means "use current". Otherwise requested must be in
// the same tracked (or synthesized single-tab) group as current.
func (c *Controller) EffectiveTabID(requested, current int) (int, error) {
	if requested <= 0 || requested == current {
		return current, nil
	}

	valid := c.validSiblings(current)
	for _, id := range valid {
		if id == requested {
			return requested, nil
		}
	}
	return 0, newError(CodeTabNotInGroup, fmt.Sprintf("tab %d is not part of tab %d's session; valid tab ids: %v", requested, current, valid), nil)
}

// validSiblings returns the tab ids sharing current's tracked group,
// or just current when it is untracked.
func (c *Controller) validSiblings(current int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range c.groups {
		if _, ok := meta.MemberStates[current]; ok {
			return sortedIDs(meta.MemberStates)
		}
	}
	return []int{current}
}

// --- reads ---

// FindGroupByTab returns the tracked group containing tabID as main or
// member.
func (c *Controller) FindGroupByTab(tabID int) (*GroupMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range c.groups {
		if _, ok := meta.MemberStates[tabID]; ok {
			return meta.clone(), true
		}
	}
	return nil, false
}

// FindGroupByMainTab returns the tracked group anchored at mainTabID.
func (c *Controller) FindGroupByMainTab(mainTabID int) (*GroupMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if meta, ok := c.groups[mainTabID]; ok {
		return meta.clone(), true
	}
	return nil, false
}

// AllGroups returns a copy of every tracked group.
func (c *Controller) AllGroups() []*GroupMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GroupMetadata, 0, len(c.groups))
	for _, meta := range c.groups {
		out = append(out, meta.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MainTabID < out[j].MainTabID })
	return out
}

// ValidTabIDs reconciles and then returns the session's member ids.
// Reads that callers act on must never see a stale tab set.
func (c *Controller) ValidTabIDs(ctx context.Context, mainTabID int) ([]int, error) {
	if err := c.Reconcile(ctx); err != nil {
		slog.Debug("reconcile before read failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	meta, ok := c.groups[mainTabID]
	if !ok {
		return nil, newError(CodeGroupNotFound, fmt.Sprintf("no tracked group for main tab %d", mainTabID), nil)
	}
	return sortedIDs(meta.MemberStates), nil
}

// ValidTabsWithMetadata reconciles and returns member tabs with URL
// and title filled from the browser where available.
func (c *Controller) ValidTabsWithMetadata(ctx context.Context, mainTabID int) ([]ValidTab, error) {
	ids, err := c.ValidTabIDs(ctx, mainTabID)
	if err != nil {
		return nil, err
	}

	out := make([]ValidTab, 0, len(ids))
	for _, id := range ids {
		vt := ValidTab{ID: id, IsMain: id == mainTabID}
		if tab, err := c.resource.GetTab(ctx, id); err == nil {
			vt.URL = tab.URL
			vt.Title = tab.Title
		} else if !tabs.IsTransient(err) {
			slog.Debug("tab metadata fetch failed", "tab_id", id, "error", err)
		}
		out = append(out, vt)
	}
	return out, nil
}

// --- helpers ---

func (c *Controller) tracksExternalGroup(externalGroupID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, meta := range c.groups {
		if meta.ExternalGroupID == externalGroupID {
			return true
		}
	}
	return false
}

// applyGroupStyle labels and colors a freshly created group.
// Best-effort: a styling failure never fails the operation.
func (c *Controller) applyGroupStyle(ctx context.Context, externalGroupID int) {
	label, color := c.opts.GroupLabel, c.opts.GroupColor
	err := c.resource.UpdateGroup(ctx, externalGroupID, tabs.GroupUpdate{Title: &label, Color: &color})
	if err != nil {
		slog.Debug("group styling failed", "external_group", externalGroupID, "error", err)
	}
}

// persist snapshots tracked metadata. Best-effort: a lost write is
// corrected by reconciliation on next load.
func (c *Controller) persist() {
	c.mu.Lock()
	snapshot := make(map[int]*GroupMetadata, len(c.groups))
	for main, meta := range c.groups {
		snapshot[main] = meta.clone()
	}
	c.mu.Unlock()

	if err := c.store.Set(keyTabGroups, snapshot); err != nil {
		slog.Debug("group snapshot write failed", "error", err)
	}
}

func (c *Controller) persistDismissed() {
	c.mu.Lock()
	ids := make([]int, 0, len(c.dismissed))
	for id := range c.dismissed {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Ints(ids)

	if err := c.store.Set(keyDismissedGroups, ids); err != nil {
		slog.Debug("dismissed groups write failed", "error", err)
	}
}

func sortedIDs(members map[int]*MemberState) []int {
	out := make([]int, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
