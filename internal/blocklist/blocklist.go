// Package blocklist tracks a safety category per tab per group and
// aggregates each group's most-restrictive category.
package blocklist

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Category is a safety classification for a URL.
type Category string

const (
	CategoryUnset      Category = ""
	CategorySafe       Category = "safe"
	CategoryCaution    Category = "caution"
	CategoryRestricted Category = "restricted"
	CategoryOrgBlocked Category = "org-blocked"
	CategoryFlagged    Category = "flagged-content"
)

// Priority returns the precedence rank of a category; higher wins when
// aggregating a group.
func (c Category) Priority() int {
	switch c {
	case CategoryFlagged:
		return 4
	case CategoryOrgBlocked, CategoryRestricted:
		return 3
	case CategoryCaution:
		return 2
	case CategorySafe:
		return 1
	default:
		return 0
	}
}

// Blocked reports whether the category gates further automation.
func (c Category) Blocked() bool {
	return c.Priority() >= 3
}

// blockedPageMarker is the bridge's blocked interstitial. A tab sitting
// on it always counts as flagged, whatever the resolver says.
const blockedPageMarker = "/blocked.html"

// CategoryResolver classifies a URL. An empty category with nil error
// means unknown; the aggregator treats it as unset.
type CategoryResolver interface {
	GetCategory(ctx context.Context, url string) (Category, error)
}

// GroupStatus is the aggregate safety view of one external group.
type GroupStatus struct {
	GroupID         int              `json:"group_id"`
	MostRestrictive Category         `json:"most_restrictive"`
	CategoriesByTab map[int]Category `json:"categories_by_tab"`
	FlaggedTabs     []int            `json:"flagged_tabs"`
	LastChecked     time.Time        `json:"last_checked"`
}

// Listener is notified when a group's aggregate category changes.
type Listener func(groupID int, old, new Category)

type groupEntry struct {
	categories  map[int]Category
	aggregate   Category
	lastChecked time.Time
}

// Aggregator recomputes group aggregates on every membership or
// categorization change and notifies listeners on actual changes only.
type Aggregator struct {
	resolver CategoryResolver
	cacheTTL time.Duration
	now      func() time.Time

	mu        sync.Mutex
	groups    map[int]*groupEntry
	tabGroups map[int]int // tabID → groupID last seen for that tab
	listeners map[int64]Listener
	nextID    int64
}

// New creates an Aggregator. cacheTTL bounds how stale a group status
// may be before GroupStatus triggers a full membership sweep.
func New(resolver CategoryResolver, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		resolver:  resolver,
		cacheTTL:  cacheTTL,
		now:       time.Now,
		groups:    make(map[int]*groupEntry),
		tabGroups: make(map[int]int),
		listeners: make(map[int64]Listener),
	}
}

// AddListener registers a change listener and returns its id.
func (a *Aggregator) AddListener(fn Listener) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.listeners[a.nextID] = fn
	return a.nextID
}

// RemoveListener unregisters a listener.
func (a *Aggregator) RemoveListener(id int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.listeners, id)
}

// Classify resolves the category for a URL, applying the blocked-page
// sentinel override. Resolver failures degrade to unset.
func (a *Aggregator) Classify(ctx context.Context, url string) Category {
	if strings.HasSuffix(strings.SplitN(url, "?", 2)[0], blockedPageMarker) {
		return CategoryFlagged
	}
	cat, err := a.resolver.GetCategory(ctx, url)
	if err != nil {
		slog.Debug("blocklist: resolver failed", "url", url, "error", err)
		return CategoryUnset
	}
	return cat
}

// UpdateTabStatus classifies the tab's URL and folds the result into
// the tab's group aggregate.
func (a *Aggregator) UpdateTabStatus(ctx context.Context, groupID, tabID int, url string) {
	cat := a.Classify(ctx, url)

	a.mu.Lock()
	// A tab can only be in one group; drop any stale placement first.
	var prevChange *changeEvent
	if prev, ok := a.tabGroups[tabID]; ok && prev != groupID {
		prevChange = a.removeLocked(prev, tabID)
	}
	a.tabGroups[tabID] = groupID

	entry, ok := a.groups[groupID]
	if !ok {
		entry = &groupEntry{categories: make(map[int]Category)}
		a.groups[groupID] = entry
	}
	entry.categories[tabID] = cat
	entry.lastChecked = a.now()
	change := a.recomputeLocked(groupID, entry)
	a.mu.Unlock()

	a.fire(prevChange)
	a.fire(change)
}

// RemoveTab drops a tab's category from its group and recomputes.
func (a *Aggregator) RemoveTab(groupID, tabID int) {
	a.mu.Lock()
	change := a.removeLocked(groupID, tabID)
	delete(a.tabGroups, tabID)
	a.mu.Unlock()

	a.fire(change)
}

// EvictGroup forgets a group entirely (untracked sessions).
func (a *Aggregator) EvictGroup(groupID int) {
	a.mu.Lock()
	if entry, ok := a.groups[groupID]; ok {
		for tabID := range entry.categories {
			delete(a.tabGroups, tabID)
		}
		delete(a.groups, groupID)
	}
	a.mu.Unlock()
}

// GroupStatus returns the aggregate view for a group. When the cached
// entry is older than the TTL it is recomputed from a full sweep of the
// given members (tabID → URL).
func (a *Aggregator) GroupStatus(ctx context.Context, groupID int, members map[int]string) GroupStatus {
	a.mu.Lock()
	entry, ok := a.groups[groupID]
	stale := !ok || a.now().Sub(entry.lastChecked) > a.cacheTTL
	a.mu.Unlock()

	if stale && members != nil {
		// Classify outside the lock: resolver calls can suspend.
		fresh := make(map[int]Category, len(members))
		for tabID, url := range members {
			fresh[tabID] = a.Classify(ctx, url)
		}

		a.mu.Lock()
		entry, ok = a.groups[groupID]
		if !ok {
			entry = &groupEntry{categories: make(map[int]Category)}
			a.groups[groupID] = entry
		}
		entry.categories = fresh
		entry.lastChecked = a.now()
		for tabID := range fresh {
			a.tabGroups[tabID] = groupID
		}
		change := a.recomputeLocked(groupID, entry)
		a.mu.Unlock()
		a.fire(change)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok = a.groups[groupID]
	if !ok {
		return GroupStatus{GroupID: groupID}
	}
	return snapshotLocked(groupID, entry)
}

// BlockedTabs returns the tabs whose category gates automation, from
// the cached state only.
func (a *Aggregator) BlockedTabs(groupID int) []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.groups[groupID]
	if !ok {
		return nil
	}
	var out []int
	for tabID, cat := range entry.categories {
		if cat.Blocked() {
			out = append(out, tabID)
		}
	}
	return out
}

// changeEvent is a deferred listener notification, fired after a.mu is
// released.
type changeEvent struct {
	groupID   int
	old, new  Category
	listeners []Listener
}

// removeLocked drops a tab from a group and recomputes. Caller holds
// a.mu.
func (a *Aggregator) removeLocked(groupID, tabID int) *changeEvent {
	entry, ok := a.groups[groupID]
	if !ok {
		return nil
	}
	delete(entry.categories, tabID)
	if len(entry.categories) == 0 {
		delete(a.groups, groupID)
		return nil
	}
	return a.recomputeLocked(groupID, entry)
}

// recomputeLocked re-derives the aggregate. When it changed, the
// returned changeEvent carries the notification to fire once the lock
// is released. Caller holds a.mu.
func (a *Aggregator) recomputeLocked(groupID int, entry *groupEntry) *changeEvent {
	old := entry.aggregate
	agg := CategoryUnset
	for _, cat := range entry.categories {
		if cat.Priority() > agg.Priority() {
			agg = cat
		}
	}
	entry.aggregate = agg
	if agg == old {
		return nil
	}

	listeners := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	return &changeEvent{groupID: groupID, old: old, new: agg, listeners: listeners}
}

// fire delivers a deferred notification synchronously. Must be called
// without a.mu held.
func (a *Aggregator) fire(change *changeEvent) {
	if change == nil {
		return
	}
	for _, fn := range change.listeners {
		notify(fn, change.groupID, change.old, change.new)
	}
}

// notify isolates listener failures from each other.
func notify(fn Listener, groupID int, old, new Category) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("blocklist: listener panicked", "group_id", groupID, "panic", r)
		}
	}()
	fn(groupID, old, new)
}

func snapshotLocked(groupID int, entry *groupEntry) GroupStatus {
	status := GroupStatus{
		GroupID:         groupID,
		MostRestrictive: entry.aggregate,
		CategoriesByTab: make(map[int]Category, len(entry.categories)),
		LastChecked:     entry.lastChecked,
	}
	for tabID, cat := range entry.categories {
		status.CategoriesByTab[tabID] = cat
		if cat == CategoryFlagged {
			status.FlaggedTabs = append(status.FlaggedTabs, tabID)
		}
	}
	return status
}
