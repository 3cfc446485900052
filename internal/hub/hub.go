// Package hub de-duplicates and fans out tab lifecycle events. It owns
// the bridge-side handler lifecycle: exactly one underlying handler per
// event kind, installed on first use and removed when the last
// subscription for that kind is gone.
package hub

import (
	"log/slog"
	"sync"

	"github.com/dgnsrekt/tab_warden/internal/tabs"
	"github.com/google/uuid"
)

const (
	// ScopeAll subscribes to events for every tab.
	ScopeAll = -1
	// ScopeTracked subscribes to events for tabs in the relevant set
	// (see SetRelevantTabs). Without a relevance hook it behaves like
	// ScopeAll.
	ScopeTracked = -2
)

// EventSource is where underlying handlers are installed; the bridge
// client satisfies it.
type EventSource interface {
	RegisterHandler(kind tabs.EventKind, fn func(tabs.Event)) (unregister func())
}

// Callback receives matched events. Panics are isolated per callback.
type Callback func(tabs.Event)

type subscription struct {
	id    string
	scope int // tab id, or ScopeAll
	kinds map[tabs.EventKind]struct{}
	fn    Callback
}

type kindState struct {
	refs       int
	unregister func()
}

// Hub fans tab events out to subscribers.
type Hub struct {
	source EventSource

	// relevantTabs bounds dispatch cost: when set and no all-scope
	// subscription exists, events for tabs outside the returned set are
	// dropped before per-subscription matching. relevantGroups widens
	// the filter to events whose group id is tracked, so a join by a
	// tab nobody has seen yet still gets through.
	relevantTabs   func() map[int]struct{}
	relevantGroups func() map[int]struct{}

	mu        sync.Mutex
	subs      map[string]*subscription
	kinds     map[tabs.EventKind]*kindState
	allScoped int
}

// New creates a Hub over the given source.
func New(source EventSource) *Hub {
	return &Hub{
		source: source,
		subs:   make(map[string]*subscription),
		kinds:  make(map[tabs.EventKind]*kindState),
	}
}

// SetRelevantTabs installs the relevance hook. A nil hook disables
// relevance filtering.
func (h *Hub) SetRelevantTabs(fn func() map[int]struct{}) {
	h.mu.Lock()
	h.relevantTabs = fn
	h.mu.Unlock()
}

// SetRelevantGroups installs the group-relevance hook: events whose
// group id is in the returned set pass the filter even when their tab
// id is unknown.
func (h *Hub) SetRelevantGroups(fn func() map[int]struct{}) {
	h.mu.Lock()
	h.relevantGroups = fn
	h.mu.Unlock()
}

// Subscribe registers a callback for the given scope and event kinds
// and returns a subscription id. scope is a tab id or ScopeAll.
func (h *Hub) Subscribe(scope int, kinds []tabs.EventKind, fn Callback) string {
	sub := &subscription{
		id:    uuid.NewString(),
		scope: scope,
		kinds: make(map[tabs.EventKind]struct{}, len(kinds)),
		fn:    fn,
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.subs[sub.id] = sub
	if scope == ScopeAll {
		h.allScoped++
	}
	for k := range sub.kinds {
		h.retainKind(k)
	}
	return sub.id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	if sub.scope == ScopeAll {
		h.allScoped--
	}
	for k := range sub.kinds {
		h.releaseKind(k)
	}
}

// retainKind installs the underlying handler on first reference.
// Caller holds h.mu.
func (h *Hub) retainKind(kind tabs.EventKind) {
	state, ok := h.kinds[kind]
	if !ok {
		kind := kind
		state = &kindState{
			unregister: h.source.RegisterHandler(kind, func(ev tabs.Event) {
				h.dispatch(ev)
			}),
		}
		h.kinds[kind] = state
		slog.Debug("hub: installed handler", "kind", kind)
	}
	state.refs++
}

// releaseKind removes the underlying handler when the last reference
// goes away. Caller holds h.mu.
func (h *Hub) releaseKind(kind tabs.EventKind) {
	state, ok := h.kinds[kind]
	if !ok {
		return
	}
	state.refs--
	if state.refs <= 0 {
		state.unregister()
		delete(h.kinds, kind)
		slog.Debug("hub: removed handler", "kind", kind)
	}
}

func (h *Hub) dispatch(ev tabs.Event) {
	h.mu.Lock()
	var relevant, relevantGroups map[int]struct{}
	if h.relevantTabs != nil {
		relevant = h.relevantTabs()
	}
	if h.relevantGroups != nil {
		relevantGroups = h.relevantGroups()
	}
	if h.allScoped == 0 && relevant != nil && !eventRelevant(ev, relevant, relevantGroups) {
		h.mu.Unlock()
		return
	}
	matched := make([]*subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if _, ok := sub.kinds[ev.Kind]; !ok {
			continue
		}
		switch sub.scope {
		case ScopeAll:
		case ScopeTracked:
			if relevant != nil && !eventRelevant(ev, relevant, relevantGroups) {
				continue
			}
		default:
			if sub.scope != ev.TabID {
				continue
			}
		}
		matched = append(matched, sub)
	}
	h.mu.Unlock()

	for _, sub := range matched {
		deliver(sub, ev)
	}
}

// eventRelevant reports whether an event concerns a tracked tab or a
// tracked group.
func eventRelevant(ev tabs.Event, tabSet, groupSet map[int]struct{}) bool {
	if _, ok := tabSet[ev.TabID]; ok {
		return true
	}
	_, ok := groupSet[ev.GroupID]
	return ok
}

// deliver invokes one callback; a panic in one subscriber must not
// block delivery to the rest.
func deliver(sub *subscription, ev tabs.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("hub: subscriber panicked", "subscription", sub.id, "kind", ev.Kind, "panic", r)
		}
	}()
	sub.fn(ev)
}
