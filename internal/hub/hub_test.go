package hub

import (
	"testing"

	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// fakeSource records installed handlers and lets tests fire events.
type fakeSource struct {
	handlers map[tabs.EventKind]func(tabs.Event)
	installs int
	removals int
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[tabs.EventKind]func(tabs.Event))}
}

func (s *fakeSource) RegisterHandler(kind tabs.EventKind, fn func(tabs.Event)) func() {
	s.handlers[kind] = fn
	s.installs++
	return func() {
		delete(s.handlers, kind)
		s.removals++
	}
}

func (s *fakeSource) fire(ev tabs.Event) {
	if fn, ok := s.handlers[ev.Kind]; ok {
		fn(ev)
	}
}

func TestSubscribeInstallsOneHandlerPerKind(t *testing.T) {
	src := newFakeSource()
	h := New(src)

	a := h.Subscribe(1, []tabs.EventKind{tabs.EventUpdated}, func(tabs.Event) {})
	b := h.Subscribe(2, []tabs.EventKind{tabs.EventUpdated}, func(tabs.Event) {})

	if src.installs != 1 {
		t.Fatalf("installs = %d; want 1", src.installs)
	}

	h.Unsubscribe(a)
	if src.removals != 0 {
		t.Fatalf("removals after first unsubscribe = %d; want 0", src.removals)
	}
	h.Unsubscribe(b)
	if src.removals != 1 {
		t.Fatalf("removals after last unsubscribe = %d; want 1", src.removals)
	}
}

func TestDispatchMatchesScopeAndKind(t *testing.T) {
	src := newFakeSource()
	h := New(src)

	var forTab1, forAll []int
	h.Subscribe(1, []tabs.EventKind{tabs.EventRemoved}, func(ev tabs.Event) {
		forTab1 = append(forTab1, ev.TabID)
	})
	h.Subscribe(ScopeAll, []tabs.EventKind{tabs.EventRemoved}, func(ev tabs.Event) {
		forAll = append(forAll, ev.TabID)
	})

	src.fire(tabs.Event{Kind: tabs.EventRemoved, TabID: 1})
	src.fire(tabs.Event{Kind: tabs.EventRemoved, TabID: 9})

	if len(forTab1) != 1 || forTab1[0] != 1 {
		t.Fatalf("tab-scoped deliveries = %v; want [1]", forTab1)
	}
	if len(forAll) != 2 {
		t.Fatalf("all-scoped deliveries = %v; want both events", forAll)
	}
}

func TestRelevanceFilterDropsUntrackedTabs(t *testing.T) {
	src := newFakeSource()
	h := New(src)
	h.SetRelevantTabs(func() map[int]struct{} {
		return map[int]struct{}{5: {}}
	})

	var got []int
	h.Subscribe(5, []tabs.EventKind{tabs.EventUpdated}, func(ev tabs.Event) {
		got = append(got, ev.TabID)
	})
	// Subscription for an irrelevant tab: the event is dropped before
	// matching, so nothing arrives even though scopes would match.
	h.Subscribe(6, []tabs.EventKind{tabs.EventUpdated}, func(ev tabs.Event) {
		got = append(got, ev.TabID)
	})

	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 5})
	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 6})

	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("deliveries = %v; want [5]", got)
	}
}

func TestRelevanceFilterBypassedByAllScope(t *testing.T) {
	src := newFakeSource()
	h := New(src)
	h.SetRelevantTabs(func() map[int]struct{} {
		return map[int]struct{}{}
	})

	var got []int
	h.Subscribe(ScopeAll, []tabs.EventKind{tabs.EventUpdated}, func(ev tabs.Event) {
		got = append(got, ev.TabID)
	})

	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 99})
	if len(got) != 1 {
		t.Fatalf("deliveries = %v; want the untracked event delivered", got)
	}
}

func TestScopeTrackedFollowsRelevantSet(t *testing.T) {
	src := newFakeSource()
	h := New(src)
	relevant := map[int]struct{}{5: {}}
	h.SetRelevantTabs(func() map[int]struct{} { return relevant })

	var got []int
	h.Subscribe(ScopeTracked, []tabs.EventKind{tabs.EventUpdated}, func(ev tabs.Event) {
		got = append(got, ev.TabID)
	})

	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 5})
	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 6})
	if len(got) != 1 || got[0] != 5 {
		t.Fatalf("deliveries = %v; want [5]", got)
	}

	// The relevant set is re-evaluated per event.
	relevant[6] = struct{}{}
	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 6})
	if len(got) != 2 || got[1] != 6 {
		t.Fatalf("deliveries = %v; want [5 6]", got)
	}
}

func TestRelevanceFilterPassesTrackedGroupJoins(t *testing.T) {
	src := newFakeSource()
	h := New(src)
	h.SetRelevantTabs(func() map[int]struct{} {
		return map[int]struct{}{5: {}}
	})
	h.SetRelevantGroups(func() map[int]struct{} {
		return map[int]struct{}{100: {}}
	})

	var got []int
	h.Subscribe(ScopeTracked, []tabs.EventKind{tabs.EventUpdated}, func(ev tabs.Event) {
		got = append(got, ev.TabID)
	})

	// Tab 7 is unknown, but its event carries a tracked group id: a
	// join that must reach subscribers.
	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 7, GroupID: 100})
	src.fire(tabs.Event{Kind: tabs.EventUpdated, TabID: 8, GroupID: 200})

	if len(got) != 1 || got[0] != 7 {
		t.Fatalf("deliveries = %v; want [7]", got)
	}
}

func TestPanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	src := newFakeSource()
	h := New(src)

	h.Subscribe(ScopeAll, []tabs.EventKind{tabs.EventActivated}, func(tabs.Event) {
		panic("bad subscriber")
	})
	delivered := false
	h.Subscribe(ScopeAll, []tabs.EventKind{tabs.EventActivated}, func(tabs.Event) {
		delivered = true
	})

	src.fire(tabs.Event{Kind: tabs.EventActivated, TabID: 3})
	if !delivered {
		t.Fatal("second subscriber not reached after first panicked")
	}
}

func TestUnsubscribeUnknownIDIsNoop(t *testing.T) {
	h := New(newFakeSource())
	h.Unsubscribe("not-a-subscription")
}
