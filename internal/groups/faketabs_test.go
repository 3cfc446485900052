package groups

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgnsrekt/tab_warden/internal/blocklist"
	"github.com/dgnsrekt/tab_warden/internal/tabs"
)

// fakeResource is an in-memory tabs.Resource the tests mutate directly
// to simulate user actions happening behind the controller's back.
type fakeResource struct {
	mu           sync.Mutex
	tabs         map[int]tabs.Tab
	groups       map[int]tabs.Group
	nextGroupID  int
	nextTabID    int
	nextWindowID int
	groupErrs    []error // consumed by GroupTabs before it can succeed
	groupCalls   int
}

func newFakeResource() *fakeResource {
	return &fakeResource{
		tabs:         make(map[int]tabs.Tab),
		groups:       make(map[int]tabs.Group),
		nextGroupID:  100,
		nextTabID:    1,
		nextWindowID: 500,
	}
}

func (f *fakeResource) addTab(windowID int, url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextTabID
	f.nextTabID++
	f.tabs[id] = tabs.Tab{ID: id, WindowID: windowID, GroupID: tabs.GroupIDNone, URL: url}
	return id
}

func (f *fakeResource) moveTab(tabID, groupID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tabs[tabID]
	t.GroupID = groupID
	f.tabs[tabID] = t
}

func (f *fakeResource) dropTab(tabID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tabs, tabID)
}

func (f *fakeResource) dropGroup(groupID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups, groupID)
}

func (f *fakeResource) failGroupTabs(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupErrs = append(f.groupErrs, errs...)
}

func (f *fakeResource) groupTabsCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groupCalls
}

func (f *fakeResource) QueryTabs(_ context.Context, q tabs.Query) ([]tabs.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tabs.Tab
	for _, t := range f.tabs {
		if q.GroupID != 0 && t.GroupID != q.GroupID {
			continue
		}
		if q.WindowID != 0 && t.WindowID != q.WindowID {
			continue
		}
		if q.HasGroup && t.GroupID == tabs.GroupIDNone {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeResource) GetTab(_ context.Context, tabID int) (tabs.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tabs[tabID]
	if !ok {
		return tabs.Tab{}, tabs.NewBridgeError(tabs.CodeTabNotFound, fmt.Sprintf("no tab %d", tabID))
	}
	return t, nil
}

func (f *fakeResource) GroupTabs(_ context.Context, tabIDs []int, groupID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groupCalls++
	if len(f.groupErrs) > 0 {
		err := f.groupErrs[0]
		f.groupErrs = f.groupErrs[1:]
		return 0, err
	}
	if groupID == tabs.GroupIDNone {
		groupID = f.nextGroupID
		f.nextGroupID++
		windowID := 0
		if len(tabIDs) > 0 {
			windowID = f.tabs[tabIDs[0]].WindowID
		}
		f.groups[groupID] = tabs.Group{ID: groupID, WindowID: windowID}
	}
	for _, id := range tabIDs {
		t, ok := f.tabs[id]
		if !ok {
			return 0, tabs.NewBridgeError(tabs.CodeTabNotFound, fmt.Sprintf("no tab %d", id))
		}
		t.GroupID = groupID
		f.tabs[id] = t
	}
	return groupID, nil
}

func (f *fakeResource) UngroupTabs(_ context.Context, tabIDs []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range tabIDs {
		if t, ok := f.tabs[id]; ok {
			t.GroupID = tabs.GroupIDNone
			f.tabs[id] = t
		}
	}
	return nil
}

func (f *fakeResource) GetGroup(_ context.Context, groupID int) (tabs.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return tabs.Group{}, tabs.NewBridgeError(tabs.CodeGroupNotFound, fmt.Sprintf("no group %d", groupID))
	}
	return g, nil
}

func (f *fakeResource) QueryGroups(_ context.Context, q tabs.GroupQuery) ([]tabs.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tabs.Group
	for _, g := range f.groups {
		if q.Title != "" && g.Title != q.Title {
			continue
		}
		if q.Color != "" && g.Color != q.Color {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (f *fakeResource) UpdateGroup(_ context.Context, groupID int, u tabs.GroupUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[groupID]
	if !ok {
		return tabs.NewBridgeError(tabs.CodeGroupNotFound, fmt.Sprintf("no group %d", groupID))
	}
	if u.Title != nil {
		g.Title = *u.Title
	}
	if u.Color != nil {
		g.Color = *u.Color
	}
	f.groups[groupID] = g
	return nil
}

func (f *fakeResource) CreateWindow(_ context.Context, url string) (tabs.Window, error) {
	f.mu.Lock()
	winID := f.nextWindowID
	f.nextWindowID++
	f.mu.Unlock()
	tabID := f.addTab(winID, url)
	return tabs.Window{ID: winID, ActiveTabID: tabID}, nil
}

// memStore is an in-memory store.Store counting writes so tests can
// assert idempotence.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

func (s *memStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	s.sets++
	return nil
}

func (s *memStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memStore) setCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// fakeSource satisfies hub.EventSource and records installed handlers
// so tests can push events through the full subscription path.
type fakeSource struct {
	mu       sync.Mutex
	handlers map[tabs.EventKind][]func(tabs.Event)
}

func newFakeSource() *fakeSource {
	return &fakeSource{handlers: make(map[tabs.EventKind][]func(tabs.Event))}
}

func (s *fakeSource) RegisterHandler(kind tabs.EventKind, fn func(tabs.Event)) func() {
	s.mu.Lock()
	s.handlers[kind] = append(s.handlers[kind], fn)
	s.mu.Unlock()
	return func() {}
}

func (s *fakeSource) fire(ev tabs.Event) {
	s.mu.Lock()
	fns := append([]func(tabs.Event){}, s.handlers[ev.Kind]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// staticResolver classifies URLs from a fixed table.
type staticResolver struct {
	cats map[string]blocklist.Category
}

func (r *staticResolver) GetCategory(_ context.Context, url string) (blocklist.Category, error) {
	return r.cats[url], nil
}
