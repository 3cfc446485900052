package tabs

import "context"

// GroupIDNone marks a tab that belongs to no external group.
const GroupIDNone = -1

// Tab describes a browser tab as reported by the extension bridge.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"window_id"`
	GroupID  int    `json:"group_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Active   bool   `json:"active,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Group describes an external tab group.
type Group struct {
	ID        int    `json:"id"`
	WindowID  int    `json:"window_id"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Window describes a browser window created through the bridge.
type Window struct {
	ID          int `json:"id"`
	ActiveTabID int `json:"active_tab_id"`
}

// Query narrows a tab listing. Zero values mean "any".
type Query struct {
	WindowID int  `json:"window_id,omitempty"`
	GroupID  int  `json:"group_id,omitempty"`
	HasGroup bool `json:"has_group,omitempty"`
}

// GroupQuery narrows a group listing.
type GroupQuery struct {
	WindowID int    `json:"window_id,omitempty"`
	Title    string `json:"title,omitempty"`
	Color    string `json:"color,omitempty"`
}

// GroupUpdate changes a group's presentation.
type GroupUpdate struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"color,omitempty"`
}

// EventKind identifies a tab lifecycle event category.
type EventKind string

const (
	EventUpdated   EventKind = "updated"
	EventActivated EventKind = "activated"
	EventRemoved   EventKind = "removed"
)

// Event is a tab lifecycle notification from the bridge. For updated
// events GroupID carries the tab's group after the change (GroupIDNone
// when ungrouped); for removed events only TabID is meaningful.
type Event struct {
	Kind     EventKind `json:"kind"`
	TabID    int       `json:"tab_id"`
	WindowID int       `json:"window_id,omitempty"`
	GroupID  int       `json:"group_id,omitempty"`
	URL      string    `json:"url,omitempty"`
	Status   string    `json:"status,omitempty"`
}

// Resource is the external tab/group surface this system coordinates
// against. It is authoritative and mutated independently by the user;
// every call is a suspension point and may observe state that no longer
// matches what the caller recorded.
type Resource interface {
	QueryTabs(ctx context.Context, q Query) ([]Tab, error)
	GetTab(ctx context.Context, tabID int) (Tab, error)

	// GroupTabs moves tabs into the given external group. A groupID of
	// GroupIDNone creates a fresh group and returns its id.
	GroupTabs(ctx context.Context, tabIDs []int, groupID int) (int, error)
	UngroupTabs(ctx context.Context, tabIDs []int) error

	GetGroup(ctx context.Context, groupID int) (Group, error)
	QueryGroups(ctx context.Context, q GroupQuery) ([]Group, error)
	UpdateGroup(ctx context.Context, groupID int, u GroupUpdate) error

	CreateWindow(ctx context.Context, url string) (Window, error)
}
