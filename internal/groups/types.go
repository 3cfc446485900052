package groups

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/tab_warden/internal/indicator"
)

// Error codes surfaced to callers. Everything else the controller hits
// is recovered locally.
const (
	CodeValidation    = "VALIDATION"
	CodeGroupNotFound = "GROUP_NOT_FOUND"
	CodeTabNotInGroup = "TAB_NOT_IN_GROUP"
	CodeCreateFailed  = "GROUP_CREATE_FAILED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// MemberState is the controller's per-member record. It is owned by
// the GroupMetadata that contains it and mutated only by the
// controller and the indicator machine.
type MemberState struct {
	Indicator         indicator.State  `json:"indicator"`
	PreviousIndicator *indicator.State `json:"previous_indicator,omitempty"`
	AgentOwned        bool             `json:"agent_owned,omitempty"`
	PendingUpdate     bool             `json:"pending_update,omitempty"`
}

// GroupMetadata is one logical session: a main tab, the external group
// it anchors, and the member tabs the controller believes are in it.
// The external group's real membership drifts under user actions;
// reconciliation corrects the drift, it is never prevented.
type GroupMetadata struct {
	MainTabID       int                  `json:"main_tab_id"`
	CreatedAt       time.Time            `json:"created_at"`
	Domain          string               `json:"domain"`
	ExternalGroupID int                  `json:"external_group_id"`
	MemberStates    map[int]*MemberState `json:"member_states"`
}

// TabIDs returns the member tab ids, main tab included.
func (g *GroupMetadata) TabIDs() []int {
	out := make([]int, 0, len(g.MemberStates))
	for id := range g.MemberStates {
		out = append(out, id)
	}
	return out
}

func (g *GroupMetadata) clone() *GroupMetadata {
	cp := *g
	cp.MemberStates = make(map[int]*MemberState, len(g.MemberStates))
	for id, ms := range g.MemberStates {
		msCopy := *ms
		cp.MemberStates[id] = &msCopy
	}
	return &cp
}

// ValidTab describes one member of a session for callers that need
// more than the id.
type ValidTab struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title,omitempty"`
	IsMain bool   `json:"is_main"`
}

// Persisted store keys.
const (
	keyTabGroups       = "tab_groups"
	keyDismissedGroups = "dismissed_groups"
	keyMCPGroupID      = "mcp_group_id"
)
