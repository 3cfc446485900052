// Package indicator tracks the per-tab visual state shown while the
// agent works a tab, and coalesces outbound notifications so bursts of
// state churn collapse into one message per tab.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// State is the visual affordance a tab should currently show.
type State string

const (
	StateNone    State = "none"
	StatePulsing State = "pulsing"
	StateStatic  State = "static"
	// StateHidden is transient: the indicator is suppressed while a
	// screenshot or similar capture is in flight, then restored.
	StateHidden State = "hidden_for_screenshot"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateNone, StatePulsing, StateStatic, StateHidden:
		return true
	}
	return false
}

// Messenger delivers a message to a tab's in-page agent. Best-effort;
// failures are non-fatal.
type Messenger interface {
	Send(ctx context.Context, tabID int, message map[string]any) error
}

type tabState struct {
	current    State
	saved      *State // set while current == StateHidden
	agentOwned bool
	pending    bool
}

// Machine is the indicator state machine.
type Machine struct {
	messenger Messenger
	debounce  time.Duration

	mu     sync.Mutex
	states map[int]*tabState
	timer  *time.Timer
}

// New creates a Machine. debounce is the flush delay for coalescing
// outbound notifications.
func New(messenger Messenger, debounce time.Duration) *Machine {
	return &Machine{
		messenger: messenger,
		debounce:  debounce,
		states:    make(map[int]*tabState),
	}
}

// SetTabState records a tab's indicator state and schedules an
// outbound notification.
func (m *Machine) SetTabState(tabID int, state State, agentOwned bool) {
	if !state.Valid() {
		return
	}

	m.mu.Lock()
	ts := m.ensureLocked(tabID)
	ts.current = state
	if state != StateHidden {
		// An explicit state overrides any pending restore target.
		ts.saved = nil
	}
	ts.agentOwned = agentOwned
	ts.pending = true
	m.armTimerLocked()
	m.mu.Unlock()
}

// SetGroupState applies a state to every tab in the given set.
func (m *Machine) SetGroupState(tabIDs []int, state State) {
	for _, id := range tabIDs {
		m.SetTabState(id, state, true)
	}
}

// HideForCapture suppresses the indicator, remembering the prior state.
// A second hide while already hidden is a no-op: the first hide's saved
// state wins, keeping hide/restore idempotent under overlap.
func (m *Machine) HideForCapture(tabID int) {
	m.mu.Lock()
	ts := m.ensureLocked(tabID)
	if ts.current != StateHidden {
		prev := ts.current
		ts.saved = &prev
		ts.current = StateHidden
		ts.pending = true
		m.armTimerLocked()
	}
	m.mu.Unlock()
}

// RestoreAfterCapture restores the state recorded by HideForCapture and
// clears the record. Restoring a tab that is not hidden is a no-op.
func (m *Machine) RestoreAfterCapture(tabID int) {
	m.mu.Lock()
	ts, ok := m.states[tabID]
	if ok && ts.current == StateHidden {
		restored := StateNone
		if ts.saved != nil {
			restored = *ts.saved
		}
		ts.current = restored
		ts.saved = nil
		ts.pending = true
		m.armTimerLocked()
	}
	m.mu.Unlock()
}

// TabState returns the tab's current indicator state.
func (m *Machine) TabState(tabID int) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.states[tabID]; ok {
		return ts.current
	}
	return StateNone
}

// AgentOwned reports whether the tab's indicator was last set by the
// agent rather than adopted from existing state.
func (m *Machine) AgentOwned(tabID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts, ok := m.states[tabID]; ok {
		return ts.agentOwned
	}
	return false
}

// Refresh re-sends the tab's current state on the next flush without
// changing it, so a freshly activated page re-renders its indicator.
func (m *Machine) Refresh(tabID int) {
	m.mu.Lock()
	if ts, ok := m.states[tabID]; ok {
		ts.pending = true
		m.armTimerLocked()
	}
	m.mu.Unlock()
}

// Forget drops all state for a tab (tab closed or left the session).
func (m *Machine) Forget(tabID int) {
	m.mu.Lock()
	delete(m.states, tabID)
	m.mu.Unlock()
}

func (m *Machine) ensureLocked(tabID int) *tabState {
	ts, ok := m.states[tabID]
	if !ok {
		ts = &tabState{current: StateNone}
		m.states[tabID] = ts
	}
	return ts
}

// armTimerLocked starts the debounce timer if it is not already
// running. One timer covers all pending tabs. Caller holds m.mu.
func (m *Machine) armTimerLocked() {
	if m.timer != nil {
		return
	}
	m.timer = time.AfterFunc(m.debounce, m.flush)
}

// flush walks all pending updates once, clears them, and sends one
// message per tab. Send failures are logged and dropped.
func (m *Machine) flush() {
	m.mu.Lock()
	m.timer = nil
	batch := make(map[int]State)
	for tabID, ts := range m.states {
		if ts.pending {
			ts.pending = false
			batch[tabID] = ts.current
		}
	}
	m.mu.Unlock()

	if m.messenger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for tabID, state := range batch {
		msg := map[string]any{"type": "indicator", "state": string(state)}
		if err := m.messenger.Send(ctx, tabID, msg); err != nil {
			slog.Debug("indicator: notify failed", "tab_id", tabID, "state", state, "error", err)
		}
	}
}
