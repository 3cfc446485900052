package tabs

import (
	"errors"
	"fmt"
)

// Bridge error codes. The bridge reports failures with a stable string
// code; callers classify on the code, never on a concrete type.
const (
	CodeTabNotFound   = "TAB_NOT_FOUND"
	CodeGroupNotFound = "GROUP_NOT_FOUND"
	CodeTabDragging   = "TAB_DRAGGING"
	CodeCannotEdit    = "CANNOT_EDIT"
	CodeBridgeGone    = "BRIDGE_GONE"
)

// BridgeError is a failure reported by the extension bridge.
type BridgeError struct {
	Code    string
	Message string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBridgeError builds a BridgeError for the given code.
func NewBridgeError(code, message string) error {
	return &BridgeError{Code: code, Message: message}
}

func codeOf(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsTransient reports whether err means the external state already moved
// on (tab or group vanished, or a mutation raced a user edit). Transient
// errors are recovered locally and corrected by the next reconciliation.
func IsTransient(err error) bool {
	switch codeOf(err) {
	case CodeTabNotFound, CodeGroupNotFound, CodeCannotEdit:
		return true
	}
	return false
}

// IsDragging reports whether err means the user is mid-drag on the tab
// strip, which blocks group mutations until the drag completes.
func IsDragging(err error) bool {
	return codeOf(err) == CodeTabDragging
}
