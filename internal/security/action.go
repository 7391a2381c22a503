package security

import (
	"fmt"
	"strings"
)

// Action is the operation a signed payload authorizes
type Action string

// Supported actions
const (
	ActionDelete   Action = "DELETE"
	ActionGet      Action = "GET"
	ActionRegister Action = "REGISTER"
)

// ParseAction matches s case-insensitively against the known actions
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(s)) {
	case ActionDelete:
		return ActionDelete, nil
	case ActionGet:
		return ActionGet, nil
	case ActionRegister:
		return ActionRegister, nil
	default:
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidAction, s)
	}
}

func (a Action) String() string {
	return string(a)
}
