package pathmirror

import (
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// Action is the kind of change the executor applies to the target.
type Action int

const (
	// ActionCopy copies a source entry over the target.
	ActionCopy Action = iota
	// ActionRemove removes a target entry that has no source counterpart.
	ActionRemove
)

var actionToString = map[Action]string{ActionCopy: "copy", ActionRemove: "remove"}
var stringToAction = lo.Invert(actionToString)

// String returns the string representation of an Action.
func (a Action) String() string {
	if str, ok := actionToString[a]; ok {
		return str
	}
	return fmt.Sprintf("unknown_action(%d)", a)
}

// ParseAction parses a string and returns the corresponding Action.
func ParseAction(s string) (Action, error) {
	if a, ok := stringToAction[s]; ok {
		return a, nil
	}
	return 0, fmt.Errorf("invalid action: %q. Must be 'copy' or 'remove'", s)
}

// MarshalJSON implements the json.Marshaler interface for Action.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for Action.
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Action should be a string, got %s", data)
	}
	action, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = action
	return nil
}
