package pathmirror

import (
	"encoding/json"
	"testing"
)

func TestAction_JSON(t *testing.T) {
	tests := []struct {
		action Action
		json   string
	}{
		{ActionCopy, `"copy"`},
		{ActionRemove, `"remove"`},
	}
	for _, tc := range tests {
		t.Run(tc.action.String(), func(t *testing.T) {
			b, err := json.Marshal(tc.action)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(b) != tc.json {
				t.Errorf("expected %s, got %s", tc.json, b)
			}
			var got Action
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got != tc.action {
				t.Errorf("expected %v, got %v", tc.action, got)
			}
		})
	}

	if _, err := ParseAction("move"); err == nil {
		t.Error("expected an error for an unknown action")
	}
	if got := Action(9).String(); got != "unknown_action(9)" {
		t.Errorf("unexpected string for unknown action: %s", got)
	}
}
