package widget

import (
	"encoding/json"
	"fmt"
	"strings"
)

// State is the severity tag attached to a widget. It drives the color the
// bar host renders the widget with; the mapping lives in the protocol layer.
type State int

const (
	StateIdle State = iota
	StateInfo
	StateGood
	StateWarning
	StateCritical
	// StateError marks output synthesized from a failed render.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInfo:
		return "info"
	case StateGood:
		return "good"
	case StateWarning:
		return "warning"
	case StateCritical:
		return "critical"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// ParseState accepts the state names emitted by command blocks
// ("Idle", "warning", ...). Matching is case-insensitive.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "idle":
		return StateIdle, nil
	case "info":
		return StateInfo, nil
	case "good":
		return StateGood, nil
	case "warning", "warn":
		return StateWarning, nil
	case "critical":
		return StateCritical, nil
	case "error":
		return StateError, nil
	default:
		return StateIdle, fmt.Errorf("unknown state %q", raw)
	}
}

func (s *State) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseState(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Widget is one display element produced by a block render. A render may
// produce zero widgets (the block is hidden for the cycle).
type Widget struct {
	Text  string
	Icon  string
	State State
}

// Error builds the error-state widget a failed render is surfaced as.
func Error(err error) Widget {
	text := "error"
	if err != nil {
		text = err.Error()
	}
	if len(text) > 60 {
		text = text[:57] + "..."
	}
	return Widget{Text: text, Icon: "!", State: StateError}
}
