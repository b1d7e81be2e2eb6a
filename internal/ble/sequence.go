package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Action is a coordinate in the Furby's action tree.
type Action struct {
	Input    uint8 `json:"input"`
	Index    uint8 `json:"index"`
	Subindex uint8 `json:"subindex"`
	Specific uint8 `json:"specific"`
}

func (a Action) String() string {
	return fmt.Sprintf("%d/%d/%d/%d", a.Input, a.Index, a.Subindex, a.Specific)
}

// ParseAction parses "input/index/subindex/specific". Commas are accepted
// in place of slashes.
func ParseAction(s string) (Action, error) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == ',' })
	if len(parts) != 4 {
		return Action{}, fmt.Errorf("ble: action %q: want input/index/subindex/specific", s)
	}
	var vals [4]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return Action{}, fmt.Errorf("ble: action %q: %w", s, err)
		}
		vals[i] = uint8(v)
	}
	return Action{Input: vals[0], Index: vals[1], Subindex: vals[2], Specific: vals[3]}, nil
}

// RunSequence triggers actions in order, waiting delay between each. It
// stops at the first failed action or when ctx is done.
func (s *Session) RunSequence(ctx context.Context, actions []Action, delay time.Duration) error {
	for i, a := range actions {
		if i > 0 {
			if err := sleepContext(ctx, delay); err != nil {
				return err
			}
		}
		slog.Debug("[BLE] sequence step", "step", i+1, "of", len(actions), "action", a.String())
		if err := s.TriggerAction(a); err != nil {
			return fmt.Errorf("ble: sequence step %d: %w", i+1, err)
		}
	}
	return nil
}
