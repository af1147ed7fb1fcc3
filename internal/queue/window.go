// Package queue evaluates category time windows on a fixed tick and
// drives member downloads through the engine accordingly.
package queue

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// State is a category's position relative to its time window.
type State int

const (
	// StateInactive means the window has not opened yet this day.
	StateInactive State = iota
	// StateActive means downloads may run now.
	StateActive
	// StateExpired means the window closed and will not reopen today.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "inactive"
	}
}

// ParseClock converts "HH:MM" (single digits allowed, e.g. "0:0") to
// minutes after midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return hours*60 + minutes, nil
}

// Window is a category's time constraint. Disabled sides are
// unconstrained; with both sides disabled the window never triggers
// time-based transitions.
type Window struct {
	StartEnabled bool
	Start        string
	EndEnabled   bool
	End          string
}

// Constrained reports whether any side of the window is enabled.
func (w Window) Constrained() bool {
	return w.StartEnabled || w.EndEnabled
}

// Evaluate returns the window state at the given wall-clock time.
func (w Window) Evaluate(now time.Time) (State, error) {
	if !w.Constrained() {
		return StateActive, nil
	}
	minute := now.Hour()*60 + now.Minute()

	if w.EndEnabled {
		end, err := ParseClock(w.End)
		if err != nil {
			return StateInactive, err
		}
		if minute > end {
			return StateExpired, nil
		}
	}
	if w.StartEnabled {
		start, err := ParseClock(w.Start)
		if err != nil {
			return StateInactive, err
		}
		if minute < start {
			return StateInactive, nil
		}
	}
	return StateActive, nil
}

// NextActivation returns the next wall-clock time the window opens
// strictly after the given time. Only meaningful when the start side
// is enabled.
func (w Window) NextActivation(after time.Time) (time.Time, error) {
	start, err := ParseClock(w.Start)
	if err != nil {
		return time.Time{}, err
	}
	expr := fmt.Sprintf("%d %d * * *", start%60, start/60)
	return gronx.NextTickAfter(expr, after, false)
}
