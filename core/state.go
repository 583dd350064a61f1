package core

import (
	"fmt"
)

// Purpose is the kind of interaction a tracking token is valid for.
type Purpose string

const (
	PurposeOpen   Purpose = "open"
	PurposeClick  Purpose = "click"
	PurposeSubmit Purpose = "submit"
	PurposeReport Purpose = "report"
)

var Purposes = []Purpose{PurposeOpen, PurposeClick, PurposeSubmit, PurposeReport}

func ParsePurpose(s string) (Purpose, error) {
	switch Purpose(s) {
	case PurposeOpen, PurposeClick, PurposeSubmit, PurposeReport:
		return Purpose(s), nil
	}
	return "", fmt.Errorf("unknown purpose: %s", s)
}

// InteractionState is how far into the simulated attack a target has
// progressed. Values are ordered; a target's state only ever moves up.
type InteractionState int

const (
	StatePending InteractionState = iota
	StateDelivered
	StateOpened
	StateClicked
	StateSubmitted
)

var stateNames = map[InteractionState]string{
	StatePending:   "pending",
	StateDelivered: "delivered",
	StateOpened:    "opened",
	StateClicked:   "clicked",
	StateSubmitted: "submitted",
}

func (s InteractionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func ParseState(s string) (InteractionState, error) {
	for st, name := range stateNames {
		if name == s {
			return st, nil
		}
	}
	return StatePending, fmt.Errorf("unknown interaction state: %s", s)
}

// StateForPurpose maps an event purpose to the state it implies. The
// report purpose carries no position in the linear order (it is tracked
// as a side-channel flag on the target) so ok is false for it.
func StateForPurpose(p Purpose) (InteractionState, bool) {
	switch p {
	case PurposeOpen:
		return StateOpened, true
	case PurposeClick:
		return StateClicked, true
	case PurposeSubmit:
		return StateSubmitted, true
	}
	return StatePending, false
}

// Advance returns the state a target lands in after an event of purpose p.
// The result is max(current, stateFor(p)): a click on a pending target
// jumps straight to clicked, a click on a submitted target changes nothing.
func Advance(current InteractionState, p Purpose) InteractionState {
	next, ok := StateForPurpose(p)
	if !ok || next <= current {
		return current
	}
	return next
}
