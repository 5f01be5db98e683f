// Package session implements the test-attempt lifecycle shared by all four
// modules: admission, submission, cancellation, restart and expiry.
package session

import (
	"slices"

	"github.com/abhisek/bandscore/internal/ielts"
)

// rule is one row of the lifecycle table. An empty From means the event
// creates the session.
type rule struct {
	From []ielts.Status
	To   ielts.Status
}

var rules = map[ielts.Event]rule{
	ielts.EventStart: {
		To: ielts.StatusStarted,
	},
	ielts.EventSubmit: {
		From: []ielts.Status{ielts.StatusStarted},
		To:   ielts.StatusCompleted,
	},
	ielts.EventCancel: {
		From: []ielts.Status{ielts.StatusStarted, ielts.StatusPending, ielts.StatusExpired},
		To:   ielts.StatusCancelled,
	},
	ielts.EventRestart: {
		From: []ielts.Status{ielts.StatusCompleted, ielts.StatusCancelled},
		To:   ielts.StatusStarted,
	},
	ielts.EventExpire: {
		From: []ielts.Status{ielts.StatusStarted},
		To:   ielts.StatusExpired,
	},
}

// LegalFrom lists the states ev may leave for module m.
func LegalFrom(m ielts.Module, ev ielts.Event) []ielts.Status {
	r, ok := rules[ev]
	if !ok {
		return nil
	}
	from := slices.Clone(r.From)
	if m == ielts.Writing && ev == ielts.EventRestart {
		from = append(from, ielts.StatusExpired)
	}
	return from
}

// Transition returns the state ev leads to from the given state, or a
// *ielts.StateError. from is empty only for EventStart.
func Transition(m ielts.Module, from ielts.Status, ev ielts.Event) (ielts.Status, error) {
	r, ok := rules[ev]
	if !ok {
		return "", &ielts.StateError{Module: m, From: from, Event: ev}
	}
	if ev == ielts.EventStart {
		if from != "" {
			return "", &ielts.StateError{Module: m, From: from, Event: ev}
		}
		return r.To, nil
	}
	if !slices.Contains(LegalFrom(m, ev), from) {
		return "", &ielts.StateError{Module: m, From: from, Event: ev}
	}
	return r.To, nil
}
