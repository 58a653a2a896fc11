package services

import (
	"fmt"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
)

// Action is the side effect a state transition asks for.
type Action int

const (
	ActionNone Action = iota
	ActionFire
	ActionRenotify
	ActionResolve
)

func (a Action) String() string {
	switch a {
	case ActionFire:
		return "fire"
	case ActionRenotify:
		return "renotify"
	case ActionResolve:
		return "resolve"
	}
	return "none"
}

// Compare applies a rule condition. Equality is exact.
func Compare(value float64, op string, threshold float64) (bool, error) {
	switch op {
	case ">":
		return value > threshold, nil
	case "<":
		return value < threshold, nil
	case ">=":
		return value >= threshold, nil
	case "<=":
		return value <= threshold, nil
	case "==":
		return value == threshold, nil
	case "!=":
		return value != threshold, nil
	}
	return false, fmt.Errorf("unknown condition %q", op)
}

// Step advances the hysteresis state machine by one tick at time now.
//
//	normal  --violated-->            pending (fires at once when duration is 0)
//	pending --violated >= duration-> firing   (Fire)
//	pending --clear-->               normal
//	firing  --violated, interval-->  firing   (Renotify)
//	firing  --clear-->               normal   (Resolve)
//
// Step never mutates st.
func Step(st models.EvaluationState, violated bool, now time.Time, duration, interval time.Duration) (models.EvaluationState, Action) {
	next := st
	next.LastEvaluatedAt = &now

	if !violated {
		wasFiring := st.AlertState == models.StateFiring
		next.AlertState = models.StateNormal
		next.PendingSince = nil
		if wasFiring {
			next.LastNotifiedAt = nil
			return next, ActionResolve
		}
		return next, ActionNone
	}

	switch st.AlertState {
	case models.StateFiring:
		if st.LastNotifiedAt == nil || now.Sub(*st.LastNotifiedAt) >= interval {
			next.LastNotifiedAt = &now
			return next, ActionRenotify
		}
		return next, ActionNone
	case models.StatePending:
		if st.PendingSince == nil {
			next.PendingSince = &now
		}
	default:
		next.AlertState = models.StatePending
		next.PendingSince = &now
	}

	if now.Sub(*next.PendingSince) >= duration {
		next.AlertState = models.StateFiring
		next.LastNotifiedAt = &now
		return next, ActionFire
	}
	return next, ActionNone
}
