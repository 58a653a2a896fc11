package services

import (
	"testing"
	"time"

	"github.com/ahmetk3436/herald/internal/models"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		value     float64
		op        string
		threshold float64
		want      bool
	}{
		{85, ">", 80, true},
		{80, ">", 80, false},
		{80, ">=", 80, true},
		{79.9, "<", 80, true},
		{80, "<=", 80, true},
		{80, "==", 80, true},
		{80.0000001, "==", 80, false},
		{81, "!=", 80, true},
	}
	for _, tt := range tests {
		got, err := Compare(tt.value, tt.op, tt.threshold)
		if err != nil {
			t.Fatalf("Compare(%v %s %v): %v", tt.value, tt.op, tt.threshold, err)
		}
		if got != tt.want {
			t.Errorf("Compare(%v %s %v): got %v, want %v", tt.value, tt.op, tt.threshold, got, tt.want)
		}
	}

	if _, err := Compare(1, "=~", 1); err == nil {
		t.Error("expected error for unknown condition")
	}
}

// Readings of 85 against "> 80" with a 120s duration, 60s apart.
func TestStep_DurationMustElapseBeforeFiring(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := models.EvaluationState{AlertState: models.StateNormal}

	var fires int
	for i, offset := range []time.Duration{0, 60 * time.Second, 120 * time.Second} {
		now := t0.Add(offset)
		var act Action
		st, act = Step(st, true, now, 120*time.Second, 300*time.Second)
		if act == ActionFire {
			fires++
			if i != 2 {
				t.Fatalf("fired at reading %d, want reading 2", i)
			}
		}
	}
	if fires != 1 {
		t.Fatalf("fires: got %d, want 1", fires)
	}
	if st.AlertState != models.StateFiring {
		t.Errorf("state: got %q, want firing", st.AlertState)
	}
	if st.PendingSince == nil || !st.PendingSince.Equal(t0) {
		t.Errorf("pending_since: got %v, want %v", st.PendingSince, t0)
	}
	if st.LastNotifiedAt == nil || !st.LastNotifiedAt.Equal(t0.Add(120*time.Second)) {
		t.Errorf("last_notified_at: got %v", st.LastNotifiedAt)
	}
}

func TestStep_ZeroDurationFiresImmediately(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, act := Step(models.EvaluationState{}, true, now, 0, time.Minute)
	if act != ActionFire {
		t.Fatalf("action: got %v, want fire", act)
	}
	if st.AlertState != models.StateFiring {
		t.Errorf("state: got %q, want firing", st.AlertState)
	}
}

func TestStep_PendingResetsOnClear(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, _ := Step(models.EvaluationState{}, true, t0, 120*time.Second, time.Minute)
	st, act := Step(st, false, t0.Add(60*time.Second), 120*time.Second, time.Minute)
	if act != ActionNone || st.AlertState != models.StateNormal || st.PendingSince != nil {
		t.Fatalf("after clear: got %v %q %v", act, st.AlertState, st.PendingSince)
	}

	// No partial credit: a new violation starts the clock again.
	st, _ = Step(st, true, t0.Add(90*time.Second), 120*time.Second, time.Minute)
	st, act = Step(st, true, t0.Add(150*time.Second), 120*time.Second, time.Minute)
	if act != ActionNone {
		t.Fatalf("fired after only 60s of continuous violation")
	}
	_, act = Step(st, true, t0.Add(210*time.Second), 120*time.Second, time.Minute)
	if act != ActionFire {
		t.Fatalf("action: got %v, want fire", act)
	}
}

func TestStep_RenotifySpacing(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	interval := 300 * time.Second
	st, act := Step(models.EvaluationState{}, true, t0, 0, interval)
	if act != ActionFire {
		t.Fatalf("action: got %v, want fire", act)
	}

	notified := []time.Time{t0}
	for s := 30; s <= 1800; s += 30 {
		now := t0.Add(time.Duration(s) * time.Second)
		st, act = Step(st, true, now, 0, interval)
		switch act {
		case ActionRenotify:
			notified = append(notified, now)
		case ActionNone:
		default:
			t.Fatalf("unexpected action %v at +%ds", act, s)
		}
	}

	for i := 1; i < len(notified); i++ {
		if gap := notified[i].Sub(notified[i-1]); gap < interval {
			t.Errorf("notifications %d and %d only %v apart", i-1, i, gap)
		}
	}
	if len(notified) != 7 {
		t.Errorf("notifications: got %d, want 7", len(notified))
	}
}

func TestStep_ResolveEndsEpisode(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, _ := Step(models.EvaluationState{}, true, t0, 0, time.Minute)
	st, act := Step(st, false, t0.Add(time.Minute), 0, time.Minute)
	if act != ActionResolve {
		t.Fatalf("action: got %v, want resolve", act)
	}
	if st.AlertState != models.StateNormal || st.PendingSince != nil || st.LastNotifiedAt != nil {
		t.Errorf("state after resolve: %+v", st)
	}

	_, act = Step(st, false, t0.Add(2*time.Minute), 0, time.Minute)
	if act != ActionNone {
		t.Errorf("second clear: got %v, want none", act)
	}
}

func TestStep_DoesNotMutateInput(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st := models.EvaluationState{AlertState: models.StatePending, PendingSince: &since, StateVersion: 4}
	_, _ = Step(st, true, since.Add(time.Hour), time.Minute, time.Minute)
	if st.AlertState != models.StatePending || st.LastEvaluatedAt != nil || st.LastNotifiedAt != nil {
		t.Errorf("input mutated: %+v", st)
	}
}
