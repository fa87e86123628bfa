package store

import (
	"testing"

	"qms/frontdesk-service/internal/models"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   models.Status
		valid  bool
	}{
		{ActionRegister, models.StatusPending, true},
		{ActionRegister, models.StatusRegistered, false},
		{ActionRegister, models.StatusSeen, false},
		{ActionTriage, models.StatusRegistered, true},
		{ActionTriage, models.StatusPending, false},
		{ActionTriage, models.StatusTriaged, false},
		{ActionConsult, models.StatusTriaged, true},
		{ActionConsult, models.StatusRegistered, false},
		{ActionConsult, models.StatusSeen, false},
		{ActionIssue, models.StatusPending, false},
		{"unknown", models.StatusPending, false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTransitionsMoveOneStepForward(t *testing.T) {
	for _, action := range []string{ActionRegister, ActionTriage, ActionConsult} {
		from, to, ok := Transition(action)
		if !ok {
			t.Fatalf("expected transition for %s", action)
		}
		if to.Rank() != from.Rank()+1 {
			t.Fatalf("%s moves %s -> %s, expected a single forward step", action, from, to)
		}
	}
}
