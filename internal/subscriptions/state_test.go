package subscriptions

import "testing"

func TestValidateTransitionAllowsBootstrappingFromPending(t *testing.T) {
	if err := validateTransition(StatePending, StateBootstrapping, false); err != nil {
		t.Fatalf("expected allowed transition, got: %v", err)
	}
}

func TestValidateTransitionRejectsFromTerminalState(t *testing.T) {
	if err := validateTransition(StateComplete, StateBootstrapping, false); err == nil {
		t.Fatalf("expected rejection from terminal state Complete")
	}
	if err := validateTransition(StateSuperseded, StateBootstrapping, false); err == nil {
		t.Fatalf("expected rejection from terminal state Superseded")
	}
}

func TestValidateTransitionRequiresErrorMessageForError(t *testing.T) {
	if err := validateTransition(StatePending, StateError, false); err == nil {
		t.Fatalf("expected rejection of Error transition without a message")
	}
	if err := validateTransition(StatePending, StateError, true); err != nil {
		t.Fatalf("expected Error transition with a message to be allowed: %v", err)
	}
}

func TestValidateTransitionRejectsErrorMessageForNonError(t *testing.T) {
	if err := validateTransition(StatePending, StateComplete, true); err == nil {
		t.Fatalf("expected rejection of a non-Error transition carrying a message")
	}
}

func TestMeetsOrExceeds(t *testing.T) {
	cases := []struct {
		cur, notifyWhen State
		want            bool
	}{
		{StatePending, StatePending, true},
		{StateBootstrapping, StatePending, true},
		{StatePending, StateComplete, false},
		{StateComplete, StatePending, true},
		{StateError, StateComplete, true},
	}
	for _, c := range cases {
		if got := meetsOrExceeds(c.cur, c.notifyWhen); got != c.want {
			t.Fatalf("meetsOrExceeds(%s, %s): got %v, want %v", c.cur, c.notifyWhen, got, c.want)
		}
	}
}
