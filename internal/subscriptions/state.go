package subscriptions

// State is the tagged sum over a subscription set's lifecycle states. The
// integer values are part of the on-disk format and must not be
// renumbered.
type State int64

const (
	StateUncommitted   State = 0
	StateError         State = 1
	StatePending       State = 2
	StateBootstrapping State = 3
	StateComplete      State = 4
	StateSuperseded    State = 5
)

func (s State) String() string {
	switch s {
	case StateUncommitted:
		return "Uncommitted"
	case StateError:
		return "Error"
	case StatePending:
		return "Pending"
	case StateBootstrapping:
		return "Bootstrapping"
	case StateComplete:
		return "Complete"
	case StateSuperseded:
		return "Superseded"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether no further transitions are possible from this
// state. Complete and Error are terminal; Superseded is also terminal but
// is never staged by update_state, only ever observed.
func (s State) IsTerminal() bool {
	switch s {
	case StateComplete, StateError, StateSuperseded:
		return true
	default:
		return false
	}
}

// rank orders Pending and Bootstrapping below Complete for state-change
// comparisons. Error has no rank; it is handled separately because it
// satisfies any notifyWhen.
func (s State) rank() int {
	switch s {
	case StatePending, StateBootstrapping:
		return 1
	case StateComplete:
		return 2
	default:
		return 0
	}
}

// meetsOrExceeds reports whether cur satisfies a wait for notifyWhen.
// Error always satisfies any wait, since no further progress is coming;
// otherwise cur must rank at or above notifyWhen on the
// Pending == Bootstrapping < Complete scale.
func meetsOrExceeds(cur, notifyWhen State) bool {
	if cur == StateError {
		return true
	}
	return cur.rank() >= notifyWhen.rank()
}

// validateTransition enforces update_state's transition table: from must
// be Uncommitted, Pending, or Bootstrapping (Complete/Error/Superseded are
// terminal); to must be Bootstrapping, Complete, or Error; an error
// message is required iff to is Error.
func validateTransition(from, to State, hasErrorMessage bool) error {
	switch to {
	case StateBootstrapping, StateComplete, StateError:
		// handled below
	default:
		return ErrIllegalStateTransition
	}

	switch from {
	case StateUncommitted, StatePending, StateBootstrapping:
		// allowed source states
	default:
		return ErrIllegalStateTransition
	}

	if to == StateError && !hasErrorMessage {
		return ErrIllegalStateTransition
	}
	if to != StateError && hasErrorMessage {
		return ErrIllegalStateTransition
	}
	return nil
}
