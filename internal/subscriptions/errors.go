package subscriptions

import (
	"errors"

	"flexsync/internal/storage"
)

var (
	// ErrSchemaVersionMismatch means the persisted schema version differs
	// from the compiled constant; Open fails outright.
	ErrSchemaVersionMismatch = errors.New("subscriptions: persisted schema version does not match compiled version")

	// ErrVersionNotFound means the requested version has no row and is not
	// below the store's min_outstanding_version watermark.
	ErrVersionNotFound = errors.New("subscriptions: version not found")

	// ErrWrongTransactionStage means a mutation was attempted against a
	// write transaction that is no longer in the writing stage.
	ErrWrongTransactionStage = storage.ErrWrongTransactionStage

	// ErrIllegalStateTransition means update_state was called with a
	// disallowed target state, or with an error message presence that
	// doesn't match the target state.
	ErrIllegalStateTransition = errors.New("subscriptions: illegal state transition")

	// ErrStoreGone means a SubscriptionSet operation's weak reference to
	// its SubscriptionStore could not be resolved because the store has
	// been closed.
	ErrStoreGone = errors.New("subscriptions: store is no longer available")
)

// RuntimeError carries the message recorded when a subscription set
// reaches State Error. It is the failure value delivered to any waiter on
// GetStateChangeNotification for that version.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	return e.Message
}
