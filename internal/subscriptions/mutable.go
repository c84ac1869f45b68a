package subscriptions

import (
	"context"
	"fmt"
	"time"

	"flexsync/internal/storage"
)

// MutableSubscriptionSet is a writable view over a live write transaction.
// It embeds SubscriptionSet so lookups (FindByName, FindByQuery, Size,
// At, ...) work unchanged on the in-progress edit.
type MutableSubscriptionSet struct {
	SubscriptionSet

	tx       *storage.WriteTx
	oldState State
	unlock   func()
}

func (m *MutableSubscriptionSet) checkMutable() error {
	if !m.tx.IsWriting() {
		return ErrWrongTransactionStage
	}
	return nil
}

// InsertOrAssignNamed finds an existing subscription by name and overwrites
// its object class/query/updated_at, or appends a new one. The returned
// bool is true iff a new subscription was inserted.
func (m *MutableSubscriptionSet) InsertOrAssignNamed(name, objectClassName, queryString string) (Subscription, bool, error) {
	if err := m.checkMutable(); err != nil {
		return Subscription{}, false, err
	}
	for i := range m.subs {
		if m.subs[i].HasName() && *m.subs[i].Name == name {
			m.subs[i].ObjectClassName = objectClassName
			m.subs[i].QueryString = queryString
			m.subs[i].UpdatedAt = time.Now()
			return m.subs[i], false, nil
		}
	}
	sub := newSubscription(&name, objectClassName, queryString)
	m.subs = append(m.subs, sub)
	return sub, true, nil
}

// InsertOrAssignAnonymous finds an existing nameless subscription matching
// (objectClassName, queryString) and overwrites it, or appends a new one.
func (m *MutableSubscriptionSet) InsertOrAssignAnonymous(objectClassName, queryString string) (Subscription, bool, error) {
	if err := m.checkMutable(); err != nil {
		return Subscription{}, false, err
	}
	for i := range m.subs {
		if !m.subs[i].HasName() && m.subs[i].ObjectClassName == objectClassName && m.subs[i].QueryString == queryString {
			m.subs[i].ObjectClassName = objectClassName
			m.subs[i].QueryString = queryString
			m.subs[i].UpdatedAt = time.Now()
			return m.subs[i], false, nil
		}
	}
	sub := newSubscription(nil, objectClassName, queryString)
	m.subs = append(m.subs, sub)
	return sub, true, nil
}

// InsertSub appends a raw Subscription as is, for copying an entry from
// another set without re-minting its id or timestamps.
func (m *MutableSubscriptionSet) InsertSub(sub Subscription) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	m.subs = append(m.subs, sub)
	return nil
}

// Erase removes the subscription at index.
func (m *MutableSubscriptionSet) Erase(index int) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if index < 0 || index >= len(m.subs) {
		return fmt.Errorf("subscriptions: erase index %d out of range [0,%d)", index, len(m.subs))
	}
	m.subs = append(m.subs[:index], m.subs[index+1:]...)
	return nil
}

// Clear removes every subscription.
func (m *MutableSubscriptionSet) Clear() error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	m.subs = nil
	return nil
}

// Import clears this set and copies every subscription from src in order,
// used to reissue a later version from an earlier one's contents.
func (m *MutableSubscriptionSet) Import(src *SubscriptionSet) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	m.subs = src.Subscriptions()
	return nil
}

// UpdateState validates and stages a new state. The change is not
// persisted until Commit.
func (m *MutableSubscriptionSet) UpdateState(newState State, errorMessage string) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if err := validateTransition(m.state, newState, errorMessage != ""); err != nil {
		return err
	}
	m.state = newState
	if newState == StateError {
		m.errorMessage = errorMessage
	}
	return nil
}

func (m *MutableSubscriptionSet) releaseWriter() {
	if m.unlock != nil {
		m.unlock()
		m.unlock = nil
	}
}

// Rollback discards this mutable set without persisting anything. No row
// exists on disk for an abandoned version, and its version number is not
// reserved: the next MakeMutableCopy simply recomputes max(version)+1.
func (m *MutableSubscriptionSet) Rollback() error {
	defer m.releaseWriter()
	return m.tx.Rollback()
}

// Commit persists the embedded subscription list and snapshot_version for
// a newly created version, persists the staged state and error message,
// deletes all lower-versioned rows if the staged state is Complete,
// commits, notifies waiters, invokes the new-pending callback if
// applicable, and returns a frozen view of the committed version.
func (m *MutableSubscriptionSet) Commit(ctx context.Context) (*SubscriptionSet, error) {
	defer m.releaseWriter()

	if err := m.checkMutable(); err != nil {
		return nil, err
	}
	q := m.tx.Querier()

	isNew := m.oldState == StateUncommitted
	if isNew {
		if m.state == StateUncommitted {
			m.state = StatePending
		}
		snapshotVersion, err := m.store.db.CurrentSnapshotVersion(ctx)
		if err != nil {
			return nil, err
		}
		m.snapshotVersion = snapshotVersion
		if err := storage.UpdateSetSnapshotVersion(ctx, q, m.version, snapshotVersion); err != nil {
			return nil, err
		}

		rows := make([]storage.SubRow, len(m.subs))
		for i, sub := range m.subs {
			rows[i] = subscriptionToRow(sub)
		}
		if err := storage.ReplaceSubscriptions(ctx, q, m.version, rows); err != nil {
			return nil, err
		}
	}

	var errMsgPtr *string
	if m.state == StateError {
		errMsgPtr = &m.errorMessage
	}
	if err := storage.UpdateSetState(ctx, q, m.version, int64(m.state), errMsgPtr); err != nil {
		return nil, err
	}

	if m.state == StateComplete {
		if err := storage.DeleteSetsBefore(ctx, q, m.version); err != nil {
			return nil, err
		}
	}

	if err := m.tx.Commit(); err != nil {
		return nil, err
	}

	finalVersion, finalState, finalErrMsg := m.version, m.state, m.errorMessage
	store := m.store

	store.processNotifications(finalVersion, finalState, finalErrMsg)

	if finalState == StatePending && store.onNewPending != nil {
		store.onNewPending(finalVersion)
	}

	return store.GetByVersion(ctx, finalVersion)
}
