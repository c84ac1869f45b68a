package subscriptions

import "context"

// SubscriptionSet is an immutable snapshot of one version's state, error,
// snapshot version, and subscriptions. It holds a weak reference to the
// SubscriptionStore that produced it, resolved at each call site; a store
// that has been closed makes every such call fail with ErrStoreGone
// rather than panic.
type SubscriptionSet struct {
	store *SubscriptionStore

	version         int64
	state           State
	errorMessage    string
	snapshotVersion int64
	subs            []Subscription

	// observedSnapshot is the database's snapshot-version counter as of
	// the read that produced this set, used by Refresh to decide whether
	// a re-read is needed.
	observedSnapshot int64
}

func (s *SubscriptionSet) Version() int64         { return s.version }
func (s *SubscriptionSet) State() State           { return s.state }
func (s *SubscriptionSet) SnapshotVersion() int64 { return s.snapshotVersion }
func (s *SubscriptionSet) ErrorMessage() string   { return s.errorMessage }
func (s *SubscriptionSet) Size() int              { return len(s.subs) }

func (s *SubscriptionSet) At(index int) Subscription {
	return s.subs[index]
}

// Subscriptions returns a defensive copy of the ordered subscription list.
func (s *SubscriptionSet) Subscriptions() []Subscription {
	out := make([]Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// FindByName looks up a subscription by its name.
func (s *SubscriptionSet) FindByName(name string) (Subscription, bool) {
	for _, sub := range s.subs {
		if sub.HasName() && *sub.Name == name {
			return sub, true
		}
	}
	return Subscription{}, false
}

// FindByQuery looks up a subscription by exact (object class, query
// description) match.
func (s *SubscriptionSet) FindByQuery(objectClassName, queryString string) (Subscription, bool) {
	for _, sub := range s.subs {
		if sub.ObjectClassName == objectClassName && sub.QueryString == queryString {
			return sub, true
		}
	}
	return Subscription{}, false
}

func (s *SubscriptionSet) resolveStore() (*SubscriptionStore, error) {
	if s.store == nil || s.store.closed.Load() {
		return nil, ErrStoreGone
	}
	return s.store, nil
}

// MakeMutableCopy starts a new mutable version seeded with this set's
// subscriptions.
func (s *SubscriptionSet) MakeMutableCopy(ctx context.Context) (*MutableSubscriptionSet, error) {
	store, err := s.resolveStore()
	if err != nil {
		return nil, err
	}
	return store.MakeMutableCopy(ctx, s)
}

// Refresh replaces *s with store.GetByVersion(s.version) iff the database
// has advanced since this set was read. It is a no-op otherwise.
func (s *SubscriptionSet) Refresh(ctx context.Context) error {
	store, err := s.resolveStore()
	if err != nil {
		return err
	}
	current, err := store.db.CurrentSnapshotVersion(ctx)
	if err != nil {
		return err
	}
	if current <= s.observedSnapshot {
		return nil
	}
	refreshed, err := store.GetByVersion(ctx, s.version)
	if err != nil {
		return err
	}
	*s = *refreshed
	return nil
}

// GetStateChangeNotification returns a one-shot Future that resolves when
// the set reaches notifyWhen or Error, or immediately with Superseded if
// the version is already below the store's watermark.
func (s *SubscriptionSet) GetStateChangeNotification(ctx context.Context, notifyWhen State) (*Future, error) {
	store, err := s.resolveStore()
	if err != nil {
		return nil, err
	}

	store.notifyMu.Lock()
	if s.version < store.minOutstandingVersion {
		store.notifyMu.Unlock()
		return readyFuture(Result{State: StateSuperseded}), nil
	}
	// Block process_notifications from draining the pending list until
	// this registration (or the decision not to register) is visible.
	store.outstanding++
	store.notifyMu.Unlock()

	future, err := s.registerOrResolve(ctx, store, notifyWhen)

	store.notifyMu.Lock()
	store.outstanding--
	store.notifyCond.Signal()
	store.notifyMu.Unlock()

	return future, err
}

func (s *SubscriptionSet) registerOrResolve(ctx context.Context, store *SubscriptionStore, notifyWhen State) (*Future, error) {
	curState := s.state
	errMsg := s.errorMessage

	current, err := store.db.CurrentSnapshotVersion(ctx)
	if err != nil {
		return nil, err
	}
	if s.observedSnapshot < current {
		refreshed, err := store.GetByVersion(ctx, s.version)
		if err != nil {
			return nil, err
		}
		curState = refreshed.state
		errMsg = refreshed.errorMessage
	}

	if curState == StateError {
		return readyFuture(Result{Err: &RuntimeError{Message: errMsg}}), nil
	}
	if meetsOrExceeds(curState, notifyWhen) {
		return readyFuture(Result{State: curState}), nil
	}

	store.notifyMu.Lock()
	defer store.notifyMu.Unlock()
	p := newPromise()
	store.pending = append(store.pending, notificationRequest{version: s.version, notifyWhen: notifyWhen, promise: p})
	return p.future(), nil
}
