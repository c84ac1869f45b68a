package subscriptions

import (
	"context"
	"path/filepath"
	"testing"

	"flexsync/internal/storage"
)

func newTestStore(t *testing.T) *SubscriptionStore {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := storage.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := Open(context.Background(), db, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenSeedsEmptyPendingVersionZero(t *testing.T) {
	store := newTestStore(t)
	latest, err := store.GetLatest(context.Background())
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if latest.Version() != 0 {
		t.Fatalf("version: got %d", latest.Version())
	}
	if latest.State() != StatePending {
		t.Fatalf("state: got %s", latest.State())
	}
	if latest.Size() != 0 {
		t.Fatalf("size: got %d", latest.Size())
	}
}

func TestMakeMutableCopyAllocatesNextVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	if mutable.Version() != 1 {
		t.Fatalf("version: got %d", mutable.Version())
	}
	if _, _, err := mutable.InsertOrAssignNamed("sub1", "Table", "TRUEPREDICATE"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	committed, err := mutable.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.State() != StatePending {
		t.Fatalf("state: got %s", committed.State())
	}
	if committed.Size() != 1 {
		t.Fatalf("size: got %d", committed.Size())
	}
}

func TestRollbackDoesNotReserveVersion(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	if mutable.Version() != 1 {
		t.Fatalf("version: got %d", mutable.Version())
	}
	if err := mutable.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	latest, err = store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable2, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	if mutable2.Version() != 1 {
		t.Fatalf("version should be reused after rollback: got %d", mutable2.Version())
	}
	_ = mutable2.Rollback()
}

func TestSupersessionDeletesLowerVersions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}

	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	if _, _, err := mutable.InsertOrAssignNamed("sub1", "Table", "TRUEPREDICATE"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v1, err := mutable.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	m1, err := store.GetMutableByVersion(ctx, v1.Version())
	if err != nil {
		t.Fatalf("get mutable by version: %v", err)
	}
	if err := m1.UpdateState(StateComplete, ""); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if _, err := m1.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	gone, err := store.GetByVersion(ctx, 0)
	if err != nil {
		t.Fatalf("get by version 0 after supersession: %v", err)
	}
	if gone.State() != StateSuperseded {
		t.Fatalf("expected version 0 to be gone after supersession, got state %s", gone.State())
	}
	active, err := store.GetActive(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.Version() != v1.Version() {
		t.Fatalf("active version: got %d", active.Version())
	}
}

func TestGetStateChangeNotificationResolvesOnComplete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	pending, err := mutable.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	future, err := pending.GetStateChangeNotification(ctx, StateComplete)
	if err != nil {
		t.Fatalf("get state change notification: %v", err)
	}

	m, err := store.GetMutableByVersion(ctx, pending.Version())
	if err != nil {
		t.Fatalf("get mutable by version: %v", err)
	}
	if err := m.UpdateState(StateComplete, ""); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if _, err := m.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	state, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state != StateComplete {
		t.Fatalf("state: got %s", state)
	}
}

func TestGetStateChangeNotificationResolvesWithError(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	pending, err := mutable.Commit(ctx)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	future, err := pending.GetStateChangeNotification(ctx, StateComplete)
	if err != nil {
		t.Fatalf("get state change notification: %v", err)
	}

	m, err := store.GetMutableByVersion(ctx, pending.Version())
	if err != nil {
		t.Fatalf("get mutable by version: %v", err)
	}
	if err := m.UpdateState(StateError, "bad query"); err != nil {
		t.Fatalf("update state: %v", err)
	}
	if _, err := m.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	_, err = future.Wait(ctx)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if err.Error() != "bad query" {
		t.Fatalf("error message: got %q", err.Error())
	}
}

func TestCloseResolvesPendingWithStoreGone(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	future, err := latest.GetStateChangeNotification(ctx, StateComplete)
	if err != nil {
		t.Fatalf("get state change notification: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = future.Wait(ctx)
	if err != ErrStoreGone {
		t.Fatalf("expected ErrStoreGone, got %v", err)
	}
}

func TestIllegalStateTransitionRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	latest, err := store.GetLatest(ctx)
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	mutable, err := latest.MakeMutableCopy(ctx)
	if err != nil {
		t.Fatalf("make mutable copy: %v", err)
	}
	if err := mutable.UpdateState(StateError, ""); err == nil {
		t.Fatalf("expected illegal transition error for Error with empty message")
	}
	_ = mutable.Rollback()
}
