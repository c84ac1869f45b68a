package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"flexsync/internal/storage"
)

// OnNewPending is invoked from the committing thread strictly after a new
// Pending version is durably committed. It must not reenter the store on
// the same thread.
type OnNewPending func(version int64)

// SubscriptionStore owns the persisted schema, version allocation,
// lookups, the notification registry, and supersession.
type SubscriptionStore struct {
	db           *storage.DB
	onNewPending OnNewPending

	// writeMu enforces at most one active write transaction process-wide,
	// the Go analogue of the host database's single-writer discipline.
	writeMu sync.Mutex

	notifyMu              sync.Mutex
	notifyCond            *sync.Cond
	pending               []notificationRequest
	outstanding           int
	minOutstandingVersion int64

	closed atomic.Bool
}

// PendingVersion is one result of GetNextPendingVersion: a version and the
// database snapshot it was committed against.
type PendingVersion struct {
	Version         int64
	SnapshotVersion int64
}

// Open opens or initializes the persistent schema and seeds version 0 in
// state Pending with empty subscriptions if the table is empty.
func Open(ctx context.Context, db *storage.DB, onNewPending OnNewPending) (*SubscriptionStore, error) {
	if err := db.Init(ctx); err != nil {
		if errors.Is(err, storage.ErrSchemaVersionMismatch) {
			return nil, ErrSchemaVersionMismatch
		}
		return nil, err
	}

	store := &SubscriptionStore{db: db, onNewPending: onNewPending}
	store.notifyCond = sync.NewCond(&store.notifyMu)

	if err := store.seedInitialVersion(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (store *SubscriptionStore) seedInitialVersion(ctx context.Context) error {
	store.writeMu.Lock()
	defer store.writeMu.Unlock()

	_, ok, err := storage.MaxVersion(ctx, store.db.Reader())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	tx, err := store.db.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	snapshotVersion, err := store.db.CurrentSnapshotVersion(ctx)
	if err != nil {
		return err
	}
	if err := storage.InsertSetRow(ctx, tx.Querier(), 0, int64(StatePending), snapshotVersion); err != nil {
		return err
	}
	return tx.Commit()
}

func (store *SubscriptionStore) loadSet(ctx context.Context, row storage.SetRow) (*SubscriptionSet, error) {
	subRows, err := storage.GetSubscriptions(ctx, store.db.Reader(), row.Version)
	if err != nil {
		return nil, err
	}
	subs := make([]Subscription, len(subRows))
	for i, sr := range subRows {
		subs[i] = subscriptionFromRow(sr)
	}
	observed, err := store.db.CurrentSnapshotVersion(ctx)
	if err != nil {
		return nil, err
	}

	errMsg := ""
	if row.Error.Valid {
		errMsg = row.Error.String
	}
	return &SubscriptionSet{
		store:            store,
		version:          row.Version,
		state:            State(row.State),
		errorMessage:     errMsg,
		snapshotVersion:  row.SnapshotVersion,
		subs:             subs,
		observedSnapshot: observed,
	}, nil
}

// GetLatest returns the frozen view at the highest version.
func (store *SubscriptionStore) GetLatest(ctx context.Context) (*SubscriptionSet, error) {
	row, err := storage.GetLatestSetRow(ctx, store.db.Reader())
	if err != nil {
		return nil, err
	}
	return store.loadSet(ctx, row)
}

// GetActive returns the frozen view at the highest version whose state is
// Complete, or an empty sentinel set (version 0, no subscriptions) if
// none is Complete yet.
func (store *SubscriptionStore) GetActive(ctx context.Context) (*SubscriptionSet, error) {
	row, err := storage.GetActiveSetRow(ctx, store.db.Reader(), int64(StateComplete))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &SubscriptionSet{store: store, state: StatePending}, nil
		}
		return nil, err
	}
	return store.loadSet(ctx, row)
}

// GetActiveAndLatestVersions returns (active, latest); active is -1 when no
// version is Complete.
func (store *SubscriptionStore) GetActiveAndLatestVersions(ctx context.Context) (active, latest int64, err error) {
	latestRow, err := storage.GetLatestSetRow(ctx, store.db.Reader())
	if err != nil {
		return 0, 0, err
	}
	activeRow, err := storage.GetActiveSetRow(ctx, store.db.Reader(), int64(StateComplete))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, latestRow.Version, nil
		}
		return 0, 0, err
	}
	return activeRow.Version, latestRow.Version, nil
}

// GetByVersion returns the frozen view at exact version. If v is below the
// watermark it returns a synthetic Superseded set, not an error; otherwise
// an unknown version fails with ErrVersionNotFound.
func (store *SubscriptionStore) GetByVersion(ctx context.Context, version int64) (*SubscriptionSet, error) {
	row, err := storage.GetSetRow(ctx, store.db.Reader(), version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			store.notifyMu.Lock()
			belowWatermark := version < store.minOutstandingVersion
			store.notifyMu.Unlock()
			if belowWatermark {
				return &SubscriptionSet{store: store, version: version, state: StateSuperseded}, nil
			}
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return store.loadSet(ctx, row)
}

// GetMutableByVersion opens a write handle over an existing version, used
// by the sync client to drive update_state transitions.
func (store *SubscriptionStore) GetMutableByVersion(ctx context.Context, version int64) (*MutableSubscriptionSet, error) {
	store.writeMu.Lock()
	tx, err := store.db.BeginWrite(ctx)
	if err != nil {
		store.writeMu.Unlock()
		return nil, err
	}

	row, err := storage.GetSetRow(ctx, tx.Querier(), version)
	if err != nil {
		tx.Rollback()
		store.writeMu.Unlock()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	subRows, err := storage.GetSubscriptions(ctx, tx.Querier(), version)
	if err != nil {
		tx.Rollback()
		store.writeMu.Unlock()
		return nil, err
	}
	subs := make([]Subscription, len(subRows))
	for i, sr := range subRows {
		subs[i] = subscriptionFromRow(sr)
	}
	errMsg := ""
	if row.Error.Valid {
		errMsg = row.Error.String
	}

	return &MutableSubscriptionSet{
		SubscriptionSet: SubscriptionSet{
			store:           store,
			version:         row.Version,
			state:           State(row.State),
			errorMessage:    errMsg,
			snapshotVersion: row.SnapshotVersion,
			subs:            subs,
		},
		tx:       tx,
		oldState: State(row.State),
		unlock:   store.writeMu.Unlock,
	}, nil
}

// MakeMutableCopy allocates latest_version+1, pre-populated with set's
// subscriptions in order.
func (store *SubscriptionStore) MakeMutableCopy(ctx context.Context, set *SubscriptionSet) (*MutableSubscriptionSet, error) {
	store.writeMu.Lock()
	tx, err := store.db.BeginWrite(ctx)
	if err != nil {
		store.writeMu.Unlock()
		return nil, err
	}

	maxVersion, ok, err := storage.MaxVersion(ctx, tx.Querier())
	if err != nil {
		tx.Rollback()
		store.writeMu.Unlock()
		return nil, err
	}
	newVersion := int64(0)
	if ok {
		newVersion = maxVersion + 1
	}

	if err := storage.InsertSetRow(ctx, tx.Querier(), newVersion, int64(StateUncommitted), 0); err != nil {
		tx.Rollback()
		store.writeMu.Unlock()
		return nil, err
	}

	return &MutableSubscriptionSet{
		SubscriptionSet: SubscriptionSet{
			store:   store,
			version: newVersion,
			state:   StateUncommitted,
			subs:    set.Subscriptions(),
		},
		tx:       tx,
		oldState: StateUncommitted,
		unlock:   store.writeMu.Unlock,
	}, nil
}

// GetNextPendingVersion finds the smallest version strictly greater than
// lastQueryVersion whose state is Pending or Bootstrapping and whose
// snapshot_version is at least afterClientVersion.
func (store *SubscriptionStore) GetNextPendingVersion(ctx context.Context, lastQueryVersion, afterClientVersion int64) (PendingVersion, bool, error) {
	row, err := storage.GetNextPendingSetRow(ctx, store.db.Reader(), lastQueryVersion, afterClientVersion, int64(StatePending), int64(StateBootstrapping))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PendingVersion{}, false, nil
		}
		return PendingVersion{}, false, err
	}
	return PendingVersion{Version: row.Version, SnapshotVersion: row.SnapshotVersion}, true, nil
}

// GetPendingSubscriptions walks forward from the active version via
// GetNextPendingVersion, returning frozen sets for every in-flight version.
// Used by the sync client on reconnect to replay in-flight sets.
func (store *SubscriptionStore) GetPendingSubscriptions(ctx context.Context) ([]*SubscriptionSet, error) {
	active, err := store.GetActive(ctx)
	if err != nil {
		return nil, err
	}

	curQueryVersion := active.version
	var dbVersion int64
	if active.state == StateComplete {
		dbVersion = active.snapshotVersion
	}

	var recovered []*SubscriptionSet
	for {
		next, found, err := store.GetNextPendingVersion(ctx, curQueryVersion, dbVersion)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		curQueryVersion = next.Version
		dbVersion = next.SnapshotVersion
		set, err := store.GetByVersion(ctx, curQueryVersion)
		if err != nil {
			return nil, err
		}
		recovered = append(recovered, set)
	}
	return recovered, nil
}

// GetTablesForLatest returns the set of object-class names referenced by
// the latest version's subscriptions. It accepts an already-open reader so
// a caller that holds one doesn't pay for a second snapshot; passing nil
// uses the store's own reader.
func (store *SubscriptionStore) GetTablesForLatest(ctx context.Context, reader storage.Querier) (map[string]struct{}, error) {
	if reader == nil {
		reader = store.db.Reader()
	}
	row, err := storage.GetLatestSetRow(ctx, reader)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	return storage.DistinctObjectClasses(ctx, reader, row.Version)
}

// WouldRefresh reports whether the database has a newer snapshot than
// observedSnapshot.
func (store *SubscriptionStore) WouldRefresh(ctx context.Context, observedSnapshot int64) (bool, error) {
	current, err := store.db.CurrentSnapshotVersion(ctx)
	if err != nil {
		return false, err
	}
	return observedSnapshot < current, nil
}

// SupersedeAllExcept atomically deletes every version before keep and
// resolves every pending notification whose version is not keep's with
// Superseded, advancing the watermark to keep's version. Exposed for sync
// clients that need to discard in-flight versions outside the normal
// Complete-state commit flow (e.g. a client reset that replaces local
// state wholesale).
func (store *SubscriptionStore) SupersedeAllExcept(ctx context.Context, keep *SubscriptionSet) error {
	store.writeMu.Lock()
	defer store.writeMu.Unlock()

	tx, err := store.db.BeginWrite(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := storage.DeleteSetsBefore(ctx, tx.Querier(), keep.version); err != nil {
		return err
	}

	store.notifyMu.Lock()
	for store.outstanding > 0 {
		store.notifyCond.Wait()
	}
	var toFinish, remain []notificationRequest
	for _, req := range store.pending {
		if req.version != keep.version {
			toFinish = append(toFinish, req)
		} else {
			remain = append(remain, req)
		}
	}
	store.pending = remain
	store.minOutstandingVersion = keep.version
	store.notifyMu.Unlock()

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, req := range toFinish {
		req.promise.resolve(Result{State: StateSuperseded})
	}
	return nil
}

// processNotifications waits for outstanding readers to finish
// registering, partitions the pending list, advances the watermark if
// this commit reached Complete, and resolves every collected
// request outside the lock.
func (store *SubscriptionStore) processNotifications(myVersion int64, newState State, errorMessage string) {
	store.notifyMu.Lock()
	for store.outstanding > 0 {
		store.notifyCond.Wait()
	}

	var toFinish, remain []notificationRequest
	for _, req := range store.pending {
		matches := (req.version == myVersion && (newState == StateError || meetsOrExceeds(newState, req.notifyWhen))) ||
			(newState == StateComplete && req.version < myVersion)
		if matches {
			toFinish = append(toFinish, req)
		} else {
			remain = append(remain, req)
		}
	}
	store.pending = remain

	if newState == StateComplete {
		store.minOutstandingVersion = myVersion
	}
	store.notifyMu.Unlock()

	for _, req := range toFinish {
		switch {
		case newState == StateError && req.version == myVersion:
			req.promise.resolve(Result{Err: &RuntimeError{Message: errorMessage}})
		case req.version < myVersion:
			req.promise.resolve(Result{State: StateSuperseded})
		default:
			req.promise.resolve(Result{State: newState})
		}
	}
}

// Close releases the underlying database connection. Any still-pending
// notification is resolved with ErrStoreGone: a future that outlives its
// Store handle resolves with a broken-promise failure when the Store is
// destroyed.
func (store *SubscriptionStore) Close() error {
	store.closed.Store(true)

	store.notifyMu.Lock()
	pending := store.pending
	store.pending = nil
	store.notifyMu.Unlock()

	for _, req := range pending {
		req.promise.resolve(Result{Err: ErrStoreGone})
	}
	return store.db.Close()
}
