package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SetRow is the persisted form of a flx_subscription_sets row.
type SetRow struct {
	Version         int64
	State           int64
	SnapshotVersion int64
	Error           sql.NullString
}

// SubRow is the persisted form of one flx_subscriptions row, ordered by
// Position within its owning set.
type SubRow struct {
	Position    int64
	ID          string
	CreatedAt   int64
	UpdatedAt   int64
	Name        sql.NullString
	ObjectClass string
	Query       string
}

const setColumns = "version, state, snapshot_version, error"

func scanSetRow(row *sql.Row) (SetRow, error) {
	var r SetRow
	err := row.Scan(&r.Version, &r.State, &r.SnapshotVersion, &r.Error)
	return r, err
}

// MaxVersion returns the highest persisted version and whether the table
// holds any rows at all. The subscription store uses this both to find
// "latest" and to allocate version = max+1 for a new mutable copy.
func MaxVersion(ctx context.Context, q Querier) (version int64, ok bool, err error) {
	row := q.QueryRowContext(ctx, "SELECT MAX(version) FROM flx_subscription_sets")
	var maxVersion sql.NullInt64
	if err := row.Scan(&maxVersion); err != nil {
		return 0, false, fmt.Errorf("max version: %w", err)
	}
	if !maxVersion.Valid {
		return 0, false, nil
	}
	return maxVersion.Int64, true, nil
}

// InsertSetRow creates a new row for a version that does not yet exist.
func InsertSetRow(ctx context.Context, q Querier, version, state, snapshotVersion int64) error {
	_, err := q.ExecContext(ctx,
		"INSERT INTO flx_subscription_sets (version, state, snapshot_version, error) VALUES (?, ?, ?, NULL)",
		version, state, snapshotVersion)
	if err != nil {
		return fmt.Errorf("insert subscription set %d: %w", version, err)
	}
	return nil
}

// GetSetRow fetches one row by version. Returns sql.ErrNoRows if absent.
func GetSetRow(ctx context.Context, q Querier, version int64) (SetRow, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+setColumns+" FROM flx_subscription_sets WHERE version = ?", version)
	r, err := scanSetRow(row)
	if err != nil {
		return SetRow{}, err
	}
	return r, nil
}

// GetLatestSetRow fetches the row with the highest version.
func GetLatestSetRow(ctx context.Context, q Querier) (SetRow, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+setColumns+" FROM flx_subscription_sets ORDER BY version DESC LIMIT 1")
	return scanSetRow(row)
}

// GetActiveSetRow fetches the highest-versioned row in state Complete.
func GetActiveSetRow(ctx context.Context, q Querier, completeState int64) (SetRow, error) {
	row := q.QueryRowContext(ctx,
		"SELECT "+setColumns+" FROM flx_subscription_sets WHERE state = ? ORDER BY version DESC LIMIT 1",
		completeState)
	return scanSetRow(row)
}

// GetNextPendingSetRow implements SubscriptionStore::get_next_pending_version:
// the smallest version strictly greater than lastQueryVersion whose state is
// Pending or Bootstrapping and whose snapshot_version is at least
// afterClientVersion.
func GetNextPendingSetRow(ctx context.Context, q Querier, lastQueryVersion int64, afterClientVersion int64, pendingState, bootstrappingState int64) (SetRow, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+setColumns+` FROM flx_subscription_sets
		 WHERE version > ?
		   AND (state = ? OR state = ?)
		   AND snapshot_version >= ?
		 ORDER BY version ASC LIMIT 1`,
		lastQueryVersion, pendingState, bootstrappingState, afterClientVersion)
	return scanSetRow(row)
}

// UpdateSetState persists the staged state and, iff non-empty, the error
// message. A nil errMsg clears any previously stored error; error_message
// is never left stale from a prior Error state because Error is terminal
// and the row is never mutated again after reaching it.
func UpdateSetState(ctx context.Context, q Querier, version, state int64, errMsg *string) error {
	var errArg sql.NullString
	if errMsg != nil && *errMsg != "" {
		errArg = sql.NullString{String: *errMsg, Valid: true}
	}
	_, err := q.ExecContext(ctx,
		"UPDATE flx_subscription_sets SET state = ?, error = ? WHERE version = ?",
		state, errArg, version)
	if err != nil {
		return fmt.Errorf("update subscription set %d state: %w", version, err)
	}
	return nil
}

// UpdateSetSnapshotVersion persists the snapshot_version stamped at commit
// time for a newly committed version.
func UpdateSetSnapshotVersion(ctx context.Context, q Querier, version, snapshotVersion int64) error {
	_, err := q.ExecContext(ctx,
		"UPDATE flx_subscription_sets SET snapshot_version = ? WHERE version = ?",
		snapshotVersion, version)
	if err != nil {
		return fmt.Errorf("update subscription set %d snapshot version: %w", version, err)
	}
	return nil
}

// DeleteSetsBefore removes every subscription-set row (and, via
// ON DELETE CASCADE, every embedded subscription row) with version strictly
// less than keepFrom. This is the single query implementing supersession
// of every version older than a newly completed one.
func DeleteSetsBefore(ctx context.Context, q Querier, keepFrom int64) error {
	_, err := q.ExecContext(ctx, "DELETE FROM flx_subscription_sets WHERE version < ?", keepFrom)
	if err != nil {
		return fmt.Errorf("delete subscription sets before %d: %w", keepFrom, err)
	}
	return nil
}

// ReplaceSubscriptions clears and rewrites the embedded subscription list
// for a version in current in-memory order.
func ReplaceSubscriptions(ctx context.Context, q Querier, version int64, subs []SubRow) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM flx_subscriptions WHERE set_version = ?", version); err != nil {
		return fmt.Errorf("clear subscriptions for %d: %w", version, err)
	}
	for i, sub := range subs {
		_, err := q.ExecContext(ctx,
			`INSERT INTO flx_subscriptions
				(set_version, position, id, created_at, updated_at, name, object_class, query)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			version, i, sub.ID, sub.CreatedAt, sub.UpdatedAt, sub.Name, sub.ObjectClass, sub.Query)
		if err != nil {
			return fmt.Errorf("insert subscription %d/%d: %w", version, i, err)
		}
	}
	return nil
}

// GetSubscriptions returns the embedded subscriptions for a version in
// insertion order.
func GetSubscriptions(ctx context.Context, q Querier, version int64) ([]SubRow, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT position, id, created_at, updated_at, name, object_class, query
		 FROM flx_subscriptions WHERE set_version = ? ORDER BY position ASC`, version)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions for %d: %w", version, err)
	}
	defer rows.Close()

	var subs []SubRow
	for rows.Next() {
		var s SubRow
		if err := rows.Scan(&s.Position, &s.ID, &s.CreatedAt, &s.UpdatedAt, &s.Name, &s.ObjectClass, &s.Query); err != nil {
			return nil, fmt.Errorf("scan subscription for %d: %w", version, err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions for %d: %w", version, err)
	}
	return subs, nil
}

// DistinctObjectClasses returns the object class names referenced by a
// version's subscriptions, used by GetTablesForLatest.
func DistinctObjectClasses(ctx context.Context, q Querier, version int64) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT object_class FROM flx_subscriptions WHERE set_version = ?", version)
	if err != nil {
		return nil, fmt.Errorf("query object classes for %d: %w", version, err)
	}
	defer rows.Close()

	classes := make(map[string]struct{})
	for rows.Next() {
		var class string
		if err := rows.Scan(&class); err != nil {
			return nil, fmt.Errorf("scan object class for %d: %w", version, err)
		}
		classes[class] = struct{}{}
	}
	return classes, rows.Err()
}
