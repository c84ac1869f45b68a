package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the compiled schema version for the flx_subscription_store
// metadata group.
const SchemaVersion = 2

const schemaGroupKey = "flx_subscription_store"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS flx_schema_versions (
	group_key TEXT PRIMARY KEY,
	version   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS flx_subscription_sets (
	version          INTEGER PRIMARY KEY,
	state            INTEGER NOT NULL,
	snapshot_version INTEGER NOT NULL,
	error            TEXT
);

CREATE TABLE IF NOT EXISTS flx_subscriptions (
	set_version  INTEGER NOT NULL REFERENCES flx_subscription_sets(version) ON DELETE CASCADE,
	position     INTEGER NOT NULL,
	id           TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	name         TEXT,
	object_class TEXT NOT NULL,
	query        TEXT NOT NULL,
	PRIMARY KEY (set_version, position)
);
`

// Init prepares the schema, failing with ErrSchemaVersionMismatch if a
// previously persisted schema version disagrees with SchemaVersion. It does
// not seed version 0; that is the subscription store's job, since only the
// store knows what an "empty" subscription set looks like.
func (d *DB) Init(ctx context.Context) error {
	// foreign_keys and journal_mode are set per-connection via the DSN in
	// OpenSQLite so they apply uniformly across the pool.
	if _, err := d.sqldb.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	var persisted int64
	row := d.sqldb.QueryRowContext(ctx, "SELECT version FROM flx_schema_versions WHERE group_key = ?", schemaGroupKey)
	switch err := row.Scan(&persisted); err {
	case nil:
		if persisted != SchemaVersion {
			return ErrSchemaVersionMismatch
		}
	case sql.ErrNoRows:
		if _, err := d.sqldb.ExecContext(ctx,
			"INSERT INTO flx_schema_versions (group_key, version) VALUES (?, ?)",
			schemaGroupKey, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	default:
		return fmt.Errorf("read schema version: %w", err)
	}
	return nil
}
