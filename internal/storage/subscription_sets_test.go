package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInsertAndGetSetRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := InsertSetRow(ctx, db.Reader(), 0, 2, 1); err != nil {
		t.Fatalf("insert set row: %v", err)
	}
	row, err := GetSetRow(ctx, db.Reader(), 0)
	if err != nil {
		t.Fatalf("get set row: %v", err)
	}
	if row.State != 2 {
		t.Fatalf("state: got %d", row.State)
	}
}

func TestReplaceSubscriptionsCascadesOnDelete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := InsertSetRow(ctx, db.Reader(), 0, 2, 1); err != nil {
		t.Fatalf("insert set row: %v", err)
	}
	rows := []SubRow{
		{ID: "id-1", CreatedAt: 1, UpdatedAt: 1, ObjectClass: "Table", Query: "TRUEPREDICATE"},
	}
	if err := ReplaceSubscriptions(ctx, db.Reader(), 0, rows); err != nil {
		t.Fatalf("replace subscriptions: %v", err)
	}
	if err := InsertSetRow(ctx, db.Reader(), 1, 4, 1); err != nil {
		t.Fatalf("insert set row: %v", err)
	}
	if err := DeleteSetsBefore(ctx, db.Reader(), 1); err != nil {
		t.Fatalf("delete sets before: %v", err)
	}

	subs, err := GetSubscriptions(ctx, db.Reader(), 0)
	if err != nil {
		t.Fatalf("get subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected cascade delete, got %d rows", len(subs))
	}
}

func TestMaxVersionOnEmptyTable(t *testing.T) {
	db := newTestDB(t)
	_, ok, err := MaxVersion(context.Background(), db.Reader())
	if err != nil {
		t.Fatalf("max version: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false on an empty table")
	}
}
