package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/gridscope/historian/internal/storage"
)

// newTestDialect creates a sqlite dialect backed by a fresh temp database
// with tables created, returning the dialect and its open handle.
func newTestDialect(t *testing.T, tables storage.TableNames) (*Dialect, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	di, err := New(map[string]any{"database": path}, tables)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	d := di.(*Dialect)
	db, err := d.Connect()
	if err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := d.SetupTables(context.Background(), db); err != nil {
		t.Fatalf("SetupTables() failed: %v", err)
	}
	return d, db
}

// defaultTables is the co-located table set used by most tests.
func defaultTables() storage.TableNames {
	return storage.NewTableNames("", "data", "topics", "topics")
}

// splitTables keeps metadata in its own table.
func splitTables() storage.TableNames {
	return storage.NewTableNames("", "data", "topics", "meta")
}

// insertTopic adds a topic row and returns its id.
func insertTopic(t *testing.T, d *Dialect, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.ExecContext(context.Background(), d.InsertTopicQuery(), name)
	if err != nil {
		t.Fatalf("insert topic %q failed: %v", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId() failed: %v", err)
	}
	return id
}

// mustTime parses a stored-format timestamp or fails the test.
func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := storage.ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime(%q) failed: %v", s, err)
	}
	return ts
}

// insertData adds one data row with a JSON-encoded value.
func insertData(t *testing.T, d *Dialect, db *sql.DB, ts time.Time, topicID int64, doc string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), d.InsertDataQuery(),
		storage.FormatTime(ts), topicID, doc)
	if err != nil {
		t.Fatalf("insert data failed: %v", err)
	}
}
