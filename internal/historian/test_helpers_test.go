package historian

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridscope/historian/internal/catalog"
	"github.com/gridscope/historian/internal/storage"
	_ "github.com/gridscope/historian/internal/storage/sqlite"
)

// colocatedTables stores topic metadata in a column of the topics table.
func colocatedTables() storage.TableNames {
	return storage.NewTableNames("", "data", "topics", "topics")
}

// splitTables keeps topic metadata in its own table.
func splitTables() storage.TableNames {
	return storage.NewTableNames("", "data", "topics", "meta")
}

// newTestHistorian builds a ready Historian over a fresh temp database.
func newTestHistorian(t *testing.T, tables storage.TableNames) *Historian {
	t.Helper()
	return newTestHistorianAt(t, filepath.Join(t.TempDir(), "test.db"), tables)
}

// newTestHistorianAt builds a ready Historian over a specific database file,
// so tests can point two instances at the same store.
func newTestHistorianAt(t *testing.T, path string, tables storage.TableNames) *Historian {
	t.Helper()
	h, err := New("sqlite", map[string]any{"database": path}, tables)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	require.NoError(t, h.Setup(context.Background()))
	return h
}

// countingDialect counts statement-generator invocations. The Store calls a
// generator exactly once per corresponding write, so the counts track which
// decision branches the publish pipeline took.
type countingDialect struct {
	storage.Dialect
	insertTopic        int
	insertTopicAndMeta int
	updateTopic        int
	updateTopicAndMeta int
	insertMeta         int
	updateMeta         int
	insertData         int
}

func (c *countingDialect) InsertTopicQuery() string {
	c.insertTopic++
	return c.Dialect.InsertTopicQuery()
}

func (c *countingDialect) InsertTopicAndMetaQuery() string {
	c.insertTopicAndMeta++
	return c.Dialect.InsertTopicAndMetaQuery()
}

func (c *countingDialect) UpdateTopicQuery() string {
	c.updateTopic++
	return c.Dialect.UpdateTopicQuery()
}

func (c *countingDialect) UpdateTopicAndMetaQuery() string {
	c.updateTopicAndMeta++
	return c.Dialect.UpdateTopicAndMetaQuery()
}

func (c *countingDialect) InsertMetaQuery() string {
	c.insertMeta++
	return c.Dialect.InsertMetaQuery()
}

func (c *countingDialect) UpdateMetaQuery() string {
	c.updateMeta++
	return c.Dialect.UpdateMetaQuery()
}

func (c *countingDialect) InsertDataQuery() string {
	c.insertData++
	return c.Dialect.InsertDataQuery()
}

// newCountingHistorian builds a Historian whose writer wraps the sqlite
// dialect in a countingDialect.
func newCountingHistorian(t *testing.T, tables storage.TableNames) (*Historian, *countingDialect) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	params := map[string]any{"database": path}

	readerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	writerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	counting := &countingDialect{Dialect: writerDialect}

	h := &Historian{
		reader: storage.NewStore(readerDialect, "query"),
		writer: storage.NewStore(counting, "publish"),
		cache:  catalog.New(),
		logger: slog.Default().With("component", "historian"),
	}
	t.Cleanup(func() { h.Close() })
	require.NoError(t, h.Setup(context.Background()))
	return h, counting
}

// alwaysLockDialect classifies every commit failure as lock contention, so
// tests can drive the commit classification path without racing a second
// writer.
type alwaysLockDialect struct {
	storage.Dialect
}

func (d *alwaysLockDialect) IsLockError(err error) bool { return err != nil }

func newLockClassifyingHistorian(t *testing.T, tables storage.TableNames) *Historian {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	params := map[string]any{"database": path}

	readerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	writerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	locking := &alwaysLockDialect{Dialect: writerDialect}

	h := &Historian{
		reader: storage.NewStore(readerDialect, "query"),
		writer: storage.NewStore(locking, "publish"),
		cache:  catalog.New(),
		logger: slog.Default().With("component", "historian"),
	}
	t.Cleanup(func() { h.Close() })
	require.NoError(t, h.Setup(context.Background()))
	return h
}

// failAfterDialect returns broken statement text from InsertDataQuery once
// the call count passes failAfter, to force a mid-batch statement error.
type failAfterDialect struct {
	storage.Dialect
	calls     int
	failAfter int
}

func (f *failAfterDialect) InsertDataQuery() string {
	f.calls++
	if f.calls > f.failAfter {
		return "INSERT INTO no_such_table (x) VALUES (?)"
	}
	return f.Dialect.InsertDataQuery()
}

func newFailingHistorian(t *testing.T, tables storage.TableNames, failAfter int) *Historian {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	params := map[string]any{"database": path}

	readerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	writerDialect, err := storage.NewDialect("sqlite", params, tables)
	require.NoError(t, err)
	failing := &failAfterDialect{Dialect: writerDialect, failAfter: failAfter}

	h := &Historian{
		reader: storage.NewStore(readerDialect, "query"),
		writer: storage.NewStore(failing, "publish"),
		cache:  catalog.New(),
		logger: slog.Default().With("component", "historian"),
	}
	t.Cleanup(func() { h.Close() })
	require.NoError(t, h.Setup(context.Background()))
	return h
}
