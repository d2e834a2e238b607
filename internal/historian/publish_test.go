package historian

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridscope/historian/internal/storage"
)

var pubBase = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestPublishBatch_Empty(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	published, err := h.PublishBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, published)
}

func TestPublishBatch_CreatesTopicAndStoresData(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	ctx := context.Background()

	published, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 70.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, published)

	assert.Equal(t, []string{"device/temp"}, h.TopicList())

	result, err := h.Query(ctx, []string{"device/temp"}, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Values, 1)
	assert.Equal(t, 70.5, result.Values[0].Value)
	assert.True(t, result.Values[0].Timestamp.Equal(pubBase))
}

func TestPublishBatch_ReusesTopicAcrossCasing(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "Device/Temp", Value: 1},
	})
	require.NoError(t, err)
	_, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "device/temp", Value: 2},
	})
	require.NoError(t, err)

	// One topic, display name follows the latest published casing.
	ids, err := h.TopicsByPattern(ctx, "%temp%")
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, []string{"device/temp"}, h.TopicList())

	result, err := h.Query(ctx, []string{"DEVICE/TEMP"}, storage.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Values, 2)
}

func TestPublishBatch_MetadataColocated(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 70.5, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	meta := h.TopicsMetadata("device/temp")
	assert.Equal(t, map[string]any{"units": "F"}, meta["device/temp"])
}

func TestPublishBatch_MetadataSplitTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "split.db")
	h := newTestHistorianAt(t, path, splitTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 70.5, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	meta := h.TopicsMetadata("device/temp")
	assert.Equal(t, map[string]any{"units": "F"}, meta["device/temp"])

	// A fresh instance over the same file loads the persisted snapshot.
	h2 := newTestHistorianAt(t, path, splitTables())
	meta = h2.TopicsMetadata("device/temp")
	assert.Equal(t, map[string]any{"units": "F"}, meta["device/temp"])
}

func TestPublishBatch_UnchangedMetadataSkipsWrites(t *testing.T) {
	h, counts := newCountingHistorian(t, colocatedTables())
	ctx := context.Background()

	rec := Record{Timestamp: pubBase, Topic: "device/temp", Value: 1, Meta: map[string]any{"units": "F"}}
	_, err := h.PublishBatch(ctx, []Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.insertTopicAndMeta)
	assert.Zero(t, counts.updateMeta)

	// Same topic, same metadata: no topic or metadata statement at all.
	rec.Timestamp = pubBase.Add(time.Minute)
	_, err = h.PublishBatch(ctx, []Record{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.insertTopicAndMeta)
	assert.Zero(t, counts.updateTopic)
	assert.Zero(t, counts.updateTopicAndMeta)
	assert.Zero(t, counts.updateMeta)
	assert.Equal(t, 2, counts.insertData)
}

func TestPublishBatch_ChangedMetadataColocatedUpdate(t *testing.T) {
	h, counts := newCountingHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 1, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	_, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "device/temp", Value: 2, Meta: map[string]any{"units": "C"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.updateMeta)

	meta := h.TopicsMetadata("device/temp")
	assert.Equal(t, map[string]any{"units": "C"}, meta["device/temp"])
}

func TestPublishBatch_RenameWithMetadataOneStatement(t *testing.T) {
	h, counts := newCountingHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 1, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	// Display casing and metadata change together: one combined update, no
	// separate metadata statement.
	_, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "Device/Temp", Value: 2, Meta: map[string]any{"units": "C"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.updateTopicAndMeta)
	assert.Zero(t, counts.updateTopic)
	assert.Zero(t, counts.updateMeta)

	assert.Equal(t, []string{"Device/Temp"}, h.TopicList())
	meta := h.TopicsMetadata("Device/Temp")
	assert.Equal(t, map[string]any{"units": "C"}, meta["Device/Temp"])
}

func TestPublishBatch_RenameWithoutMetadataChange(t *testing.T) {
	h, counts := newCountingHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 1, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	_, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "Device/Temp", Value: 2, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.updateTopic)
	assert.Zero(t, counts.updateTopicAndMeta)
	assert.Zero(t, counts.updateMeta)
}

func TestPublishBatch_NewTopicSplitTableMetadataInserted(t *testing.T) {
	h, counts := newCountingHistorian(t, splitTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 1, Meta: map[string]any{"units": "F"}},
	})
	require.NoError(t, err)

	// Separate metadata table: plain topic insert plus a metadata insert.
	assert.Equal(t, 1, counts.insertTopic)
	assert.Zero(t, counts.insertTopicAndMeta)
	assert.Equal(t, 1, counts.insertMeta)
}

func TestPublishBatch_MidBatchFailureRollsBackAll(t *testing.T) {
	// The third data insert fails; the two earlier records must roll back.
	h := newFailingHistorian(t, colocatedTables(), 2)
	ctx := context.Background()

	batch := []Record{
		{Timestamp: pubBase, Topic: "device/a", Value: 1},
		{Timestamp: pubBase, Topic: "device/b", Value: 2},
		{Timestamp: pubBase, Topic: "device/c", Value: 3},
	}
	published, err := h.PublishBatch(ctx, batch)
	require.Error(t, err)
	assert.Zero(t, published)

	// Nothing from the batch is visible, topics included.
	ids, err := h.TopicsByPattern(ctx, "%")
	require.NoError(t, err)
	assert.Empty(t, ids)

	result, err := h.Query(ctx, []string{"device/a"}, storage.QueryOptions{})
	require.NoError(t, err)
	assert.True(t, result.Empty())
}

func TestPublishBatch_MixedKnownAndNewTopics(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	ctx := context.Background()

	_, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/a", Value: 1},
	})
	require.NoError(t, err)

	published, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "device/a", Value: 2},
		{Timestamp: pubBase, Topic: "device/b", Value: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, []string{"device/a", "device/b"}, h.TopicList())
}

func TestPublishBatch_DuplicateTimestampReplaces(t *testing.T) {
	h := newTestHistorian(t, colocatedTables())
	ctx := context.Background()

	for _, v := range []float64{1, 2} {
		_, err := h.PublishBatch(ctx, []Record{
			{Timestamp: pubBase, Topic: "device/temp", Value: v},
		})
		require.NoError(t, err)
	}

	result, err := h.Query(ctx, []string{"device/temp"}, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, result.Values, 1)
	assert.Equal(t, 2.0, result.Values[0].Value)
}

func TestPublishBatch_CommitFailureSurfacesAsLockError(t *testing.T) {
	h := newLockClassifyingHistorian(t, colocatedTables())
	ctx := context.Background()

	// A deferred constraint moves the failure to commit time, after every
	// statement of the batch has succeeded.
	_, err := h.writer.Execute(ctx, `CREATE TABLE parents (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = h.writer.Execute(ctx, `CREATE TABLE children (
		id INTEGER PRIMARY KEY,
		parent_id INTEGER NOT NULL REFERENCES parents (id) DEFERRABLE INITIALLY DEFERRED)`)
	require.NoError(t, err)
	_, err = h.writer.Commit()
	require.NoError(t, err)

	rows, err := h.writer.Select(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	_, err = h.writer.Execute(ctx, "INSERT INTO children (id, parent_id) VALUES (1, 999)")
	require.NoError(t, err)

	published, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 70.5},
	})
	require.Error(t, err)
	assert.Zero(t, published)
	var lockErr *storage.LockError
	assert.ErrorAs(t, err, &lockErr)
	assert.True(t, storage.IsLockError(err))

	// The rollback removed the offending row, so the same batch can be
	// redelivered.
	published, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 70.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestPublishBatch_ConcurrentWriterContention(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	params := map[string]any{"database": path, "timeout": 0}
	tables := colocatedTables()
	ctx := context.Background()

	h, err := New("sqlite", params, tables)
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	require.NoError(t, h.Setup(ctx))

	published, err := h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase, Topic: "device/temp", Value: 1.0},
	})
	require.NoError(t, err)
	require.Equal(t, 1, published)

	// A second writer holds the write lock through an uncommitted insert.
	rival, err := storage.OpenStore("sqlite", params, tables, "rival")
	require.NoError(t, err)
	t.Cleanup(func() { rival.Close() })
	_, err = rival.InsertTopic(ctx, "rival/topic", nil)
	require.NoError(t, err)

	published, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "device/temp", Value: 2.0},
	})
	require.Error(t, err)
	assert.Zero(t, published)
	assert.True(t, h.writer.Dialect().IsLockError(err))

	// Releasing the lock makes the batch eligible for redelivery.
	_, err = rival.Rollback()
	require.NoError(t, err)
	published, err = h.PublishBatch(ctx, []Record{
		{Timestamp: pubBase.Add(time.Minute), Topic: "device/temp", Value: 2.0},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestMetaEqual(t *testing.T) {
	assert.True(t, metaEqual(nil, map[string]any{}))
	assert.True(t, metaEqual(map[string]any{}, nil))
	assert.True(t, metaEqual(map[string]any{"a": 1.0}, map[string]any{"a": 1.0}))
	assert.False(t, metaEqual(map[string]any{"a": 1.0}, map[string]any{"a": 2.0}))
	assert.False(t, metaEqual(map[string]any{"a": 1.0}, map[string]any{}))
}
