package historian

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gridscope/historian/internal/storage"
)

// PublishBatch persists an ordered batch of records and returns how many
// were published. The whole batch commits or rolls back as one unit: any
// mid-batch statement failure rolls everything back and propagates, so the
// caller can treat the batch as unhandled and eligible for redelivery.
//
// Per record, in batch order: resolve or create the topic id, detect
// display-name and metadata changes, then insert the data row through the
// scoped bulk-insert channel. A record whose data insert reports failure
// without erroring is not counted but does not fail the batch.
func (h *Historian) PublishBatch(ctx context.Context, batch []Record) (int, error) {
	if len(batch) == 0 {
		h.logger.Warn("empty publish batch")
		return 0, nil
	}

	insertData, flushData := h.writer.BulkInsertData()
	insertMeta, flushMeta := h.writer.BulkInsertMeta()

	published := 0
	for _, rec := range batch {
		if err := h.publishRecord(ctx, rec, insertData, insertMeta, &published); err != nil {
			h.abortBatch(err)
			return 0, err
		}
	}

	if err := flushData(ctx); err != nil {
		err = fmt.Errorf("flush data inserts: %w", err)
		h.abortBatch(err)
		return 0, err
	}
	if err := flushMeta(ctx); err != nil {
		err = fmt.Errorf("flush metadata inserts: %w", err)
		h.abortBatch(err)
		return 0, err
	}

	if published == 0 {
		h.logger.Warn("unable to publish any record", "batch_size", len(batch))
		return 0, nil
	}

	if _, err := h.writer.Commit(); err != nil {
		h.logger.Warn("commit failed, rolling back batch", "published", published, "error", err)
		if _, rberr := h.writer.Rollback(); rberr != nil {
			h.logger.Error("rollback after failed commit also failed", "error", rberr)
		}
		return 0, err
	}
	h.logger.Debug("batch committed", "published", published, "batch_size", len(batch))
	return published, nil
}

// publishRecord runs the insert-or-update decision logic for one record.
// metaHandled tracks whether a topic insert/update already carried the
// metadata (only possible when topic and metadata are co-located), in which
// case the co-located meta-only update is skipped.
func (h *Historian) publishRecord(ctx context.Context, rec Record, insertData storage.DataInsertFunc, insertMeta storage.MetaInsertFunc, published *int) error {
	key := storage.TopicKey(rec.Topic)
	meta := rec.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	topicID, known := h.cache.TopicID(key)
	dbName, _ := h.cache.DisplayName(key)
	oldMeta := h.cache.Metadata(topicID)
	metaHandled := false

	switch {
	case !known:
		// Metadata rides along in the same statement when co-located.
		id, err := h.writer.InsertTopic(ctx, rec.Topic, meta)
		if err != nil {
			return err
		}
		topicID = id
		h.cache.SetTopic(key, rec.Topic, topicID)
		metaHandled = true
		oldMeta = map[string]any{}

	case dbName != rec.Topic:
		// The most recently published casing becomes the display name.
		if !metaEqual(oldMeta, meta) {
			h.logger.Debug("topic metadata changed with display name", "topic", rec.Topic)
			if err := h.writer.UpdateTopic(ctx, rec.Topic, topicID, meta); err != nil {
				return err
			}
			metaHandled = true
		} else {
			if err := h.writer.UpdateTopic(ctx, rec.Topic, topicID, nil); err != nil {
				return err
			}
		}
		h.cache.SetDisplayName(key, rec.Topic)
	}

	if !metaEqual(oldMeta, meta) {
		if !h.writer.Colocated() {
			// Separate metadata table: always goes through the bulk channel.
			if _, err := insertMeta(ctx, topicID, meta); err != nil {
				return err
			}
		} else if !metaHandled {
			if err := h.writer.UpdateMeta(ctx, topicID, meta); err != nil {
				return err
			}
		}
		h.cache.SetMetadata(topicID, meta)
	}

	ok, err := insertData(ctx, rec.Timestamp, topicID, rec.Value)
	if err != nil {
		return err
	}
	if ok {
		*published++
	}
	return nil
}

// abortBatch rolls back after a mid-batch failure; the original error is
// what propagates to the caller.
func (h *Historian) abortBatch(cause error) {
	h.logger.Error("aborting publish batch", "error", cause)
	if _, err := h.writer.Rollback(); err != nil {
		h.logger.Error("rollback failed", "error", err)
	}
}

// metaEqual compares metadata snapshots structurally. Snapshots come from
// JSON decoding or from collaborators constructing plain maps, so deep
// equality over the normalized forms is sufficient.
func metaEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
