package historian

import (
	"context"
	"strings"
	"time"

	"github.com/gridscope/historian/internal/storage"
)

// Aggregate management. These operations run on the publish connection and
// commit immediately; aggregate writes are never batched with raw-data
// publishing.

// CreateAggregateStore idempotently creates the per-period aggregate table
// for the given type and period.
func (h *Historian) CreateAggregateStore(ctx context.Context, aggType, period string) error {
	return h.writer.CreateAggregateStore(ctx, strings.ToLower(aggType), period)
}

// InsertAggregate writes one computed aggregate row. end is the exclusive
// boundary of the aggregation window; sourceIDs are the topic ids the value
// was computed over.
func (h *Historian) InsertAggregate(ctx context.Context, aggTopicID int64, aggType, period string, end time.Time, value float64, sourceIDs []int64) error {
	return h.writer.InsertAggregate(ctx, aggTopicID, strings.ToLower(aggType), period, end, value, sourceIDs)
}

// InsertAggTopic registers a new aggregate topic, caches its id under the
// (name, type, period) triple, and commits.
func (h *Historian) InsertAggTopic(ctx context.Context, name, aggType, period string) (int64, error) {
	aggType = strings.ToLower(aggType)
	id, err := h.writer.InsertAggTopic(ctx, name, aggType, period)
	if err != nil {
		return 0, err
	}
	if _, err := h.writer.Commit(); err != nil {
		return 0, err
	}
	h.cache.SetAggTopic(storage.AggTopicKey{
		Name:      storage.TopicKey(name),
		AggType:   aggType,
		AggPeriod: period,
	}, id)
	return id, nil
}

// UpdateAggTopic renames an aggregate topic and commits.
func (h *Historian) UpdateAggTopic(ctx context.Context, aggID int64, name string) error {
	if err := h.writer.UpdateAggTopic(ctx, aggID, name); err != nil {
		return err
	}
	_, err := h.writer.Commit()
	return err
}

// InsertAggMeta replaces the metadata of an aggregate topic and commits.
// Aggregate metadata always lives in its own table; co-location never
// applies here.
func (h *Historian) InsertAggMeta(ctx context.Context, aggID int64, meta map[string]any) error {
	if err := h.writer.InsertAggMeta(ctx, aggID, meta); err != nil {
		return err
	}
	_, err := h.writer.Commit()
	return err
}

// CollectAggregate computes one aggregate value over the raw data of the
// given topics in [start, end) and returns it with the sample count.
func (h *Historian) CollectAggregate(ctx context.Context, topicIDs []int64, aggType string, start, end time.Time) (float64, int, error) {
	return h.reader.CollectAggregate(ctx, topicIDs, strings.ToLower(aggType), start, end)
}

// AggregationList names the aggregate functions the backend supports.
func (h *Historian) AggregationList() []string {
	return h.reader.Dialect().AggregationList()
}
