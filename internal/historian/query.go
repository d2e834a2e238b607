package historian

import (
	"context"
	"strings"

	"github.com/gridscope/historian/internal/storage"
)

// Query resolves topic names through the catalog cache and delegates the
// range retrieval to the backend.
//
// Names that do not resolve are logged and excluded rather than failing the
// query; when no name resolves the result is empty. With an aggregation
// descriptor, resolution goes through the aggregate map, refreshing it from
// the backend once per miss to cover aggregations configured after startup.
//
// Metadata is attached only to single-topic results: for a raw query it is
// the queried topic's snapshot; for a single-topic aggregate it is the
// underlying (non-aggregate) topic's snapshot when one exists.
func (h *Historian) Query(ctx context.Context, topics []string, opts storage.QueryOptions) (Result, error) {
	opts.AggType = strings.ToLower(opts.AggType)
	multi := len(topics) > 1

	var ids []int64
	names := make(map[int64]string)
	for _, topic := range topics {
		id, ok, err := h.resolveTopic(ctx, topic, opts)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			h.logger.Warn("no such topic", "topic", topic)
			continue
		}
		ids = append(ids, id)
		names[id] = topic
	}
	if len(ids) == 0 {
		h.logger.Warn("no topic ids resolved, returning empty result", "topics", topics)
		return Result{}, nil
	}

	values, err := h.reader.Query(ctx, ids, names, opts)
	if err != nil {
		return Result{}, err
	}
	if len(values) == 0 {
		return Result{}, nil
	}
	if multi {
		return Result{Topics: values}, nil
	}

	// Single-topic result: unwrap and attach metadata.
	var points []storage.Point
	for _, v := range values {
		points = v
	}
	if len(points) == 0 {
		return Result{}, nil
	}

	meta := map[string]any{}
	if opts.AggType != "" {
		// A single-topic aggregate takes its metadata from the underlying
		// topic id when the name resolves in the topic map; a name that
		// does not is a configured aggregation spanning multiple points.
		if tid, ok := h.cache.TopicID(storage.TopicKey(topics[0])); ok {
			meta = h.cache.Metadata(tid)
		}
	} else {
		meta = h.cache.Metadata(ids[0])
	}
	return Result{Values: points, Metadata: meta}, nil
}

// resolveTopic maps one name to a topic id (raw queries) or an aggregate
// topic id (aggregate queries).
func (h *Historian) resolveTopic(ctx context.Context, topic string, opts storage.QueryOptions) (int64, bool, error) {
	key := storage.TopicKey(topic)
	if opts.AggType == "" {
		id, ok := h.cache.TopicID(key)
		return id, ok, nil
	}

	aggKey := storage.AggTopicKey{Name: key, AggType: opts.AggType, AggPeriod: opts.AggPeriod}
	if id, ok := h.cache.AggTopicID(aggKey); ok {
		return id, true, nil
	}
	// Might be a newly configured aggregation; reload the map once.
	aggMap, err := h.reader.AggTopicMap(ctx)
	if err != nil {
		return 0, false, err
	}
	h.cache.LoadAggTopics(aggMap)
	id, ok := h.cache.AggTopicID(aggKey)
	return id, ok, nil
}
