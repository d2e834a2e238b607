// Package historian implements the persistence engine: the batched publish
// pipeline, the query-resolution path, and the aggregate manager, all built
// on the storage backend contract.
//
// One Historian owns two independent store handles over the same tables:
// the reader services range queries and catalog lookups, the writer ingests
// publish batches. Each handle has its own physical connection (a backend
// may not support cross-context connection sharing); the only state they
// share is the in-memory topic catalog, which follows a single-writer
// (publish path) / multiple-reader discipline.
package historian

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gridscope/historian/internal/catalog"
	"github.com/gridscope/historian/internal/storage"
)

// Record is one timestamped observation arriving in a publish batch.
type Record struct {
	Timestamp time.Time      `json:"timestamp"`
	Topic     string         `json:"topic"`
	Value     any            `json:"value"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Result is the outcome of a historian query.
//
// Single-topic queries populate Values, and Metadata when the underlying
// topic has a cached snapshot. Multi-topic queries populate Topics only;
// metadata is attached only for single-topic results.
type Result struct {
	Values   []storage.Point            `json:"values,omitempty"`
	Metadata map[string]any             `json:"metadata,omitempty"`
	Topics   map[string][]storage.Point `json:"topics,omitempty"`
}

// Empty reports whether the query produced no rows.
func (r Result) Empty() bool {
	return len(r.Values) == 0 && len(r.Topics) == 0
}

// Historian is the persistence engine instance.
type Historian struct {
	reader *storage.Store
	writer *storage.Store
	cache  *catalog.Cache

	readOnly bool
	logger   *slog.Logger
}

// Option configures a Historian.
type Option func(*Historian)

// WithReadOnly skips schema bootstrap during Setup. Used by query-only
// deployments pointed at a store another instance writes.
func WithReadOnly(readOnly bool) Option {
	return func(h *Historian) {
		h.readOnly = readOnly
	}
}

// New builds a Historian from a connection descriptor. Two dialect
// instances are created so each execution context gets its own physical
// connection; both share one catalog cache.
func New(kind string, params map[string]any, tables storage.TableNames, opts ...Option) (*Historian, error) {
	reader, err := storage.OpenStore(kind, params, tables, "query")
	if err != nil {
		return nil, err
	}
	writer, err := storage.OpenStore(kind, params, tables, "publish")
	if err != nil {
		return nil, err
	}
	h := &Historian{
		reader: reader,
		writer: writer,
		cache:  catalog.New(),
		logger: slog.Default().With("component", "historian"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Setup bootstraps the schema (unless read-only) and loads the topic
// catalog from the backend's three map-producing operations. Must be called
// once before publishing or querying.
func (h *Historian) Setup(ctx context.Context) error {
	if !h.readOnly {
		if err := h.writer.SetupTables(ctx); err != nil {
			return err
		}
	}
	ids, names, err := h.writer.TopicMap(ctx)
	if err != nil {
		return fmt.Errorf("load topic map: %w", err)
	}
	h.cache.LoadTopics(ids, names)

	agg, err := h.writer.AggTopicMap(ctx)
	if err != nil {
		return fmt.Errorf("load aggregate topic map: %w", err)
	}
	h.cache.LoadAggTopics(agg)

	meta, err := h.writer.TopicMetaMap(ctx)
	if err != nil {
		return fmt.Errorf("load topic metadata map: %w", err)
	}
	h.cache.LoadMeta(meta)

	h.logger.Debug("loaded topic catalog", "topics", h.cache.Len(), "metadata", len(meta))
	return nil
}

// Close releases both physical connections.
func (h *Historian) Close() error {
	werr := h.writer.Close()
	rerr := h.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// TopicList returns the display names of all known topics.
func (h *Historian) TopicList() []string {
	return h.cache.TopicNames()
}

// TopicsByPattern returns normalized name -> id for topics matching the
// pattern, resolved against the backing store for ad-hoc exploration.
func (h *Historian) TopicsByPattern(ctx context.Context, pattern string) (map[string]int64, error) {
	return h.reader.TopicsByPattern(ctx, pattern)
}

// TopicsMetadata returns the cached metadata snapshot for each resolvable
// name, keyed by the name as given. Unknown names are simply absent.
func (h *Historian) TopicsMetadata(topics ...string) map[string]map[string]any {
	meta := make(map[string]map[string]any)
	for _, topic := range topics {
		if id, ok := h.cache.TopicID(storage.TopicKey(topic)); ok {
			meta[topic] = h.cache.Metadata(id)
		}
	}
	return meta
}

// AggregateTopics lists the configured aggregate topics.
func (h *Historian) AggregateTopics(ctx context.Context) ([]storage.AggTopic, error) {
	return h.reader.AggTopics(ctx)
}

// ManageDBSize invokes the backend's optional retention hook on the publish
// connection.
func (h *Historian) ManageDBSize(ctx context.Context, cutoff time.Time, limitGB float64) error {
	return h.writer.ManageDBSize(ctx, cutoff, limitGB)
}
