package storage

import (
	"context"
	"database/sql"
	"time"
)

// Execer executes statements. Satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer runs queries. Satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the contract a concrete SQL backend satisfies. A dialect
// instance is bound to one connection descriptor and one table set; it owns
// statement text but never connection state, which belongs to ConnManager.
//
// Statement generators return parameterized statement text in the dialect's
// placeholder style. Argument order is fixed:
//
//	InsertDataQuery:          (ts, topic_id, value)
//	InsertTopicQuery:         (topic_name)
//	InsertTopicAndMetaQuery:  (topic_name, metadata)
//	UpdateTopicQuery:         (topic_name, topic_id)
//	UpdateTopicAndMetaQuery:  (topic_name, metadata, topic_id)
//	InsertMetaQuery:          (topic_id, metadata)
//	UpdateMetaQuery:          (metadata, topic_id)
//	InsertAggTopicQuery:      (agg_topic_name, agg_type, agg_time_period)
//	UpdateAggTopicQuery:      (agg_topic_name, agg_topic_id)
//	ReplaceAggMetaQuery:      (agg_topic_id, metadata)
//	InsertAggregateQuery:     (ts, agg_topic_id, value, topics_list)
type Dialect interface {
	// Connect opens a new physical connection handle. Called by ConnManager
	// whenever it needs to (re-)establish its connection.
	Connect() (*sql.DB, error)

	// SetupTables idempotently creates the topics, metadata, data and
	// aggregate catalog tables if they do not exist.
	SetupTables(ctx context.Context, ex Execer) error

	// TopicMap loads the full topic catalog: normalized name -> id and
	// normalized name -> display name.
	TopicMap(ctx context.Context, q Queryer) (map[string]int64, map[string]string, error)

	// AggTopicMap loads the aggregate topic catalog keyed by the
	// (name, type, period) triple.
	AggTopicMap(ctx context.Context, q Queryer) (map[AggTopicKey]int64, error)

	// AggTopics lists configured aggregate topics together with the source
	// topic pattern recorded in the aggregate metadata table.
	AggTopics(ctx context.Context, q Queryer) ([]AggTopic, error)

	// TopicMetaMap loads the metadata snapshot for every topic id.
	TopicMetaMap(ctx context.Context, q Queryer) (map[int64]map[string]any, error)

	// TopicsByPattern returns normalized name -> id for topics whose display
	// name matches the pattern.
	TopicsByPattern(ctx context.Context, q Queryer, pattern string) (map[string]int64, error)

	InsertDataQuery() string
	InsertTopicQuery() string
	InsertTopicAndMetaQuery() string
	UpdateTopicQuery() string
	UpdateTopicAndMetaQuery() string
	InsertMetaQuery() string
	UpdateMetaQuery() string
	InsertAggTopicQuery() string
	UpdateAggTopicQuery() string
	ReplaceAggMetaQuery() string
	InsertAggregateQuery(table string) string

	// CreateAggregateStore idempotently creates the per-period aggregate
	// table named AggregateTable(aggType, period).
	CreateAggregateStore(ctx context.Context, ex Execer, aggType, period string) error

	// Query retrieves rows for the given topic ids, mapped back to display
	// names via names. Start is inclusive, End exclusive. Count and Skip
	// apply per topic. Topics with no rows are absent from the result.
	Query(ctx context.Context, q Queryer, ids []int64, names map[int64]string, opts QueryOptions) (map[string][]Point, error)

	// CollectAggregate computes one aggregate value over the raw data of the
	// given topics in [start, end) and returns it with the sample count.
	CollectAggregate(ctx context.Context, q Queryer, ids []int64, aggType string, start, end time.Time) (float64, int, error)

	// AggregationList names the aggregate functions this backend supports.
	AggregationList() []string

	// IsLockError reports whether err is the backend's lock/contention
	// condition. Used to surface commit failures distinctly.
	IsLockError(err error) bool

	// Tables returns the table set this dialect instance is bound to.
	Tables() TableNames
}

// SizeManager is the optional retention hook. Dialects that support it
// delete data older than the cutoff and then oldest-first until the store is
// under the size ceiling. Dialects without it make ManageDBSize a no-op.
type SizeManager interface {
	ManageDBSize(ctx context.Context, db *sql.DB, cutoff time.Time, limitGB float64) error
}

// DataInsertFunc persists one data row. It reports whether the row was
// accepted; a non-nil error aborts the whole batch.
type DataInsertFunc func(ctx context.Context, ts time.Time, topicID int64, value any) (bool, error)

// MetaInsertFunc persists one metadata document for a topic.
type MetaInsertFunc func(ctx context.Context, topicID int64, meta map[string]any) (bool, error)

// BulkLoader lets a dialect substitute specialized multi-row loaders for the
// scoped bulk-insert channels. The returned flush function runs when the
// scope closes, before commit. Without this interface the Store falls back
// to one statement execution per record.
type BulkLoader interface {
	BulkInsertData(st *Store) (DataInsertFunc, func(ctx context.Context) error)
	BulkInsertMeta(st *Store) (MetaInsertFunc, func(ctx context.Context) error)
}
