package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Store is the generic driver for one execution context: a Dialect for
// statement text plus a ConnManager for connection state. Two Store
// instances built from the same descriptor talk to the same tables over
// independent physical connections.
type Store struct {
	dialect Dialect
	conn    *ConnManager
	logger  *slog.Logger
}

// NewStore wraps a dialect instance in a fresh connection manager. name
// labels the owning execution context in logs.
func NewStore(d Dialect, name string) *Store {
	return &Store{
		dialect: d,
		conn:    NewConnManager(name, d.Connect),
		logger:  slog.Default().With("store", name),
	}
}

// Dialect returns the dialect this store is bound to.
func (s *Store) Dialect() Dialect { return s.dialect }

// Tables returns the physical table set.
func (s *Store) Tables() TableNames { return s.dialect.Tables() }

// Colocated reports whether topic and metadata share one physical table.
// This single flag decides which statement generators the publish pipeline
// invokes; it does not change the pipeline's external behavior.
func (s *Store) Colocated() bool { return s.dialect.Tables().Colocated() }

// SetupTables idempotently bootstraps the schema.
func (s *Store) SetupTables(ctx context.Context) error {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}
	if err := s.dialect.SetupTables(ctx, db); err != nil {
		return fmt.Errorf("setup tables: %w", err)
	}
	return nil
}

// TopicMap loads normalized name -> id and normalized name -> display name.
func (s *Store) TopicMap(ctx context.Context) (map[string]int64, map[string]string, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s.dialect.TopicMap(ctx, db)
}

// AggTopicMap loads the aggregate topic catalog.
func (s *Store) AggTopicMap(ctx context.Context) (map[AggTopicKey]int64, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return s.dialect.AggTopicMap(ctx, db)
}

// AggTopics lists configured aggregate topics.
func (s *Store) AggTopics(ctx context.Context) ([]AggTopic, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return s.dialect.AggTopics(ctx, db)
}

// TopicMetaMap loads the metadata snapshot for every topic id.
func (s *Store) TopicMetaMap(ctx context.Context) (map[int64]map[string]any, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return s.dialect.TopicMetaMap(ctx, db)
}

// TopicsByPattern returns normalized name -> id for matching topics.
func (s *Store) TopicsByPattern(ctx context.Context, pattern string) (map[string]int64, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return s.dialect.TopicsByPattern(ctx, db, pattern)
}

// Query delegates a range query to the dialect. Reads run outside any
// transaction on this store's own connection.
func (s *Store) Query(ctx context.Context, ids []int64, names map[int64]string, opts QueryOptions) (map[string][]Point, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return s.dialect.Query(ctx, db, ids, names, opts)
}

// CollectAggregate computes one aggregate value over [start, end).
func (s *Store) CollectAggregate(ctx context.Context, ids []int64, aggType string, start, end time.Time) (float64, int, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return 0, 0, err
	}
	return s.dialect.CollectAggregate(ctx, db, ids, aggType, start, end)
}

// InsertTopic creates a new topic and returns its backend-assigned id. When
// topics and metadata are co-located and metadata is present, both are
// written in one statement.
func (s *Store) InsertTopic(ctx context.Context, topic string, meta map[string]any) (int64, error) {
	var (
		query string
		args  []any
	)
	if s.Colocated() && topic != "" && len(meta) > 0 {
		doc, err := marshalDoc(meta)
		if err != nil {
			return 0, fmt.Errorf("insert topic %s: %w", topic, err)
		}
		query = s.dialect.InsertTopicAndMetaQuery()
		args = []any{topic, doc}
	} else {
		query = s.dialect.InsertTopicQuery()
		args = []any{topic}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("insert topic %s: %w", topic, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert topic %s: last insert id: %w", topic, err)
	}
	return id, nil
}

// UpdateTopic updates a topic's display name, and its metadata too in the
// same statement when co-located and metadata is supplied.
func (s *Store) UpdateTopic(ctx context.Context, topic string, topicID int64, meta map[string]any) error {
	if s.Colocated() && topic != "" && len(meta) > 0 {
		doc, err := marshalDoc(meta)
		if err != nil {
			return fmt.Errorf("update topic %d: %w", topicID, err)
		}
		if _, err := s.exec(ctx, s.dialect.UpdateTopicAndMetaQuery(), topic, doc, topicID); err != nil {
			return fmt.Errorf("update topic %d: %w", topicID, err)
		}
		return nil
	}
	if _, err := s.exec(ctx, s.dialect.UpdateTopicQuery(), topic, topicID); err != nil {
		return fmt.Errorf("update topic %d: %w", topicID, err)
	}
	return nil
}

// InsertMeta writes the metadata document for a topic into the metadata
// table. Reports true when the statement executed.
func (s *Store) InsertMeta(ctx context.Context, topicID int64, meta map[string]any) (bool, error) {
	doc, err := marshalDoc(meta)
	if err != nil {
		return false, fmt.Errorf("insert meta for topic %d: %w", topicID, err)
	}
	if _, err := s.exec(ctx, s.dialect.InsertMetaQuery(), topicID, doc); err != nil {
		return false, fmt.Errorf("insert meta for topic %d: %w", topicID, err)
	}
	return true, nil
}

// UpdateMeta updates the metadata column of a co-located topics table.
func (s *Store) UpdateMeta(ctx context.Context, topicID int64, meta map[string]any) error {
	doc, err := marshalDoc(meta)
	if err != nil {
		return fmt.Errorf("update meta for topic %d: %w", topicID, err)
	}
	if _, err := s.exec(ctx, s.dialect.UpdateMetaQuery(), doc, topicID); err != nil {
		return fmt.Errorf("update meta for topic %d: %w", topicID, err)
	}
	return nil
}

// InsertData writes one data row. Reports true when the row was accepted.
func (s *Store) InsertData(ctx context.Context, ts time.Time, topicID int64, value any) (bool, error) {
	doc, err := marshalDoc(value)
	if err != nil {
		return false, fmt.Errorf("insert data for topic %d: %w", topicID, err)
	}
	if _, err := s.exec(ctx, s.dialect.InsertDataQuery(), FormatTime(ts), topicID, doc); err != nil {
		return false, fmt.Errorf("insert data for topic %d: %w", topicID, err)
	}
	return true, nil
}

// BulkInsertData opens the scoped data-insert channel for one publish batch.
// The default yields the single-row insert; a dialect implementing
// BulkLoader substitutes its own loader. The returned flush runs when the
// batch ends, before commit.
func (s *Store) BulkInsertData() (DataInsertFunc, func(ctx context.Context) error) {
	if bl, ok := s.dialect.(BulkLoader); ok {
		return bl.BulkInsertData(s)
	}
	return s.InsertData, func(context.Context) error { return nil }
}

// BulkInsertMeta opens the scoped metadata-insert channel for one publish
// batch, with the same override rules as BulkInsertData.
func (s *Store) BulkInsertMeta() (MetaInsertFunc, func(ctx context.Context) error) {
	if bl, ok := s.dialect.(BulkLoader); ok {
		return bl.BulkInsertMeta(s)
	}
	return s.InsertMeta, func(context.Context) error { return nil }
}

// InsertAggTopic creates an aggregate topic and returns its id.
func (s *Store) InsertAggTopic(ctx context.Context, name, aggType, aggPeriod string) (int64, error) {
	res, err := s.exec(ctx, s.dialect.InsertAggTopicQuery(), name, aggType, aggPeriod)
	if err != nil {
		return 0, fmt.Errorf("insert aggregate topic %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert aggregate topic %s: last insert id: %w", name, err)
	}
	return id, nil
}

// UpdateAggTopic renames an aggregate topic.
func (s *Store) UpdateAggTopic(ctx context.Context, aggID int64, name string) error {
	if _, err := s.exec(ctx, s.dialect.UpdateAggTopicQuery(), name, aggID); err != nil {
		return fmt.Errorf("update aggregate topic %d: %w", aggID, err)
	}
	return nil
}

// InsertAggMeta replaces the metadata document of an aggregate topic.
func (s *Store) InsertAggMeta(ctx context.Context, aggID int64, meta map[string]any) error {
	doc, err := marshalDoc(meta)
	if err != nil {
		return fmt.Errorf("insert aggregate meta for %d: %w", aggID, err)
	}
	if _, err := s.exec(ctx, s.dialect.ReplaceAggMetaQuery(), aggID, doc); err != nil {
		return fmt.Errorf("insert aggregate meta for %d: %w", aggID, err)
	}
	return nil
}

// CreateAggregateStore idempotently creates the per-period aggregate table
// and commits immediately; aggregate storage is never part of a publish
// batch.
func (s *Store) CreateAggregateStore(ctx context.Context, aggType, period string) error {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}
	if err := s.dialect.CreateAggregateStore(ctx, db, aggType, period); err != nil {
		return fmt.Errorf("create aggregate store %s: %w", AggregateTable(aggType, period), err)
	}
	return nil
}

// InsertAggregate writes one computed aggregate row into the
// {type}_{period} table and commits immediately. ts is the exclusive end of
// the aggregation window; sourceIDs records the topic ids the value was
// computed over.
func (s *Store) InsertAggregate(ctx context.Context, aggTopicID int64, aggType, period string, ts time.Time, value float64, sourceIDs []int64) error {
	table := AggregateTable(aggType, period)
	doc, err := marshalDoc(sourceIDs)
	if err != nil {
		return fmt.Errorf("insert aggregate into %s: %w", table, err)
	}
	s.logger.Debug("inserting aggregate",
		"table", table,
		"agg_topic_id", aggTopicID,
		"ts", FormatTime(ts),
		"value", value,
	)
	if _, err := s.exec(ctx, s.dialect.InsertAggregateQuery(table), FormatTime(ts), aggTopicID, value, doc); err != nil {
		return fmt.Errorf("insert aggregate into %s: %w", table, err)
	}
	if _, err := s.Commit(); err != nil {
		return fmt.Errorf("insert aggregate into %s: %w", table, err)
	}
	return nil
}

// ManageDBSize invokes the dialect's retention hook, if it has one. cutoff
// removes all data older than that timestamp; limitGB removes oldest data
// until the store is under the ceiling. Zero values disable either bound.
func (s *Store) ManageDBSize(ctx context.Context, cutoff time.Time, limitGB float64) error {
	sm, ok := s.dialect.(SizeManager)
	if !ok {
		return nil
	}
	db, err := s.conn.DB(ctx)
	if err != nil {
		return err
	}
	return sm.ManageDBSize(ctx, db, cutoff, limitGB)
}

// Commit commits the current batch. A failure the dialect classifies as
// lock contention is logged with remediation guidance and returned as
// *LockError; the caller decides whether to retry the batch.
func (s *Store) Commit() (bool, error) {
	ok, err := s.conn.Commit()
	if err != nil {
		if s.dialect.IsLockError(err) {
			s.logger.Error("commit failed: the database reports the store as locked. "+
				"This can happen when simultaneous read and write requests make individual "+
				"requests wait longer than the backend's lock timeout. Configure a higher "+
				"timeout in the connection params (for sqlite: params.timeout, in seconds).",
				"error", err,
			)
			return false, &LockError{Cause: err}
		}
		return false, fmt.Errorf("commit: %w", err)
	}
	return ok, nil
}

// Rollback rolls back the current batch.
func (s *Store) Rollback() (bool, error) {
	return s.conn.Rollback()
}

// Close releases the physical connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Select runs an arbitrary read statement on the store's connection and
// returns the rows. Callers own the returned *sql.Rows and must close it.
func (s *Store) Select(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	db, err := s.conn.DB(ctx)
	if err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, args...)
}

// Execute runs an arbitrary write statement inside the store's current
// transaction, beginning one if needed. The statement is not committed;
// pair with Commit or Rollback.
func (s *Store) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.exec(ctx, query, args...)
}

// exec runs one statement inside the current transaction, beginning one if
// needed. Statement errors propagate unchanged to the caller.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.conn.Tx(ctx)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}
