// Package sqlite implements the storage.Dialect contract on SQLite via
// mattn/go-sqlite3.
//
// The database is configured with WAL mode for concurrent reads during
// writes, NORMAL synchronous mode, and a configurable busy timeout for lock
// contention. Each dialect instance owns exactly one physical connection
// (max open conns = 1); the historian gives its query and publish contexts
// separate instances.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/gridscope/historian/internal/storage"
)

func init() {
	storage.Register("sqlite", New)
}

// DefaultTimeout is the busy timeout, in seconds, applied when the
// connection params carry none.
const DefaultTimeout = 10

// Dialect is the SQLite implementation of the backend contract.
type Dialect struct {
	path    string
	timeout int
	tables  storage.TableNames
	logger  *slog.Logger
}

// New builds a sqlite dialect from connection params. Recognized params:
//
//	database: path to the database file (required)
//	timeout:  busy timeout in seconds (default 10)
func New(params map[string]any, tables storage.TableNames) (storage.Dialect, error) {
	path, _ := params["database"].(string)
	if path == "" {
		return nil, errors.New("sqlite: params.database is required")
	}
	timeout := DefaultTimeout
	switch v := params["timeout"].(type) {
	case int:
		timeout = v
	case float64:
		timeout = int(v)
	case nil:
	default:
		return nil, fmt.Errorf("sqlite: params.timeout must be a number, got %T", v)
	}
	return &Dialect{
		path:    path,
		timeout: timeout,
		tables:  tables,
		logger:  slog.Default().With("dialect", "sqlite"),
	}, nil
}

// Tables returns the table set this instance is bound to.
func (d *Dialect) Tables() storage.TableNames { return d.tables }

// Connect opens the database file, creating it if absent, and applies the
// required pragmas. SQLite supports one writer at a time, so the pool is
// capped at a single connection.
func (d *Dialect) Connect() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", d.path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", d.path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", d.path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := d.applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d *Dialect) applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", d.timeout*1000),
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// SetupTables creates the topic, metadata, data and aggregate catalog
// tables if absent. With co-located metadata the topics table carries the
// metadata column and no separate metadata table exists.
func (d *Dialect) SetupTables(ctx context.Context, ex storage.Execer) error {
	t := d.tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts TEXT NOT NULL,
			topic_id INTEGER NOT NULL,
			value_string TEXT NOT NULL,
			UNIQUE(topic_id, ts))`, t.Data),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts ASC)`, t.Data, t.Data),
	}
	if t.Colocated() {
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			topic_id INTEGER PRIMARY KEY AUTOINCREMENT,
			topic_name TEXT NOT NULL,
			metadata TEXT,
			UNIQUE(topic_name COLLATE NOCASE))`, t.Topics))
	} else {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				topic_id INTEGER PRIMARY KEY AUTOINCREMENT,
				topic_name TEXT NOT NULL,
				UNIQUE(topic_name COLLATE NOCASE))`, t.Topics),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				topic_id INTEGER PRIMARY KEY,
				metadata TEXT NOT NULL)`, t.Meta))
	}
	stmts = append(stmts,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			agg_topic_id INTEGER PRIMARY KEY AUTOINCREMENT,
			agg_topic_name TEXT NOT NULL,
			agg_type TEXT NOT NULL,
			agg_time_period TEXT NOT NULL,
			UNIQUE(agg_topic_name, agg_type, agg_time_period))`, t.AggTopics),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			agg_topic_id INTEGER PRIMARY KEY,
			metadata TEXT NOT NULL)`, t.AggMeta))
	for _, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// TopicMap loads normalized name -> id and normalized name -> display name.
func (d *Dialect) TopicMap(ctx context.Context, q storage.Queryer) (map[string]int64, map[string]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT topic_id, topic_name FROM %s`, d.tables.Topics))
	if err != nil {
		return nil, nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]int64)
	names := make(map[string]string)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, nil, fmt.Errorf("scan topic: %w", err)
		}
		key := storage.TopicKey(name)
		ids[key] = id
		names[key] = name
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate topics: %w", err)
	}
	return ids, names, nil
}

// AggTopicMap loads (name, type, period) -> agg id.
func (d *Dialect) AggTopicMap(ctx context.Context, q storage.Queryer) (map[storage.AggTopicKey]int64, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT agg_topic_id, agg_topic_name, agg_type, agg_time_period FROM %s`, d.tables.AggTopics))
	if err != nil {
		return nil, fmt.Errorf("query aggregate topics: %w", err)
	}
	defer rows.Close()

	m := make(map[storage.AggTopicKey]int64)
	for rows.Next() {
		var (
			id                int64
			name, typ, period string
		)
		if err := rows.Scan(&id, &name, &typ, &period); err != nil {
			return nil, fmt.Errorf("scan aggregate topic: %w", err)
		}
		key := storage.AggTopicKey{
			Name:      storage.TopicKey(name),
			AggType:   strings.ToLower(typ),
			AggPeriod: period,
		}
		m[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate topics: %w", err)
	}
	return m, nil
}

// AggTopics lists configured aggregate topics with the source topic pattern
// recorded in the aggregate metadata table.
func (d *Dialect) AggTopics(ctx context.Context, q storage.Queryer) ([]storage.AggTopic, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT t.agg_topic_id, t.agg_topic_name, t.agg_type, t.agg_time_period, m.metadata
		 FROM %s t JOIN %s m ON t.agg_topic_id = m.agg_topic_id`,
		d.tables.AggTopics, d.tables.AggMeta))
	if err != nil {
		return nil, fmt.Errorf("query aggregate topic list: %w", err)
	}
	defer rows.Close()

	var topics []storage.AggTopic
	for rows.Next() {
		var (
			at  storage.AggTopic
			doc string
		)
		if err := rows.Scan(&at.ID, &at.Name, &at.AggType, &at.AggPeriod, &doc); err != nil {
			return nil, fmt.Errorf("scan aggregate topic list: %w", err)
		}
		meta, err := storage.UnmarshalMeta(doc)
		if err != nil {
			return nil, fmt.Errorf("aggregate topic %s: %w", at.Name, err)
		}
		at.TopicsPattern = configuredTopics(meta)
		topics = append(topics, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregate topic list: %w", err)
	}
	return topics, nil
}

// configuredTopics extracts the source pattern from aggregate metadata: a
// plain pattern string, or a list of configured topic names.
func configuredTopics(meta map[string]any) string {
	switch v := meta["configured_topics"].(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			parts = append(parts, fmt.Sprint(e))
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

// TopicMetaMap loads topic id -> metadata snapshot.
func (d *Dialect) TopicMetaMap(ctx context.Context, q storage.Queryer) (map[int64]map[string]any, error) {
	var query string
	if d.tables.Colocated() {
		query = fmt.Sprintf(`SELECT topic_id, metadata FROM %s WHERE metadata IS NOT NULL`, d.tables.Topics)
	} else {
		query = fmt.Sprintf(`SELECT topic_id, metadata FROM %s`, d.tables.Meta)
	}
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query topic metadata: %w", err)
	}
	defer rows.Close()

	m := make(map[int64]map[string]any)
	for rows.Next() {
		var (
			id  int64
			doc string
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan topic metadata: %w", err)
		}
		meta, err := storage.UnmarshalMeta(doc)
		if err != nil {
			return nil, fmt.Errorf("topic %d: %w", id, err)
		}
		m[id] = meta
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic metadata: %w", err)
	}
	return m, nil
}

// TopicsByPattern returns normalized name -> id for topics whose display
// name matches the SQL LIKE pattern (case-insensitive).
func (d *Dialect) TopicsByPattern(ctx context.Context, q storage.Queryer, pattern string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT topic_id, topic_name FROM %s WHERE topic_name LIKE ?`, d.tables.Topics), pattern)
	if err != nil {
		return nil, fmt.Errorf("query topics by pattern %q: %w", pattern, err)
	}
	defer rows.Close()

	m := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		m[storage.TopicKey(name)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return m, nil
}

func (d *Dialect) InsertDataQuery() string {
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (ts, topic_id, value_string) VALUES (?, ?, ?)`, d.tables.Data)
}

func (d *Dialect) InsertTopicQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (topic_name) VALUES (?)`, d.tables.Topics)
}

func (d *Dialect) InsertTopicAndMetaQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (topic_name, metadata) VALUES (?, ?)`, d.tables.Topics)
}

func (d *Dialect) UpdateTopicQuery() string {
	return fmt.Sprintf(`UPDATE %s SET topic_name = ? WHERE topic_id = ?`, d.tables.Topics)
}

func (d *Dialect) UpdateTopicAndMetaQuery() string {
	return fmt.Sprintf(`UPDATE %s SET topic_name = ?, metadata = ? WHERE topic_id = ?`, d.tables.Topics)
}

func (d *Dialect) InsertMetaQuery() string {
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (topic_id, metadata) VALUES (?, ?)`, d.tables.Meta)
}

func (d *Dialect) UpdateMetaQuery() string {
	return fmt.Sprintf(`UPDATE %s SET metadata = ? WHERE topic_id = ?`, d.tables.Meta)
}

func (d *Dialect) InsertAggTopicQuery() string {
	return fmt.Sprintf(`INSERT INTO %s (agg_topic_name, agg_type, agg_time_period) VALUES (?, ?, ?)`, d.tables.AggTopics)
}

func (d *Dialect) UpdateAggTopicQuery() string {
	return fmt.Sprintf(`UPDATE %s SET agg_topic_name = ? WHERE agg_topic_id = ?`, d.tables.AggTopics)
}

func (d *Dialect) ReplaceAggMetaQuery() string {
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (agg_topic_id, metadata) VALUES (?, ?)`, d.tables.AggMeta)
}

func (d *Dialect) InsertAggregateQuery(table string) string {
	return fmt.Sprintf(`INSERT OR REPLACE INTO %s (ts, topic_id, value_string, topics_list) VALUES (?, ?, ?, ?)`, table)
}

// CreateAggregateStore creates the {type}_{period} table if absent.
func (d *Dialect) CreateAggregateStore(ctx context.Context, ex storage.Execer, aggType, period string) error {
	table := storage.AggregateTable(aggType, period)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			ts TEXT NOT NULL,
			topic_id INTEGER NOT NULL,
			value_string TEXT NOT NULL,
			topics_list TEXT,
			UNIQUE(topic_id, ts))`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts ASC)`, table, table),
	}
	for _, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create aggregate table %s: %w", table, err)
		}
	}
	return nil
}

// AggregationList names the SQL aggregate functions this backend supports.
func (d *Dialect) AggregationList() []string {
	return []string{"avg", "sum", "count", "min", "max"}
}

// IsLockError reports SQLITE_BUSY/SQLITE_LOCKED conditions.
func (d *Dialect) IsLockError(err error) bool {
	if err == nil {
		return false
	}
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return strings.Contains(err.Error(), "database is locked")
}
