package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gridscope/historian/internal/storage"
)

// Query retrieves rows for the given topic ids from the raw data table, or
// from the {type}_{period} table when an aggregation descriptor is present.
//
// The per-topic row limit and offset are applied independently per topic:
// each id gets its own LIMIT/OFFSET query so a two-topic query with count=5
// returns up to 5 rows for each topic, not 5 total.
func (d *Dialect) Query(ctx context.Context, q storage.Queryer, ids []int64, names map[int64]string, opts storage.QueryOptions) (map[string][]storage.Point, error) {
	table := d.tables.Data
	if opts.AggType != "" {
		table = storage.AggregateTable(opts.AggType, opts.AggPeriod)
	}

	order := opts.Order
	if order == "" {
		order = storage.FirstToLast
	}
	if !order.Valid() {
		return nil, fmt.Errorf("invalid order %q", order)
	}
	direction := "ASC"
	if order == storage.LastToFirst {
		direction = "DESC"
	}

	// sqlite treats a negative LIMIT as unlimited, which OFFSET requires.
	limit := opts.Count
	if limit <= 0 {
		limit = -1
	}

	results := make(map[string][]storage.Point)
	for _, id := range ids {
		where := []string{"topic_id = ?"}
		args := []any{id}
		if !opts.Start.IsZero() {
			where = append(where, "ts >= ?")
			args = append(args, storage.FormatTime(opts.Start))
		}
		if !opts.End.IsZero() {
			where = append(where, "ts < ?")
			args = append(args, storage.FormatTime(opts.End))
		}
		query := fmt.Sprintf(`SELECT ts, value_string FROM %s WHERE %s ORDER BY ts %s LIMIT ? OFFSET ?`,
			table, strings.Join(where, " AND "), direction)
		args = append(args, limit, opts.Skip)

		points, err := d.queryPoints(ctx, q, query, args)
		if err != nil {
			return nil, fmt.Errorf("query topic %d: %w", id, err)
		}
		if len(points) > 0 {
			results[names[id]] = points
		}
	}
	return results, nil
}

func (d *Dialect) queryPoints(ctx context.Context, q storage.Queryer, query string, args []any) ([]storage.Point, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []storage.Point
	for rows.Next() {
		var ts, doc string
		if err := rows.Scan(&ts, &doc); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		t, err := storage.ParseTime(ts)
		if err != nil {
			return nil, err
		}
		value, err := storage.UnmarshalDoc(doc)
		if err != nil {
			return nil, err
		}
		points = append(points, storage.Point{Timestamp: t, Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return points, nil
}

// CollectAggregate computes one aggregate value over the raw data of the
// given topics in [start, end) and returns it with the sample count.
func (d *Dialect) CollectAggregate(ctx context.Context, q storage.Queryer, ids []int64, aggType string, start, end time.Time) (float64, int, error) {
	aggType = strings.ToLower(aggType)
	if !d.supportsAggregation(aggType) {
		return 0, 0, fmt.Errorf("invalid aggregation type %q (supported: %v)", aggType, d.AggregationList())
	}

	// An empty id set would render as "topic_id IN ()", a syntax error.
	if len(ids) == 0 {
		return 0, 0, nil
	}

	expr := fmt.Sprintf("%s(CAST(value_string AS REAL))", strings.ToUpper(aggType))
	if aggType == "count" {
		expr = "COUNT(value_string)"
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	where := []string{fmt.Sprintf("topic_id IN (%s)", placeholders)}
	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	if !start.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, storage.FormatTime(start))
	}
	if !end.IsZero() {
		where = append(where, "ts < ?")
		args = append(args, storage.FormatTime(end))
	}

	query := fmt.Sprintf(`SELECT %s, COUNT(value_string) FROM %s WHERE %s`,
		expr, d.tables.Data, strings.Join(where, " AND "))

	var (
		value sql.NullFloat64
		count int
	)
	if err := q.QueryRowContext(ctx, query, args...).Scan(&value, &count); err != nil {
		return 0, 0, fmt.Errorf("collect aggregate: %w", err)
	}
	return value.Float64, count, nil
}

func (d *Dialect) supportsAggregation(aggType string) bool {
	for _, a := range d.AggregationList() {
		if a == aggType {
			return true
		}
	}
	return false
}
