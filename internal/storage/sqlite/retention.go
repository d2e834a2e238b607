package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gridscope/historian/internal/storage"
)

// deleteChunk bounds how many of the oldest rows one retention pass removes
// so the data table is never locked for long stretches.
const deleteChunk = 1000

// ManageDBSize implements the optional retention hook: delete data older
// than the cutoff, then delete oldest-first until the database file is under
// the size ceiling. A zero cutoff or a non-positive ceiling disables the
// respective bound.
func (d *Dialect) ManageDBSize(ctx context.Context, db *sql.DB, cutoff time.Time, limitGB float64) error {
	if !cutoff.IsZero() {
		res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ts < ?`, d.tables.Data),
			storage.FormatTime(cutoff))
		if err != nil {
			return fmt.Errorf("delete data before cutoff: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			d.logger.Info("removed data rows older than cutoff", "rows", n, "cutoff", storage.FormatTime(cutoff))
		}
	}

	if limitGB <= 0 {
		return nil
	}
	limitBytes := int64(limitGB * 1024 * 1024 * 1024)
	for {
		size, err := d.databaseSize(ctx, db)
		if err != nil {
			return err
		}
		if size <= limitBytes {
			return nil
		}
		res, err := db.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE rowid IN (SELECT rowid FROM %s ORDER BY ts ASC LIMIT %d)`,
			d.tables.Data, d.tables.Data, deleteChunk))
		if err != nil {
			return fmt.Errorf("delete oldest data: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete oldest data: %w", err)
		}
		if n == 0 {
			// Nothing left to delete; the ceiling cannot be reached.
			d.logger.Warn("data table is empty but database exceeds size ceiling",
				"size_bytes", size, "limit_bytes", limitBytes)
			return nil
		}
		d.logger.Info("removed oldest data rows to reclaim space", "rows", n, "size_bytes", size)
	}
}

// databaseSize estimates the bytes in use: pages allocated minus pages on
// the freelist, times the page size.
func (d *Dialect) databaseSize(ctx context.Context, db *sql.DB) (int64, error) {
	var pageCount, freeCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA freelist_count").Scan(&freeCount); err != nil {
		return 0, fmt.Errorf("freelist_count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}
	return (pageCount - freeCount) * pageSize, nil
}
