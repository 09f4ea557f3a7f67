package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// ComputeDirectoryStats rebuilds the per-directory aggregates for a scan
// from its file records. Runs after the walk completes; previous rows for
// the scan are replaced. Returns the number of directories aggregated.
func (s *Store) ComputeDirectoryStats(ctx context.Context, scanID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM directory_stats WHERE scan_id = ?`, scanID); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
        INSERT INTO directory_stats(scan_id, dir_path, file_count, total_size, avg_size, min_size, max_size, updated_at)
        SELECT scan_id, parent_dir, COUNT(*),
               COALESCE(SUM(size), 0),
               COALESCE(CAST(AVG(size) AS INTEGER), 0),
               COALESCE(MIN(size), 0),
               COALESCE(MAX(size), 0),
               ?
        FROM files
        WHERE scan_id = ? AND is_dir = 0 AND error_message IS NULL
        GROUP BY parent_dir
    `, time.Now().Unix(), scanID)
	if err != nil {
		return 0, fmt.Errorf("failed to compute directory stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit directory stats: %w", err)
	}
	committed = true

	n, _ := res.RowsAffected()
	return n, nil
}

// ListDirectoryStats returns a scan's directory aggregates ordered by
// total size descending.
func (s *Store) ListDirectoryStats(ctx context.Context, scanID string, page Page) ([]models.DirectoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT scan_id, dir_path, file_count, total_size, avg_size, min_size, max_size, updated_at
        FROM directory_stats
        WHERE scan_id = ?
        ORDER BY total_size DESC
        LIMIT ? OFFSET ?
    `, scanID, page.limit(), page.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DirectoryStats
	for rows.Next() {
		var d models.DirectoryStats
		var updated int64
		if err := rows.Scan(&d.ScanID, &d.DirPath, &d.FileCount, &d.TotalSize,
			&d.AvgSize, &d.MinSize, &d.MaxSize, &updated); err != nil {
			return nil, err
		}
		d.UpdatedAt = time.Unix(updated, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}
