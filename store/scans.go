package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// CreateScan inserts a new scan row in running state. Root paths are
// stored JSON-encoded so paths containing separator characters survive
// the round-trip.
func (s *Store) CreateScan(ctx context.Context, scan models.Scan) error {
	roots, err := json.Marshal(scan.RootPaths)
	if err != nil {
		return fmt.Errorf("failed to encode root paths: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
        INSERT INTO scans(id, start_time, status, root_paths, num_workers, config_snapshot)
        VALUES (?, ?, ?, ?, ?, ?)
    `, scan.ID, scan.StartTime.Unix(), string(scan.Status),
		string(roots), scan.NumWorkers, scan.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("failed to create scan: %w", err)
	}
	return nil
}

// GetScan loads one scan by id.
func (s *Store) GetScan(ctx context.Context, scanID string) (*models.Scan, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, start_time, end_time, status, root_paths,
               total_files, total_dirs, total_size_bytes,
               num_workers, errors_count, config_snapshot
        FROM scans WHERE id = ?
    `, scanID)
	return scanScanRow(row)
}

// ListScans returns scans ordered by start time descending.
func (s *Store) ListScans(ctx context.Context, limit int) ([]models.Scan, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, start_time, end_time, status, root_paths,
               total_files, total_dirs, total_size_bytes,
               num_workers, errors_count, config_snapshot
        FROM scans ORDER BY start_time DESC LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []models.Scan
	for rows.Next() {
		scan, err := scanScanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *scan)
	}
	return scans, rows.Err()
}

// UpdateScanStatus records a status transition. For terminal statuses the
// end time is stamped and filesPersisted documents how far the scan got
// before it stopped.
func (s *Store) UpdateScanStatus(ctx context.Context, scanID string, status models.ScanStatus, filesPersisted int64) error {
	sets := []string{"status = ?"}
	args := []any{string(status)}

	if status.Terminal() {
		sets = append(sets, "end_time = ?")
		args = append(args, time.Now().Unix())
	}
	if filesPersisted >= 0 {
		sets = append(sets, "total_files = ?")
		args = append(args, filesPersisted)
	}
	args = append(args, scanID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update scan %s: %w", scanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinalizeScan stamps the terminal status and recomputes the scan's
// aggregate totals from its file records, so the invariant
// totals == aggregate(files) holds by construction at completion.
func (s *Store) FinalizeScan(ctx context.Context, scanID string, status models.ScanStatus) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE scans SET
            status = ?,
            end_time = ?,
            total_files = (SELECT COUNT(*) FROM files WHERE scan_id = scans.id AND is_dir = 0 AND error_message IS NULL),
            total_dirs = (SELECT COUNT(*) FROM files WHERE scan_id = scans.id AND is_dir = 1),
            total_size_bytes = (SELECT COALESCE(SUM(size), 0) FROM files WHERE scan_id = scans.id AND is_dir = 0 AND error_message IS NULL),
            errors_count = (SELECT COUNT(*) FROM files WHERE scan_id = scans.id AND error_message IS NOT NULL)
        WHERE id = ?
    `, string(status), time.Now().Unix(), scanID)
	if err != nil {
		return fmt.Errorf("failed to finalize scan %s: %w", scanID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountFiles returns the number of persisted regular-file records for a
// scan, excluding error records.
func (s *Store) CountFiles(ctx context.Context, scanID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM files
        WHERE scan_id = ? AND is_dir = 0 AND error_message IS NULL
    `, scanID).Scan(&n)
	return n, err
}

// CountRecords returns the total number of persisted records for a scan,
// directories and error records included.
func (s *Store) CountRecords(ctx context.Context, scanID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM files WHERE scan_id = ?
    `, scanID).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScanRow(row rowScanner) (*models.Scan, error) {
	var scan models.Scan
	var start int64
	var end sql.NullInt64
	var status, roots string
	var snapshot sql.NullString

	err := row.Scan(&scan.ID, &start, &end, &status, &roots,
		&scan.TotalFiles, &scan.TotalDirs, &scan.TotalSizeBytes,
		&scan.NumWorkers, &scan.ErrorsCount, &snapshot)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	scan.StartTime = time.Unix(start, 0)
	if end.Valid {
		scan.EndTime = time.Unix(end.Int64, 0)
	}
	scan.Status = models.ScanStatus(status)
	if roots != "" {
		if err := json.Unmarshal([]byte(roots), &scan.RootPaths); err != nil {
			return nil, fmt.Errorf("failed to decode root paths: %w", err)
		}
	}
	scan.ConfigSnapshot = snapshot.String
	return &scan, nil
}
