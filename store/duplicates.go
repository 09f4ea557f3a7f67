package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// SizeGroup is one bucket of same-sized duplicate candidates.
type SizeGroup struct {
	SizeBytes int64
	Paths     []string
	Owners    []string
	ModTimes  []int64
}

// FindSameSizeFiles returns, per distinct size >= minSize, the regular
// files of a scan sharing that size, buckets of fewer than two members
// excluded. Error records never qualify as candidates.
func (s *Store) FindSameSizeFiles(ctx context.Context, scanID string, minSize int64) ([]SizeGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT size, path, COALESCE(owner_name, ''), COALESCE(mtime, 0)
        FROM files
        WHERE scan_id = ? AND is_dir = 0 AND is_symlink = 0
          AND error_message IS NULL AND size >= ?
          AND size IN (
              SELECT size FROM files
              WHERE scan_id = ? AND is_dir = 0 AND is_symlink = 0
                AND error_message IS NULL AND size >= ?
              GROUP BY size HAVING COUNT(*) > 1
          )
        ORDER BY size DESC, path
    `, scanID, minSize, scanID, minSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []SizeGroup
	var cur *SizeGroup
	for rows.Next() {
		var size, mtime int64
		var path, owner string
		if err := rows.Scan(&size, &path, &owner, &mtime); err != nil {
			return nil, err
		}
		if cur == nil || cur.SizeBytes != size {
			groups = append(groups, SizeGroup{SizeBytes: size})
			cur = &groups[len(groups)-1]
		}
		cur.Paths = append(cur.Paths, path)
		cur.Owners = append(cur.Owners, owner)
		cur.ModTimes = append(cur.ModTimes, mtime)
	}
	return groups, rows.Err()
}

// SaveDuplicateGroups replaces a scan's duplicate groups and records the
// cache fingerprint in one transaction.
func (s *Store) SaveDuplicateGroups(ctx context.Context, scanID, fingerprint, algorithm string, minSize int64, groups []models.DuplicateGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM duplicate_groups WHERE scan_id = ?`, scanID); err != nil {
		return err
	}

	now := time.Now().Unix()
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO duplicate_groups(scan_id, hash, size_bytes, file_count, members, wasted_bytes, detected_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range groups {
		members, err := json.Marshal(g.Members)
		if err != nil {
			return fmt.Errorf("failed to encode members: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, scanID, g.Hash, g.SizeBytes,
			g.Count, string(members), g.WastedBytes, now); err != nil {
			return fmt.Errorf("failed to insert duplicate group %s: %w", g.Hash, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO duplicate_cache(scan_id, fingerprint, min_size, algorithm, detected_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(scan_id) DO UPDATE SET
            fingerprint = excluded.fingerprint,
            min_size = excluded.min_size,
            algorithm = excluded.algorithm,
            detected_at = excluded.detected_at
    `, scanID, fingerprint, minSize, algorithm, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit duplicate groups: %w", err)
	}
	committed = true
	return nil
}

// CachedFingerprint returns the fingerprint the stored duplicate groups
// were computed from, or ErrNotFound when no detection ran yet.
func (s *Store) CachedFingerprint(ctx context.Context, scanID string) (string, error) {
	var fp string
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint FROM duplicate_cache WHERE scan_id = ?`, scanID).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return fp, err
}

// ListDuplicateGroups returns a scan's persisted duplicate groups ordered
// by wasted space descending.
func (s *Store) ListDuplicateGroups(ctx context.Context, scanID string) ([]models.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT scan_id, hash, size_bytes, file_count, members, wasted_bytes, detected_at
        FROM duplicate_groups
        WHERE scan_id = ?
        ORDER BY wasted_bytes DESC, hash
    `, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var g models.DuplicateGroup
		var members string
		var detected int64
		if err := rows.Scan(&g.ScanID, &g.Hash, &g.SizeBytes, &g.Count,
			&members, &g.WastedBytes, &detected); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(members), &g.Members); err != nil {
			return nil, fmt.Errorf("failed to decode members for %s: %w", g.Hash, err)
		}
		g.DetectedAt = time.Unix(detected, 0)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}
