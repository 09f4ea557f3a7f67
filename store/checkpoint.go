package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// LoadCheckpoint reads the live checkpoint for a scan. The row is fully
// self-describing (roots, exclusions, pending directories) so a fresh
// process can resume without the original configuration file.
func (s *Store) LoadCheckpoint(ctx context.Context, scanID string) (*models.CheckpointState, error) {
	var cp models.CheckpointState
	var pending, roots, excl string
	var updated int64

	err := s.db.QueryRowContext(ctx, `
        SELECT scan_id, pending_dirs, files_persisted, dirs_completed, root_paths, exclusions, updated_at
        FROM checkpoints WHERE scan_id = ?
    `, scanID).Scan(&cp.ScanID, &pending, &cp.FilesPersisted, &cp.DirsCompleted, &roots, &excl, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(pending), &cp.PendingDirs); err != nil {
		return nil, fmt.Errorf("failed to decode pending dirs: %w", err)
	}
	if err := json.Unmarshal([]byte(roots), &cp.RootPaths); err != nil {
		return nil, fmt.Errorf("failed to decode root paths: %w", err)
	}
	if err := json.Unmarshal([]byte(excl), &cp.Exclusions); err != nil {
		return nil, fmt.Errorf("failed to decode exclusions: %w", err)
	}
	cp.UpdatedAt = time.Unix(updated, 0)
	return &cp, nil
}

// DeleteCheckpoint removes the live checkpoint once a scan reaches a
// terminal state where resume no longer applies.
func (s *Store) DeleteCheckpoint(ctx context.Context, scanID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE scan_id = ?`, scanID)
	return err
}
