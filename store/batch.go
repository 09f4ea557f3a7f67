package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

type sqliteBatch struct {
	tx        *sql.Tx
	committed bool
}

// BeginBatch starts the write transaction for one batch of the scan
// result stream.
func (s *Store) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &sqliteBatch{tx: tx}, nil
}

// InsertFiles writes records through a prepared statement. Re-emitted
// records after a resume hit the (scan_id, path) unique index and are
// silently skipped, which keeps resume idempotent.
func (b *sqliteBatch) InsertFiles(ctx context.Context, records []models.FileRecord) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := b.tx.PrepareContext(ctx, `
        INSERT INTO files(
            scan_id, path, name, parent_dir, ext, size, is_dir, is_symlink,
            owner_uid, owner_name, group_name, permissions,
            mtime, ctime, atime, num_links, inode, scan_timestamp, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(scan_id, path) DO NOTHING;
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range records {
		_, err = stmt.ExecContext(ctx,
			f.ScanID, f.Path, f.Name, f.ParentDir, f.Ext, f.Size,
			boolToInt(f.IsDir), boolToInt(f.IsSymlink),
			nullIfEmpty(f.OwnerUID), nullIfEmpty(f.OwnerName), nullIfEmpty(f.GroupName), nullIfEmpty(f.Permissions),
			unixOrNil(f.ModTime), unixOrNil(f.ChangeTime), unixOrNil(f.AccessTime),
			f.NumLinks, nullIfEmpty(f.Inode), f.ScannedAt.Unix(), nullIfEmpty(f.ErrMessage))
		if err != nil {
			return fmt.Errorf("failed to insert %s: %w", f.Path, err)
		}
	}
	return nil
}

// SaveCheckpoint replaces the scan's live checkpoint inside the current
// transaction.
func (b *sqliteBatch) SaveCheckpoint(ctx context.Context, cp models.CheckpointState) error {
	pending, err := json.Marshal(cp.PendingDirs)
	if err != nil {
		return fmt.Errorf("failed to encode pending dirs: %w", err)
	}
	roots, err := json.Marshal(cp.RootPaths)
	if err != nil {
		return fmt.Errorf("failed to encode root paths: %w", err)
	}
	excl, err := json.Marshal(cp.Exclusions)
	if err != nil {
		return fmt.Errorf("failed to encode exclusions: %w", err)
	}

	_, err = b.tx.ExecContext(ctx, `
        INSERT INTO checkpoints(scan_id, pending_dirs, files_persisted, dirs_completed, root_paths, exclusions, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(scan_id) DO UPDATE SET
            pending_dirs = excluded.pending_dirs,
            files_persisted = excluded.files_persisted,
            dirs_completed = excluded.dirs_completed,
            updated_at = excluded.updated_at
    `, cp.ScanID, string(pending), cp.FilesPersisted, cp.DirsCompleted,
		string(roots), string(excl), time.Now().Unix())
	return err
}

func (b *sqliteBatch) Commit() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	b.committed = true
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if b.committed {
		return nil
	}
	return b.tx.Rollback()
}

func unixOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
