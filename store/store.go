// Package store persists scans, file records, checkpoints and duplicate
// groups in SQLite and exposes the read-only query interface used by
// reporting and export tooling.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gallonr/server-analyzer/models"

	_ "modernc.org/sqlite"
)

//go:embed init.sql
var initSQL string

// ErrNotFound is returned when a scan, checkpoint or cache entry does not
// exist.
var ErrNotFound = errors.New("store: not found")

// Batch is one write transaction produced by the scan writer. File inserts
// and the checkpoint snapshot that references them share the transaction,
// so a checkpoint can never point at records that were not durably
// persisted.
type Batch interface {
	InsertFiles(ctx context.Context, records []models.FileRecord) error
	SaveCheckpoint(ctx context.Context, cp models.CheckpointState) error
	Commit() error
	Rollback() error
}

// Backend is the storage capability the scan engine depends on. The scan
// writer is the only component that calls BeginBatch for the duration of a
// scan; everything else reads.
type Backend interface {
	BeginBatch(ctx context.Context) (Batch, error)

	CreateScan(ctx context.Context, scan models.Scan) error
	GetScan(ctx context.Context, scanID string) (*models.Scan, error)
	UpdateScanStatus(ctx context.Context, scanID string, status models.ScanStatus, filesPersisted int64) error
	FinalizeScan(ctx context.Context, scanID string, status models.ScanStatus) error

	LoadCheckpoint(ctx context.Context, scanID string) (*models.CheckpointState, error)
	DeleteCheckpoint(ctx context.Context, scanID string) error

	ComputeDirectoryStats(ctx context.Context, scanID string) (int64, error)
}

// Store is the SQLite implementation of Backend plus the query interface.
type Store struct {
	db   *sql.DB
	path string
}

var _ Backend = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// WAL mode keeps readers unblocked while the scan writer holds the write
// transaction.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA cache_size = -40000`,
		`PRAGMA temp_store = MEMORY`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(initSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for read-only consumers that build
// their own queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
