package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// setupTestStore creates a temporary store with the real schema applied.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// createTestScan inserts a running scan and returns its id.
func createTestScan(t *testing.T, st *Store, id string) string {
	t.Helper()

	err := st.CreateScan(context.Background(), models.Scan{
		ID:         id,
		StartTime:  time.Now(),
		Status:     models.ScanRunning,
		RootPaths:  []string{"/data"},
		NumWorkers: 4,
	})
	if err != nil {
		t.Fatalf("failed to create scan: %v", err)
	}
	return id
}

// insertTestFiles persists records through a batch, the same way the scan
// writer does.
func insertTestFiles(t *testing.T, st *Store, records []models.FileRecord) {
	t.Helper()

	batch, err := st.BeginBatch(context.Background())
	if err != nil {
		t.Fatalf("failed to begin batch: %v", err)
	}
	if err := batch.InsertFiles(context.Background(), records); err != nil {
		t.Fatalf("failed to insert files: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("failed to commit batch: %v", err)
	}
}

// testFileSet builds a small mixed tree of records under /data for one scan.
func testFileSet(scanID string) []models.FileRecord {
	now := time.Now()
	rec := func(path, name, parent, ext string, size int64, isDir bool) models.FileRecord {
		return models.FileRecord{
			ScanID:      scanID,
			Path:        path,
			Name:        name,
			ParentDir:   parent,
			Ext:         ext,
			Size:        size,
			IsDir:       isDir,
			OwnerUID:    "1000",
			OwnerName:   "alice",
			GroupName:   "alice",
			Permissions: "-rw-r--r--",
			ModTime:     now.Add(-time.Hour),
			ScannedAt:   now,
		}
	}

	return []models.FileRecord{
		rec("/data", "data", "/", "", 0, true),
		rec("/data/docs", "docs", "/data", "", 0, true),
		rec("/data/docs/report.pdf", "report.pdf", "/data/docs", ".pdf", 1024*1024, false),
		rec("/data/docs/notes.txt", "notes.txt", "/data/docs", ".txt", 512, false),
		rec("/data/media", "media", "/data", "", 0, true),
		rec("/data/media/photo.jpg", "photo.jpg", "/data/media", ".jpg", 5*1024*1024, false),
		rec("/data/media/clip.mp4", "clip.mp4", "/data/media", ".mp4", 500*1024*1024, false),
	}
}
