package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

func TestFindSameSizeFiles(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	scanID := createTestScan(t, st, "scan-sizes")
	now := time.Now()

	rec := func(path string, size int64, isDir, isLink bool) models.FileRecord {
		return models.FileRecord{
			ScanID: scanID, Path: path, Name: path, ParentDir: "/",
			Size: size, IsDir: isDir, IsSymlink: isLink,
			ModTime: now, ScannedAt: now,
		}
	}
	insertTestFiles(t, st, []models.FileRecord{
		rec("/a/one.bin", 4096, false, false),
		rec("/a/two.bin", 4096, false, false),
		rec("/a/three.bin", 4096, false, false),
		rec("/b/unique.bin", 8192, false, false),
		rec("/b/small-a", 10, false, false),
		rec("/b/small-b", 10, false, false),
		rec("/b/link", 4096, false, true),
		rec("/b/dir", 4096, true, false),
	})

	t.Run("groups same sizes above threshold", func(t *testing.T) {
		groups, err := st.FindSameSizeFiles(ctx, scanID, 1024)
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if len(groups) != 1 {
			t.Fatalf("expected 1 size group, got %d", len(groups))
		}
		if groups[0].SizeBytes != 4096 || len(groups[0].Paths) != 3 {
			t.Errorf("unexpected group: size=%d members=%d", groups[0].SizeBytes, len(groups[0].Paths))
		}
	})

	t.Run("symlinks and directories never qualify", func(t *testing.T) {
		groups, err := st.FindSameSizeFiles(ctx, scanID, 1024)
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		for _, p := range groups[0].Paths {
			if p == "/b/link" || p == "/b/dir" {
				t.Errorf("non-regular entry in candidates: %s", p)
			}
		}
	})

	t.Run("threshold zero includes small files", func(t *testing.T) {
		groups, err := st.FindSameSizeFiles(ctx, scanID, 0)
		if err != nil {
			t.Fatalf("find failed: %v", err)
		}
		if len(groups) != 2 {
			t.Errorf("expected 2 size groups, got %d", len(groups))
		}
	})
}

func TestSaveDuplicateGroups(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	scanID := createTestScan(t, st, "scan-dups")

	groups := []models.DuplicateGroup{
		{
			ScanID: scanID, Hash: "aaa", SizeBytes: 100, Count: 3,
			Members: []models.DuplicateMember{
				{Path: "/x/1"}, {Path: "/x/2"}, {Path: "/x/3"},
			},
			WastedBytes: 200,
		},
		{
			ScanID: scanID, Hash: "bbb", SizeBytes: 50, Count: 2,
			Members: []models.DuplicateMember{
				{Path: "/y/1"}, {Path: "/y/2"},
			},
			WastedBytes: 50,
		},
	}

	if err := st.SaveDuplicateGroups(ctx, scanID, "fp-1", "sha256", 1024, groups); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	t.Run("fingerprint is recorded", func(t *testing.T) {
		fp, err := st.CachedFingerprint(ctx, scanID)
		if err != nil {
			t.Fatalf("fingerprint lookup failed: %v", err)
		}
		if fp != "fp-1" {
			t.Errorf("expected fp-1, got %s", fp)
		}
	})

	t.Run("list orders by wasted bytes", func(t *testing.T) {
		got, err := st.ListDuplicateGroups(ctx, scanID)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 groups, got %d", len(got))
		}
		if got[0].Hash != "aaa" {
			t.Errorf("expected aaa first, got %s", got[0].Hash)
		}
		if len(got[0].Members) != 3 || got[0].Members[0].Path != "/x/1" {
			t.Errorf("members did not round-trip: %+v", got[0].Members)
		}
	})

	t.Run("resave replaces groups and fingerprint", func(t *testing.T) {
		if err := st.SaveDuplicateGroups(ctx, scanID, "fp-2", "sha256", 1024, groups[:1]); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		got, err := st.ListDuplicateGroups(ctx, scanID)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 group after resave, got %d", len(got))
		}
		fp, err := st.CachedFingerprint(ctx, scanID)
		if err != nil {
			t.Fatalf("fingerprint lookup failed: %v", err)
		}
		if fp != "fp-2" {
			t.Errorf("expected fp-2, got %s", fp)
		}
	})

	t.Run("missing cache entry", func(t *testing.T) {
		_, err := st.CachedFingerprint(ctx, "never-scanned")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestComputeDirectoryStats(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	scanID := createTestScan(t, st, "scan-dirs")
	insertTestFiles(t, st, testFileSet(scanID))

	n, err := st.ComputeDirectoryStats(ctx, scanID)
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	// /data/docs and /data/media hold regular files.
	if n != 2 {
		t.Errorf("expected 2 aggregated directories, got %d", n)
	}

	stats, err := st.ListDirectoryStats(ctx, scanID, Page{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(stats))
	}
	if stats[0].DirPath != "/data/media" {
		t.Errorf("expected /data/media first by size, got %s", stats[0].DirPath)
	}
	if stats[0].FileCount != 2 {
		t.Errorf("expected 2 files in /data/media, got %d", stats[0].FileCount)
	}
	docs := stats[1]
	if docs.TotalSize != 1024*1024+512 {
		t.Errorf("unexpected docs total size: %d", docs.TotalSize)
	}
	if docs.MinSize != 512 || docs.MaxSize != 1024*1024 {
		t.Errorf("unexpected docs min/max: %d/%d", docs.MinSize, docs.MaxSize)
	}

	t.Run("recompute replaces rows", func(t *testing.T) {
		if _, err := st.ComputeDirectoryStats(ctx, scanID); err != nil {
			t.Fatalf("recompute failed: %v", err)
		}
		stats, err := st.ListDirectoryStats(ctx, scanID, Page{})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(stats) != 2 {
			t.Errorf("expected 2 rows after recompute, got %d", len(stats))
		}
	})
}
