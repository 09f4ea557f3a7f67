package dedup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/store"
)

// seedScan persists a completed scan over real files in dir so the
// detector can re-open the content it hashes.
func seedScan(t *testing.T, st *store.Store, dir string, files map[string]string) string {
	t.Helper()
	ctx := context.Background()
	scanID := "scan-" + filepath.Base(dir)

	require.NoError(t, st.CreateScan(ctx, models.Scan{
		ID:        scanID,
		StartTime: time.Now(),
		Status:    models.ScanRunning,
		RootPaths: []string{dir},
	}))

	now := time.Now()
	var records []models.FileRecord
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		records = append(records, models.FileRecord{
			ScanID:    scanID,
			Path:      path,
			Name:      name,
			ParentDir: dir,
			Size:      int64(len(content)),
			OwnerName: "alice",
			ModTime:   now,
			ScannedAt: now,
		})
	}

	batch, err := st.BeginBatch(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.InsertFiles(ctx, records))
	require.NoError(t, batch.Commit())
	require.NoError(t, st.FinalizeScan(ctx, scanID, models.ScanCompleted))
	return scanID
}

func TestDetect(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	scanID := seedScan(t, st, dir, map[string]string{
		"1.txt": "0123456789",
		"2.txt": "0123456789",
		"3.txt": "01234567890123456789",
	})

	detector := NewDetector(st, nil)

	t.Run("same size same content", func(t *testing.T) {
		report, err := detector.Detect(context.Background(), scanID, Options{})
		require.NoError(t, err)

		// 1.txt and 2.txt share 10 bytes of identical content; 3.txt has
		// a unique size and never reaches the hashing stage.
		require.Equal(t, 1, report.TotalGroups)
		require.False(t, report.FromCache)

		g := report.Groups[0]
		require.EqualValues(t, 10, g.SizeBytes)
		require.EqualValues(t, 2, g.Count)
		require.EqualValues(t, 10, g.WastedBytes)
		require.Equal(t, filepath.Join(dir, "1.txt"), g.Members[0].Path)
		require.Equal(t, filepath.Join(dir, "2.txt"), g.Members[1].Path)

		require.EqualValues(t, 1, report.TotalCopies)
		require.EqualValues(t, 10, report.WastedBytes)
	})

	t.Run("second run is served from cache", func(t *testing.T) {
		report, err := detector.Detect(context.Background(), scanID, Options{})
		require.NoError(t, err)
		require.True(t, report.FromCache)
		require.Equal(t, 1, report.TotalGroups)
	})

	t.Run("no-cache forces recomputation", func(t *testing.T) {
		report, err := detector.Detect(context.Background(), scanID, Options{NoCache: true})
		require.NoError(t, err)
		require.False(t, report.FromCache)
	})

	t.Run("changed options invalidate the cache", func(t *testing.T) {
		report, err := detector.Detect(context.Background(), scanID, Options{Algorithm: "md5"})
		require.NoError(t, err)
		require.False(t, report.FromCache)
		require.Equal(t, 1, report.TotalGroups)
	})
}

func TestDetectSameSizeDifferentContent(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	scanID := seedScan(t, st, dir, map[string]string{
		"a.bin": "aaaaaaaaaa",
		"b.bin": "bbbbbbbbbb",
	})

	detector := NewDetector(st, nil)
	report, err := detector.Detect(context.Background(), scanID, Options{})
	require.NoError(t, err)
	require.Equal(t, 0, report.TotalGroups)
	require.EqualValues(t, 0, report.WastedBytes)
}

func TestDetectMinSizeThreshold(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	scanID := seedScan(t, st, dir, map[string]string{
		"x.txt": "tiny",
		"y.txt": "tiny",
	})

	detector := NewDetector(st, nil)
	report, err := detector.Detect(context.Background(), scanID, Options{MinSizeBytes: 1024})
	require.NoError(t, err)
	require.Equal(t, 0, report.TotalGroups)
}

func TestDetectRequiresCompletedScan(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.CreateScan(ctx, models.Scan{
		ID:        "scan-running",
		StartTime: time.Now(),
		Status:    models.ScanRunning,
		RootPaths: []string{"/data"},
	}))

	detector := NewDetector(st, nil)
	_, err = detector.Detect(ctx, "scan-running", Options{})
	require.Error(t, err)
}

func TestDetectRejectsUnknownAlgorithm(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	detector := NewDetector(st, nil)
	_, err = detector.Detect(context.Background(), "whatever", Options{Algorithm: "crc32"})
	require.Error(t, err)
}

func TestDetectSkipsVanishedFiles(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	scanID := seedScan(t, st, dir, map[string]string{
		"keep-1": "same-bytes",
		"keep-2": "same-bytes",
		"gone-1": "other-byte",
	})
	require.NoError(t, os.Remove(filepath.Join(dir, "gone-1")))

	detector := NewDetector(st, nil)
	report, err := detector.Detect(context.Background(), scanID, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.TotalGroups)
	require.EqualValues(t, 2, report.Groups[0].Count)
}
