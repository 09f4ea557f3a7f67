// Package dedup finds duplicate files among a completed scan's records by
// grouping candidates by size and hashing their content in parallel.
package dedup

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"

	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/store"
)

// hashBuffer bounds per-worker memory while streaming file content.
const hashBuffer = 1024 * 1024

// Store is the slice of the persistence layer the detector needs: size
// candidates in, duplicate groups and cache state out.
type Store interface {
	GetScan(ctx context.Context, scanID string) (*models.Scan, error)
	FindSameSizeFiles(ctx context.Context, scanID string, minSize int64) ([]store.SizeGroup, error)
	CachedFingerprint(ctx context.Context, scanID string) (string, error)
	ListDuplicateGroups(ctx context.Context, scanID string) ([]models.DuplicateGroup, error)
	SaveDuplicateGroups(ctx context.Context, scanID, fingerprint, algorithm string, minSize int64, groups []models.DuplicateGroup) error
}

// Options configure one detection pass.
type Options struct {
	MinSizeBytes int64
	Algorithm    string // md5, sha1 or sha256 (default)
	NumWorkers   int
	NoCache      bool // force recomputation even when the cache matches
}

func (o *Options) applyDefaults() {
	if o.Algorithm == "" {
		o.Algorithm = "sha256"
	}
	if o.NumWorkers <= 0 {
		o.NumWorkers = runtime.NumCPU()
	}
}

// Detector is the second-phase worker pool that runs over persisted file
// records. It never touches the walk pipeline.
type Detector struct {
	store Store
	log   hclog.Logger
}

func NewDetector(st Store, log hclog.Logger) *Detector {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Detector{store: st, log: log.Named("dedup")}
}

// Detect computes duplicate groups for a completed scan. When the stored
// result was computed from the same inputs (same candidate set, minimum
// size and algorithm) the cached groups are returned without re-hashing.
// Matching hash plus size is treated as identical content; no byte-level
// verification follows.
func (d *Detector) Detect(ctx context.Context, scanID string, opts Options) (*models.DuplicateReport, error) {
	opts.applyDefaults()
	if _, err := newHasher(opts.Algorithm); err != nil {
		return nil, err
	}

	scan, err := d.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}
	if scan.Status != models.ScanCompleted {
		return nil, fmt.Errorf("scan %s is %s, duplicate detection requires a completed scan", scanID, scan.Status)
	}

	start := time.Now()
	sizeGroups, err := d.store.FindSameSizeFiles(ctx, scanID, opts.MinSizeBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to query size groups: %w", err)
	}

	fingerprint := inputFingerprint(sizeGroups, opts)
	if !opts.NoCache {
		if cached, err := d.fromCache(ctx, scanID, fingerprint); err == nil && cached != nil {
			cached.Elapsed = time.Since(start)
			d.log.Info("served duplicate groups from cache",
				"scan_id", scanID, "groups", cached.TotalGroups)
			return cached, nil
		}
	}

	candidates := 0
	for _, g := range sizeGroups {
		candidates += len(g.Paths)
	}
	d.log.Info("hashing duplicate candidates",
		"scan_id", scanID,
		"size_groups", len(sizeGroups),
		"candidates", candidates,
		"workers", opts.NumWorkers,
		"algorithm", opts.Algorithm)

	groups, err := d.hashAndGroup(ctx, sizeGroups, opts)
	if err != nil {
		return nil, err
	}

	if err := d.store.SaveDuplicateGroups(ctx, scanID, fingerprint, opts.Algorithm, opts.MinSizeBytes, groups); err != nil {
		return nil, fmt.Errorf("failed to persist duplicate groups: %w", err)
	}

	report := buildReport(scanID, groups, false)
	report.Elapsed = time.Since(start)
	d.log.Info("duplicate detection finished",
		"scan_id", scanID,
		"groups", report.TotalGroups,
		"wasted", humanize.Bytes(uint64(report.WastedBytes)),
		"elapsed", report.Elapsed)
	return report, nil
}

func (d *Detector) fromCache(ctx context.Context, scanID, fingerprint string) (*models.DuplicateReport, error) {
	cached, err := d.store.CachedFingerprint(ctx, scanID)
	if err != nil || cached != fingerprint {
		return nil, err
	}
	groups, err := d.store.ListDuplicateGroups(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return buildReport(scanID, groups, true), nil
}

type hashJob struct {
	path  string
	owner string
	size  int64
}

type hashResult struct {
	hashJob
	digest string
}

// hashAndGroup streams every candidate through the configured hash with a
// fixed worker pool, then groups by (size, digest). Unreadable candidates
// are skipped: the file may have vanished since the scan.
func (d *Detector) hashAndGroup(ctx context.Context, sizeGroups []store.SizeGroup, opts Options) ([]models.DuplicateGroup, error) {
	jobs := make(chan hashJob, opts.NumWorkers*4)
	results := make(chan hashResult, opts.NumWorkers*4)

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, hashBuffer)
			for job := range jobs {
				digest, err := hashFile(job.path, opts.Algorithm, buf)
				if err != nil {
					d.log.Warn("failed to hash file", "path", job.path, "error", err)
					continue
				}
				select {
				case results <- hashResult{hashJob: job, digest: digest}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, g := range sizeGroups {
			for i, p := range g.Paths {
				select {
				case jobs <- hashJob{path: p, owner: g.Owners[i], size: g.SizeBytes}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	type key struct {
		size   int64
		digest string
	}
	buckets := make(map[key][]models.DuplicateMember)
	for r := range results {
		k := key{size: r.size, digest: r.digest}
		buckets[k] = append(buckets[k], models.DuplicateMember{Path: r.path, Owner: r.owner})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var groups []models.DuplicateGroup
	for k, members := range buckets {
		if len(members) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
		groups = append(groups, models.DuplicateGroup{
			Hash:        k.digest,
			SizeBytes:   k.size,
			Count:       int64(len(members)),
			Members:     members,
			WastedBytes: k.size * int64(len(members)-1),
		})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].WastedBytes != groups[j].WastedBytes {
			return groups[i].WastedBytes > groups[j].WastedBytes
		}
		return groups[i].Hash < groups[j].Hash
	})
	return groups, nil
}

// inputFingerprint identifies the candidate set a detection ran over:
// every (path, size, mtime) plus the options that shaped the set. A
// repeated request with an unchanged fingerprint is served from cache.
func inputFingerprint(sizeGroups []store.SizeGroup, opts Options) string {
	h := sha256.New()
	io.WriteString(h, opts.Algorithm)
	io.WriteString(h, "|")
	io.WriteString(h, strconv.FormatInt(opts.MinSizeBytes, 10))
	for _, g := range sizeGroups {
		for i, p := range g.Paths {
			io.WriteString(h, "|")
			io.WriteString(h, p)
			io.WriteString(h, ":")
			io.WriteString(h, strconv.FormatInt(g.SizeBytes, 10))
			io.WriteString(h, ":")
			io.WriteString(h, strconv.FormatInt(g.ModTimes[i], 10))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func buildReport(scanID string, groups []models.DuplicateGroup, fromCache bool) *models.DuplicateReport {
	report := &models.DuplicateReport{
		ScanID:      scanID,
		Groups:      groups,
		TotalGroups: len(groups),
		FromCache:   fromCache,
	}
	for _, g := range groups {
		report.TotalCopies += g.Count - 1
		report.WastedBytes += g.WastedBytes
	}
	return report
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}

// hashFile streams the file through the hasher with a caller-owned buffer
// so memory stays bounded regardless of file size.
func hashFile(path, algorithm string, buf []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := newHasher(algorithm)
	if err != nil {
		return "", err
	}
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
