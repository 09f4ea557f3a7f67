package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/store"
)

// Config is the immutable configuration a scan runs with. It is captured
// into the scan row at start and never mutated during a run.
type Config struct {
	RootPaths  []string
	Exclusions models.ExclusionConfig

	Workers            int
	BatchSize          int
	FlushInterval      time.Duration
	CheckpointRecords  int
	CheckpointInterval time.Duration
	DirQueueSize       int
	ResultBufferSize   int

	// ConfigSnapshot is the serialized source configuration, stored with
	// the scan for later inspection.
	ConfigSnapshot string
}

// ConfigFromApp translates the application configuration into the
// per-run configuration the coordinator accepts.
func ConfigFromApp(src *models.AppConfig) Config {
	return Config{
		RootPaths:          src.RootPaths,
		Exclusions:         src.Exclusions,
		Workers:            src.Performance.Workers(),
		BatchSize:          src.Performance.BatchSize,
		FlushInterval:      time.Duration(src.Performance.FlushIntervalSec) * time.Second,
		CheckpointRecords:  src.Performance.CheckpointRecords,
		CheckpointInterval: time.Duration(src.Performance.CheckpointSec) * time.Second,
		DirQueueSize:       src.Performance.DirQueueSize,
		ResultBufferSize:   src.Performance.ResultBufferSize,
	}
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = models.PerformanceConfig{}.Workers()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.CheckpointRecords <= 0 {
		c.CheckpointRecords = 100000
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = 5 * time.Minute
	}
	if c.DirQueueSize <= 0 {
		c.DirQueueSize = 100000
	}
	if c.ResultBufferSize <= 0 {
		c.ResultBufferSize = 10000
	}
}

// Outcome summarizes a finished scan.
type Outcome struct {
	ScanID         string
	Status         models.ScanStatus
	FilesPersisted int64
	DirsCompleted  int64
	Duration       time.Duration
	Err            error
}

// Coordinator owns the worker pool, the shared queues and the scan
// lifecycle. It is the only component that assigns terminal scan status.
type Coordinator struct {
	backend store.Backend
	log     hclog.Logger
}

// NewCoordinator wires a coordinator to a storage backend.
func NewCoordinator(backend store.Backend, log hclog.Logger) *Coordinator {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Coordinator{backend: backend, log: log.Named("scanner")}
}

// Handle tracks one running scan. Cancel stops it cooperatively; Wait
// blocks until the terminal status is persisted.
type Handle struct {
	ScanID string

	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Wait blocks until the scan reaches a terminal state.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Cancel requests a cooperative stop. Workers finish their in-flight
// directory, the writer flushes, and the scan is marked interrupted with
// its checkpoint retained for resume.
func (h *Handle) Cancel() {
	h.cancel()
}

// Start creates a new scan over cfg.RootPaths and launches the pool.
func (c *Coordinator) Start(ctx context.Context, cfg Config) (*Handle, error) {
	cfg.applyDefaults()
	if len(cfg.RootPaths) == 0 {
		return nil, errors.New("at least one root path is required")
	}

	var roots []string
	for _, root := range cfg.RootPaths {
		if _, err := os.Stat(root); err != nil {
			c.log.Warn("root path is not accessible, skipping", "path", root, "error", err)
			continue
		}
		roots = append(roots, root)
	}
	if len(roots) == 0 {
		return nil, errors.New("no accessible root paths")
	}

	scan := models.Scan{
		ID:             uuid.NewString(),
		StartTime:      time.Now(),
		Status:         models.ScanRunning,
		RootPaths:      cfg.RootPaths,
		NumWorkers:     cfg.Workers,
		ConfigSnapshot: cfg.ConfigSnapshot,
	}
	if err := c.backend.CreateScan(ctx, scan); err != nil {
		return nil, err
	}

	return c.launch(ctx, scan.ID, cfg, roots, nil), nil
}

// Resume continues an interrupted or failed scan from its checkpoint.
// The run configuration is restored from the scan's stored snapshot, so
// exclusions and batching cadence carry over; a scan without a
// checkpoint restarts from its recorded root paths, making resume
// idempotent with respect to fresh starts.
func (c *Coordinator) Resume(ctx context.Context, scanID string) (*Handle, error) {
	scan, err := c.backend.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}
	if scan.Status == models.ScanCompleted {
		return nil, fmt.Errorf("scan %s is already completed", scanID)
	}

	cfg := Config{RootPaths: scan.RootPaths, Workers: scan.NumWorkers}
	if scan.ConfigSnapshot != "" {
		var src models.AppConfig
		if err := json.Unmarshal([]byte(scan.ConfigSnapshot), &src); err != nil {
			c.log.Warn("config snapshot is unreadable, resuming with defaults",
				"scan_id", scanID, "error", err)
		} else {
			cfg = ConfigFromApp(&src)
			cfg.RootPaths = scan.RootPaths
			if scan.NumWorkers > 0 {
				cfg.Workers = scan.NumWorkers
			}
			cfg.ConfigSnapshot = scan.ConfigSnapshot
		}
	}
	var seeds []string
	var cp *models.CheckpointState

	cp, err = c.backend.LoadCheckpoint(ctx, scanID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.log.Info("no checkpoint found, restarting from roots", "scan_id", scanID)
		seeds = scan.RootPaths
		cp = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	default:
		cfg.RootPaths = cp.RootPaths
		cfg.Exclusions = cp.Exclusions
		seeds = cp.PendingDirs
		c.log.Info("resuming from checkpoint",
			"scan_id", scanID,
			"pending_dirs", len(seeds),
			"files_persisted", cp.FilesPersisted)
	}
	cfg.applyDefaults()

	if err := c.backend.UpdateScanStatus(ctx, scanID, models.ScanRunning, -1); err != nil {
		return nil, err
	}
	return c.launch(ctx, scanID, cfg, seeds, cp), nil
}

// launch spawns the workers and the writer and returns immediately.
func (c *Coordinator) launch(ctx context.Context, scanID string, cfg Config, seeds []string, cp *models.CheckpointState) *Handle {
	scanCtx, cancel := context.WithCancel(ctx)
	h := &Handle{ScanID: scanID, cancel: cancel, done: make(chan struct{})}

	tracker := newProgress(scanID, cfg)
	if cp != nil {
		tracker.seed(cp)
	}

	queueSize := cfg.DirQueueSize
	if len(seeds) >= queueSize {
		queueSize = len(seeds) + 1
	}
	queue := make(chan string, queueSize)
	results := make(chan resultMsg, cfg.ResultBufferSize)
	var pending atomic.Int64

	extractor := NewExtractor(scanID)
	matcher := newExclusionMatcher(cfg.Exclusions.Directories, cfg.Exclusions.Extensions)

	// Seed before starting workers: pending must be nonzero while any
	// directory is unlisted, otherwise the pool could declare completion
	// against a half-seeded queue.
	for _, dir := range seeds {
		tracker.add(dir)
		pending.Add(1)
		queue <- dir
	}
	if len(seeds) == 0 {
		// Resuming a scan whose walk already finished: nothing to list,
		// let the pool drain immediately and finalize.
		close(queue)
	}

	start := time.Now()
	c.log.Info("scan started",
		"scan_id", scanID, "workers", cfg.Workers, "seed_dirs", len(seeds))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		w := &walker{
			id:         i,
			extractor:  extractor,
			exclusions: matcher,
			queue:      queue,
			results:    results,
			pending:    &pending,
			tracker:    tracker,
			log:        c.log.With("worker", i),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(scanCtx)
		}()
	}

	// The writer must be able to flush after cancellation, so its store
	// operations run on a non-cancellable context.
	dbCtx := context.WithoutCancel(ctx)
	wr := &writer{
		backend:       c.backend,
		tracker:       tracker,
		log:           c.log.Named("writer"),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
	}
	writerErr := make(chan error, 1)
	go func() {
		err := wr.run(dbCtx, results)
		if err != nil {
			// The writer is the only consumer of the result stream, so
			// its death must stop the walkers or they block forever on
			// a full buffer. The scan is then finalized as failed.
			cancel()
		}
		writerErr <- err
	}()

	go func() {
		defer close(h.done)
		wg.Wait()
		close(results)
		err := <-writerErr

		h.outcome = c.finalize(dbCtx, scanCtx, scanID, tracker, err)
		h.outcome.Duration = time.Since(start)
	}()

	return h
}

// finalize assigns the terminal status: completed on a clean drain,
// interrupted on cancellation, failed when the writer gave up. The
// checkpoint survives every outcome except completion.
func (c *Coordinator) finalize(dbCtx, scanCtx context.Context, scanID string, tracker *progress, writerErr error) Outcome {
	out := Outcome{
		ScanID:         scanID,
		FilesPersisted: tracker.persisted(),
		DirsCompleted:  tracker.completed(),
	}

	switch {
	case writerErr != nil:
		out.Status = models.ScanFailed
		out.Err = writerErr
		c.log.Error("scan failed", "scan_id", scanID, "error", writerErr)
		if err := c.backend.UpdateScanStatus(dbCtx, scanID, models.ScanFailed, out.FilesPersisted); err != nil {
			c.log.Error("failed to record scan failure", "scan_id", scanID, "error", err)
		}

	case scanCtx.Err() != nil:
		out.Status = models.ScanInterrupted
		c.log.Info("scan interrupted",
			"scan_id", scanID, "files_persisted", out.FilesPersisted)
		if err := c.backend.UpdateScanStatus(dbCtx, scanID, models.ScanInterrupted, out.FilesPersisted); err != nil {
			c.log.Error("failed to record interruption", "scan_id", scanID, "error", err)
		}

	default:
		if err := c.backend.FinalizeScan(dbCtx, scanID, models.ScanCompleted); err != nil {
			out.Status = models.ScanFailed
			out.Err = err
			return out
		}
		if err := c.backend.DeleteCheckpoint(dbCtx, scanID); err != nil {
			c.log.Warn("failed to delete checkpoint", "scan_id", scanID, "error", err)
		}
		if n, err := c.backend.ComputeDirectoryStats(dbCtx, scanID); err != nil {
			c.log.Warn("directory stats computation failed", "scan_id", scanID, "error", err)
		} else {
			c.log.Info("directory stats computed", "scan_id", scanID, "directories", n)
		}
		out.Status = models.ScanCompleted
		c.log.Info("scan completed",
			"scan_id", scanID,
			"files_persisted", out.FilesPersisted,
			"dirs_completed", out.DirsCompleted)
	}
	return out
}
