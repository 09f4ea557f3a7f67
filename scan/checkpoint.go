package scan

import (
	"sort"
	"sync"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// progress tracks the outstanding-directory set and the counters that go
// into checkpoints. A directory is outstanding from the moment it is
// enqueued until the batch carrying its listing has been committed, so a
// checkpoint snapshot only ever names directories whose contents are not
// yet durably persisted.
type progress struct {
	scanID     string
	rootPaths  []string
	exclusions models.ExclusionConfig

	everyRecords int
	everyElapsed time.Duration

	mu             sync.Mutex
	outstanding    map[string]struct{}
	filesPersisted int64
	dirsCompleted  int64
	sinceLast      int
	lastSnapshot   time.Time
}

func newProgress(scanID string, cfg Config) *progress {
	return &progress{
		scanID:       scanID,
		rootPaths:    cfg.RootPaths,
		exclusions:   cfg.Exclusions,
		everyRecords: cfg.CheckpointRecords,
		everyElapsed: cfg.CheckpointInterval,
		outstanding:  make(map[string]struct{}),
		lastSnapshot: time.Now(),
	}
}

// add registers a directory as pending traversal.
func (p *progress) add(dir string) {
	p.mu.Lock()
	p.outstanding[dir] = struct{}{}
	p.mu.Unlock()
}

// seed initializes counters when resuming from a checkpoint.
func (p *progress) seed(cp *models.CheckpointState) {
	p.mu.Lock()
	p.filesPersisted = cp.FilesPersisted
	p.dirsCompleted = cp.DirsCompleted
	p.mu.Unlock()
}

// due reports whether the batch being committed should carry a checkpoint
// snapshot: either enough records accumulated since the last one or too
// much time passed.
func (p *progress) due(batchLen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sinceLast+batchLen >= p.everyRecords {
		return true
	}
	return time.Since(p.lastSnapshot) >= p.everyElapsed
}

// snapshot builds the checkpoint state that would hold after the given
// directories are retired. Called before the commit so the snapshot can
// ride in the same transaction; committed() applies the retirement once
// the transaction succeeds.
func (p *progress) snapshot(retiring []string, batchLen int) models.CheckpointState {
	skip := make(map[string]struct{}, len(retiring))
	for _, d := range retiring {
		skip[d] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pending := make([]string, 0, len(p.outstanding))
	for d := range p.outstanding {
		if _, done := skip[d]; !done {
			pending = append(pending, d)
		}
	}
	sort.Strings(pending)

	return models.CheckpointState{
		ScanID:         p.scanID,
		PendingDirs:    pending,
		FilesPersisted: p.filesPersisted + int64(batchLen),
		DirsCompleted:  p.dirsCompleted + int64(len(retiring)),
		RootPaths:      p.rootPaths,
		Exclusions:     p.exclusions,
	}
}

// committed applies the effects of a successfully committed batch:
// retired directories leave the outstanding set and counters advance.
func (p *progress) committed(retired []string, batchLen int, snapshotTaken bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range retired {
		delete(p.outstanding, d)
	}
	p.filesPersisted += int64(batchLen)
	p.dirsCompleted += int64(len(retired))
	if snapshotTaken {
		p.sinceLast = 0
		p.lastSnapshot = time.Now()
	} else {
		p.sinceLast += batchLen
	}
}

func (p *progress) persisted() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filesPersisted
}

func (p *progress) completed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dirsCompleted
}
