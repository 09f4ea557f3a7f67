package scan

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gallonr/server-analyzer/models"
	"github.com/hashicorp/go-hclog"
)

// idlePoll bounds how long a worker waits on the work queue before
// re-checking the stop conditions.
const idlePoll = 200 * time.Millisecond

// resultMsg is one item on the result stream: either a file record or a
// directory-done marker. The marker follows all records produced by that
// directory's listing, so once the writer commits a batch containing it
// the directory's contents are durably persisted.
type resultMsg struct {
	rec     *models.FileRecord
	doneDir string
}

type walker struct {
	id         int
	extractor  *Extractor
	exclusions exclusionMatcher
	queue      chan string
	results    chan<- resultMsg
	pending    *atomic.Int64
	tracker    *progress
	log        hclog.Logger
}

// run is the worker loop. It exits when the work queue is closed (scan
// complete) or the context is cancelled. Queue reads use a timeout so an
// idle worker still observes cancellation.
func (w *walker) run(ctx context.Context) {
	idle := time.NewTimer(idlePoll)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		idle.Reset(idlePoll)
		select {
		case <-ctx.Done():
			return
		case dir, ok := <-w.queue:
			if !ok {
				return
			}
			w.processDirectory(ctx, dir)
		case <-idle.C:
		}
	}
}

// processDirectory lists one directory, emits records for the directory
// itself and its regular-file children, and enqueues subdirectories. A
// listing failure produces exactly one synthetic error record for the
// directory and stops nothing else. A scan stopped mid-listing may drop
// part of the directory's records, in which case its done marker is
// dropped with them and resume re-lists the whole directory.
func (w *walker) processDirectory(ctx context.Context, dir string) {
	defer w.finish(ctx, dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.log.Warn("directory listing failed", "path", dir, "error", err)
		rec := w.extractor.ErrorRecord(dir, err)
		w.emit(ctx, resultMsg{rec: &rec})
		return
	}

	self := w.extractor.Extract(dir)
	w.emit(ctx, resultMsg{rec: &self})

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			if w.exclusions.dir(entry.Name(), path) {
				continue
			}
			w.enqueue(ctx, path)
			continue
		}

		if w.exclusions.file(entry.Name()) {
			continue
		}
		rec := w.extractor.Extract(path)
		w.emit(ctx, resultMsg{rec: &rec})
	}
}

// enqueue hands a discovered subdirectory to the pool. The pending count
// is incremented before the send, which guarantees the queue cannot be
// closed concurrently. When the queue is full the directory is processed
// synchronously on this worker instead, so enqueueing never deadlocks
// against queue capacity.
func (w *walker) enqueue(ctx context.Context, dir string) {
	w.tracker.add(dir)
	w.pending.Add(1)
	select {
	case w.queue <- dir:
	default:
		w.processDirectory(ctx, dir)
	}
}

// finish marks a directory's listing as done. The worker that drops the
// pending count to zero closes the queue, releasing its siblings.
func (w *walker) finish(ctx context.Context, dir string) {
	w.emit(ctx, resultMsg{doneDir: dir})
	if w.pending.Add(-1) == 0 {
		close(w.queue)
	}
}

// emit hands a message to the writer. Cancellation unblocks the send so
// a stopped or dead writer cannot strand workers on a full result
// stream.
func (w *walker) emit(ctx context.Context, msg resultMsg) {
	select {
	case w.results <- msg:
	case <-ctx.Done():
	}
}

// exclusionMatcher applies the configured directory-name and extension
// exclusions.
type exclusionMatcher struct {
	dirs []string // name or glob, matched against base name and full path
	exts map[string]struct{}
}

func newExclusionMatcher(dirPatterns, extensions []string) exclusionMatcher {
	m := exclusionMatcher{dirs: dirPatterns, exts: make(map[string]struct{}, len(extensions))}
	for _, e := range extensions {
		m.exts[normalizeExt(e)] = struct{}{}
	}
	return m
}

func (m exclusionMatcher) dir(name, path string) bool {
	for _, pattern := range m.dirs {
		if name == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (m exclusionMatcher) file(name string) bool {
	if len(m.exts) == 0 {
		return false
	}
	_, excluded := m.exts[normalizeExt(filepath.Ext(name))]
	return excluded
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
