package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/store"
	"github.com/hashicorp/go-hclog"
)

const (
	commitAttempts = 3
	commitBackoff  = 500 * time.Millisecond
)

// writer is the single consumer of the result stream and the only
// component that writes to the store during a scan. Batches commit when
// they reach the configured size or age, whichever comes first, which
// bounds both memory usage and the durability window.
type writer struct {
	backend store.Backend
	tracker *progress
	log     hclog.Logger

	batchSize     int
	flushInterval time.Duration

	batch    []models.FileRecord
	doneDirs []string
	sizeSum  int64
}

// run drains the result stream until it closes, then performs one final
// commit carrying the closing checkpoint snapshot. The context is only
// consulted for store operations; a cancelled scan still gets its
// in-flight batch flushed, which is why the coordinator hands the writer
// a non-cancellable context.
func (wr *writer) run(ctx context.Context, results <-chan resultMsg) error {
	ticker := time.NewTicker(wr.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-results:
			if !ok {
				return wr.commit(ctx, true)
			}
			if msg.doneDir != "" {
				wr.doneDirs = append(wr.doneDirs, msg.doneDir)
				continue
			}
			wr.batch = append(wr.batch, *msg.rec)
			wr.sizeSum += msg.rec.Size
			if len(wr.batch) >= wr.batchSize {
				if err := wr.commit(ctx, false); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if len(wr.batch) > 0 || len(wr.doneDirs) > 0 {
				if err := wr.commit(ctx, false); err != nil {
					return err
				}
			}
		}
	}
}

// commit writes the accumulated batch in one transaction, retrying
// transient failures with backoff. When a checkpoint is due (or this is
// the final commit) the snapshot rides in the same transaction, so the
// checkpoint can never name data that was not durably persisted.
func (wr *writer) commit(ctx context.Context, final bool) error {
	if len(wr.batch) == 0 && len(wr.doneDirs) == 0 && !final {
		return nil
	}

	withCheckpoint := final || wr.tracker.due(len(wr.batch))

	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		err = wr.tryCommit(ctx, withCheckpoint)
		if err == nil {
			break
		}
		if attempt < commitAttempts {
			delay := commitBackoff << (attempt - 1)
			wr.log.Warn("batch commit failed, retrying",
				"attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err != nil {
		return fmt.Errorf("batch commit failed after %d attempts: %w", commitAttempts, err)
	}

	wr.tracker.committed(wr.doneDirs, len(wr.batch), withCheckpoint)
	wr.log.Debug("batch committed",
		"records", len(wr.batch),
		"bytes", humanize.Bytes(uint64(wr.sizeSum)),
		"total", wr.tracker.persisted(),
		"checkpoint", withCheckpoint)

	wr.batch = wr.batch[:0]
	wr.doneDirs = wr.doneDirs[:0]
	wr.sizeSum = 0
	return nil
}

func (wr *writer) tryCommit(ctx context.Context, withCheckpoint bool) error {
	batch, err := wr.backend.BeginBatch(ctx)
	if err != nil {
		return err
	}
	defer batch.Rollback()

	if err := batch.InsertFiles(ctx, wr.batch); err != nil {
		return err
	}
	if withCheckpoint {
		cp := wr.tracker.snapshot(wr.doneDirs, len(wr.batch))
		if err := batch.SaveCheckpoint(ctx, cp); err != nil {
			return err
		}
	}
	return batch.Commit()
}
