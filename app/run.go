// Package app wires configuration, storage and the scan engine together
// for the command line entry points.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/gallonr/server-analyzer/dedup"
	"github.com/gallonr/server-analyzer/models"
	"github.com/gallonr/server-analyzer/scan"
	"github.com/gallonr/server-analyzer/store"
)

// NewLogger builds the process logger at the configured level.
func NewLogger(cfg *models.AppConfig) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:  "analyzer",
		Level: hclog.LevelFromString(cfg.Logging.Level),
	})
}

// RunScan performs a full scan per the configuration and blocks until it
// reaches a terminal state. Cancelling ctx interrupts the scan and leaves
// a resumable checkpoint behind.
func RunScan(ctx context.Context, cfg *models.AppConfig, log hclog.Logger) (scan.Outcome, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return scan.Outcome{}, err
	}
	defer st.Close()

	snapshot, err := json.Marshal(cfg)
	if err != nil {
		return scan.Outcome{}, fmt.Errorf("failed to serialize config: %w", err)
	}

	coord := scan.NewCoordinator(st, log)
	handle, err := coord.Start(ctx, ScanConfig(cfg, string(snapshot)))
	if err != nil {
		return scan.Outcome{}, err
	}
	return handle.Wait(), nil
}

// ResumeScan continues an interrupted or failed scan from its checkpoint.
func ResumeScan(ctx context.Context, cfg *models.AppConfig, scanID string, log hclog.Logger) (scan.Outcome, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return scan.Outcome{}, err
	}
	defer st.Close()

	coord := scan.NewCoordinator(st, log)
	handle, err := coord.Resume(ctx, scanID)
	if err != nil {
		return scan.Outcome{}, err
	}
	return handle.Wait(), nil
}

// RunDuplicates runs duplicate detection over a completed scan.
func RunDuplicates(ctx context.Context, cfg *models.AppConfig, scanID string, opts dedup.Options, log hclog.Logger) (*models.DuplicateReport, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	if opts.MinSizeBytes == 0 {
		opts.MinSizeBytes = cfg.Duplicates.MinSizeBytes
	}
	if opts.Algorithm == "" {
		opts.Algorithm = cfg.Duplicates.Algorithm
	}
	if opts.NumWorkers == 0 {
		opts.NumWorkers = cfg.Duplicates.NumWorkers
	}

	detector := dedup.NewDetector(st, log)
	return detector.Detect(ctx, scanID, opts)
}
