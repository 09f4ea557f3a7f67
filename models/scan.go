package models

import "time"

// ScanStatus is the lifecycle state of a scan. A scan is mutated only by
// the coordinator and becomes immutable once it reaches a terminal status.
type ScanStatus string

const (
	ScanRunning     ScanStatus = "running"
	ScanCompleted   ScanStatus = "completed"
	ScanFailed      ScanStatus = "failed"
	ScanInterrupted ScanStatus = "interrupted"
)

// Terminal reports whether the status allows no further transitions.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed || s == ScanInterrupted
}

// Scan is one inventory run over a set of root paths.
type Scan struct {
	ID             string     `db:"id"`
	StartTime      time.Time  `db:"start_time"`
	EndTime        time.Time  `db:"end_time"`
	Status         ScanStatus `db:"status"`
	RootPaths      []string   `db:"root_paths"`
	TotalFiles     int64      `db:"total_files"`
	TotalDirs      int64      `db:"total_dirs"`
	TotalSizeBytes int64      `db:"total_size_bytes"`
	NumWorkers     int        `db:"num_workers"`
	ErrorsCount    int64      `db:"errors_count"`
	// ConfigSnapshot is the serialized configuration the scan ran with,
	// kept so old runs stay interpretable after config changes.
	ConfigSnapshot string `db:"config_snapshot"`
}

// CheckpointState is the durable resume point of a running scan. At most
// one live checkpoint exists per scan; it is replaced on every snapshot
// and deleted when the scan reaches a terminal status.
//
// PendingDirs holds only directories whose listings have not yet been
// durably persisted, never individual files, so resuming re-lists at most
// the directories that were in flight when the scan stopped.
type CheckpointState struct {
	ScanID         string          `db:"scan_id"`
	PendingDirs    []string        `db:"pending_dirs"`
	FilesPersisted int64           `db:"files_persisted"`
	DirsCompleted  int64           `db:"dirs_completed"`
	RootPaths      []string        `db:"root_paths"`
	Exclusions     ExclusionConfig `db:"exclusions"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// DirectoryStats is the derived per-directory aggregate, recomputed from
// file records after a walk completes. It is never written incrementally.
type DirectoryStats struct {
	ScanID    string    `db:"scan_id"`
	DirPath   string    `db:"dir_path"`
	FileCount int64     `db:"file_count"`
	TotalSize int64     `db:"total_size"`
	AvgSize   int64     `db:"avg_size"`
	MinSize   int64     `db:"min_size"`
	MaxSize   int64     `db:"max_size"`
	UpdatedAt time.Time `db:"updated_at"`
}
