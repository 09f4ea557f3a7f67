package models

import "time"

// DuplicateMember is one file belonging to a duplicate group.
type DuplicateMember struct {
	Path  string `json:"path"`
	Owner string `json:"owner"`
}

// DuplicateGroup is a set of files within one scan sharing identical size
// and content hash. Members are ordered by path. WastedBytes is
// size * (copies - 1): the space reclaimed by keeping a single copy.
type DuplicateGroup struct {
	ScanID      string            `db:"scan_id"`
	Hash        string            `db:"hash"`
	SizeBytes   int64             `db:"size_bytes"`
	Count       int64             `db:"file_count"`
	Members     []DuplicateMember `db:"members"`
	WastedBytes int64             `db:"wasted_bytes"`
	DetectedAt  time.Time         `db:"detected_at"`
}

// DuplicateReport is the outcome of one detection pass.
type DuplicateReport struct {
	ScanID      string           `json:"scan_id"`
	Groups      []DuplicateGroup `json:"groups"`
	TotalGroups int              `json:"total_groups"`
	TotalCopies int64            `json:"total_copies"`
	WastedBytes int64            `json:"wasted_bytes"`
	FromCache   bool             `json:"from_cache"`
	Elapsed     time.Duration    `json:"-"`
}
