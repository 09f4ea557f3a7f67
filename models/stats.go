package models

// AggregateRow is one bucket of a grouped aggregation over file records:
// per extension, per owner or per size range.
type AggregateRow struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
	Size  int64  `json:"size"`
}

// DiffEntry classifies one path when comparing two scans.
type DiffEntry struct {
	Path    string `json:"path"`
	Change  string `json:"change"` // added, removed or modified
	OldSize int64  `json:"old_size,omitempty"`
	NewSize int64  `json:"new_size,omitempty"`
}

// ScanDiff is the set difference between two scans' file records, used by
// external comparison tooling.
type ScanDiff struct {
	BaseScanID  string      `json:"base_scan_id"`
	OtherScanID string      `json:"other_scan_id"`
	Added       []DiffEntry `json:"added"`
	Removed     []DiffEntry `json:"removed"`
	Modified    []DiffEntry `json:"modified"`
}
