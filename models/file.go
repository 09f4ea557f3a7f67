package models

import "time"

// FileRecord is one filesystem entry observed during a scan. Records are
// written exactly once and never mutated; (ScanID, Path) is unique.
type FileRecord struct {
	ID          int64     `db:"id"`
	ScanID      string    `db:"scan_id"`
	Path        string    `db:"path"`
	Name        string    `db:"name"`
	ParentDir   string    `db:"parent_dir"`
	Ext         string    `db:"ext"`
	Size        int64     `db:"size"`
	IsDir       bool      `db:"is_dir"`
	IsSymlink   bool      `db:"is_symlink"`
	OwnerUID    string    `db:"owner_uid"`
	OwnerName   string    `db:"owner_name"`
	GroupName   string    `db:"group_name"`
	Permissions string    `db:"permissions"`
	ModTime     time.Time `db:"mtime"`
	ChangeTime  time.Time `db:"ctime"`
	AccessTime  time.Time `db:"atime"`
	NumLinks    int64     `db:"num_links"`
	Inode       string    `db:"inode"`
	ScannedAt   time.Time `db:"scan_timestamp"`
	// ErrMessage is set when extraction or listing failed for this entry.
	// Error records carry no reliable metadata beyond the path.
	ErrMessage string `db:"error_message"`
}

// IsError reports whether this record documents a failed entry rather than
// extracted metadata.
func (f *FileRecord) IsError() bool {
	return f.ErrMessage != ""
}
