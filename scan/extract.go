// Package scan implements the scan engine: metadata extraction, the
// parallel tree walk, checkpointing and the batched persistence writer.
package scan

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// Extractor turns one filesystem entry into a normalized FileRecord. It
// performs a single lstat per entry and never follows symlinks, so a
// symlinked directory is recorded as a plain entry and not traversed.
type Extractor struct {
	scanID string

	mu     sync.Mutex
	users  map[string]string // uid -> user name
	groups map[string]string // gid -> group name
}

// NewExtractor creates an extractor producing records owned by scanID.
func NewExtractor(scanID string) *Extractor {
	return &Extractor{
		scanID: scanID,
		users:  make(map[string]string),
		groups: make(map[string]string),
	}
}

// Extract reads metadata for path. Extraction failure is local to the
// entry: the returned record carries the error message and the walk
// continues. Extract never returns a Go error.
func (e *Extractor) Extract(path string) models.FileRecord {
	info, err := os.Lstat(path)
	if err != nil {
		return e.ErrorRecord(path, err)
	}

	rec := models.FileRecord{
		ScanID:      e.scanID,
		Path:        path,
		Name:        filepath.Base(path),
		ParentDir:   filepath.Dir(path),
		Size:        info.Size(),
		IsDir:       info.IsDir(),
		IsSymlink:   info.Mode()&os.ModeSymlink != 0,
		Permissions: info.Mode().String(),
		ModTime:     info.ModTime(),
		ScannedAt:   time.Now(),
	}
	if !rec.IsDir {
		rec.Ext = strings.ToLower(filepath.Ext(rec.Name))
	}

	uid, gid := fillStat(&rec, info)
	rec.OwnerUID = uid
	rec.OwnerName = e.lookupUser(uid)
	rec.GroupName = e.lookupGroup(gid)

	return rec
}

// ErrorRecord builds the synthetic record for an entry that could not be
// read, attributed to the given path.
func (e *Extractor) ErrorRecord(path string, cause error) models.FileRecord {
	return models.FileRecord{
		ScanID:     e.scanID,
		Path:       path,
		Name:       filepath.Base(path),
		ParentDir:  filepath.Dir(path),
		ScannedAt:  time.Now(),
		ErrMessage: cause.Error(),
	}
}

// lookupUser resolves a uid to a user name, falling back to the numeric
// id for unknown accounts (deleted users are common on old file servers).
func (e *Extractor) lookupUser(uid string) string {
	if uid == "" {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if name, ok := e.users[uid]; ok {
		return name
	}
	name := uid
	if u, err := user.LookupId(uid); err == nil {
		name = u.Username
	}
	e.users[uid] = name
	return name
}

func (e *Extractor) lookupGroup(gid string) string {
	if gid == "" {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if name, ok := e.groups[gid]; ok {
		return name
	}
	name := gid
	if g, err := user.LookupGroupId(gid); err == nil {
		name = g.Name
	}
	e.groups[gid] = name
	return name
}
