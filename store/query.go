package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// Filter narrows a file record query. Zero values mean "no constraint".
type Filter struct {
	MinSize     int64
	MaxSize     int64
	Exts        []string
	Owners      []string
	ModTimeFrom int64 // unix timestamp
	ModTimeTo   int64 // unix timestamp
	PathPrefix  string
	OnlyFiles   bool
	OnlyDirs    bool
	WithErrors  bool // include error records, excluded by default
}

// Page is offset/limit pagination for file listings.
type Page struct {
	Offset int
	Limit  int
}

func (p Page) limit() int {
	if p.Limit <= 0 || p.Limit > 10000 {
		return 1000
	}
	return p.Limit
}

// ErrUnknownGroupBy is returned by AggregateFiles for an unrecognized
// aggregation axis.
var ErrUnknownGroupBy = errors.New("store: unknown aggregation axis")

// GroupBy selects an aggregation axis for AggregateFiles.
type GroupBy string

const (
	GroupByExtension GroupBy = "extension"
	GroupByOwner     GroupBy = "owner"
	GroupBySize      GroupBy = "size"
)

var sizeBuckets = []struct {
	label string
	min   int64
	max   int64 // -1 = unbounded
}{
	{"< 1 KB", 0, 1024},
	{"1 KB - 100 KB", 1024, 100 * 1024},
	{"100 KB - 1 MB", 100 * 1024, 1024 * 1024},
	{"1 MB - 10 MB", 1024 * 1024, 10 * 1024 * 1024},
	{"10 MB - 100 MB", 10 * 1024 * 1024, 100 * 1024 * 1024},
	{"100 MB - 1 GB", 100 * 1024 * 1024, 1024 * 1024 * 1024},
	{"> 1 GB", 1024 * 1024 * 1024, -1},
}

func buildFilter(scanID string, f *Filter) (string, []any) {
	conds := []string{"scan_id = ?"}
	args := []any{scanID}

	if f == nil {
		f = &Filter{}
	}
	if !f.WithErrors {
		conds = append(conds, "error_message IS NULL")
	}
	if f.OnlyFiles {
		conds = append(conds, "is_dir = 0")
	}
	if f.OnlyDirs {
		conds = append(conds, "is_dir = 1")
	}
	if f.MinSize > 0 {
		conds = append(conds, "size >= ?")
		args = append(args, f.MinSize)
	}
	if f.MaxSize > 0 {
		conds = append(conds, "size <= ?")
		args = append(args, f.MaxSize)
	}
	if len(f.Exts) > 0 {
		conds = append(conds, "ext IN ("+placeholders(len(f.Exts))+")")
		for _, e := range f.Exts {
			args = append(args, e)
		}
	}
	if len(f.Owners) > 0 {
		conds = append(conds, "owner_name IN ("+placeholders(len(f.Owners))+")")
		for _, o := range f.Owners {
			args = append(args, o)
		}
	}
	if f.ModTimeFrom > 0 {
		conds = append(conds, "mtime >= ?")
		args = append(args, f.ModTimeFrom)
	}
	if f.ModTimeTo > 0 {
		conds = append(conds, "mtime <= ?")
		args = append(args, f.ModTimeTo)
	}
	if f.PathPrefix != "" {
		conds = append(conds, "path LIKE ? ESCAPE '\\'")
		args = append(args, escapeLike(f.PathPrefix)+"%")
	}

	return strings.Join(conds, " AND "), args
}

// QueryFiles lists a scan's file records matching the filter, ordered by
// path for stable pagination.
func (s *Store) QueryFiles(ctx context.Context, scanID string, filter *Filter, page Page) ([]models.FileRecord, error) {
	where, args := buildFilter(scanID, filter)
	args = append(args, page.limit(), page.Offset)

	rows, err := s.db.QueryContext(ctx, `
        SELECT id, scan_id, path, name, parent_dir, ext, size, is_dir, is_symlink,
               owner_uid, owner_name, group_name, permissions,
               mtime, ctime, atime, num_links, inode, scan_timestamp, error_message
        FROM files
        WHERE `+where+`
        ORDER BY path
        LIMIT ? OFFSET ?
    `, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FileRecord
	for rows.Next() {
		f, err := scanFileRow(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, f)
	}
	return records, rows.Err()
}

// AggregateFiles groups a scan's regular files by extension, owner or size
// bucket and returns per-bucket counts and byte sums.
func (s *Store) AggregateFiles(ctx context.Context, scanID string, by GroupBy, filter *Filter) ([]models.AggregateRow, error) {
	if filter == nil {
		filter = &Filter{}
	}
	filter.OnlyFiles = true
	where, args := buildFilter(scanID, filter)

	switch by {
	case GroupByExtension, GroupByOwner:
		col := "ext"
		if by == GroupByOwner {
			col = "owner_name"
		}
		rows, err := s.db.QueryContext(ctx, `
            SELECT COALESCE(`+col+`, ''), COUNT(*), COALESCE(SUM(size), 0)
            FROM files
            WHERE `+where+`
            GROUP BY `+col+`
            ORDER BY SUM(size) DESC
        `, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []models.AggregateRow
		for rows.Next() {
			var r models.AggregateRow
			if err := rows.Scan(&r.Key, &r.Count, &r.Size); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()

	case GroupBySize:
		var out []models.AggregateRow
		for _, b := range sizeBuckets {
			cond := where + " AND size >= ?"
			bucketArgs := append(append([]any{}, args...), b.min)
			if b.max >= 0 {
				cond += " AND size < ?"
				bucketArgs = append(bucketArgs, b.max)
			}
			var r models.AggregateRow
			r.Key = b.label
			err := s.db.QueryRowContext(ctx, `
                SELECT COUNT(*), COALESCE(SUM(size), 0) FROM files WHERE `+cond,
				bucketArgs...).Scan(&r.Count, &r.Size)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroupBy, by)
	}
}

// DiffScans compares two scans' regular-file records by path. A path is
// modified when either size or mtime differ between the scans.
func (s *Store) DiffScans(ctx context.Context, baseID, otherID string) (*models.ScanDiff, error) {
	diff := &models.ScanDiff{BaseScanID: baseID, OtherScanID: otherID}

	// Added and modified in one pass over the newer scan.
	rows, err := s.db.QueryContext(ctx, `
        SELECT b.path, a.size, b.size, a.mtime, b.mtime
        FROM files b
        LEFT JOIN files a ON a.scan_id = ? AND a.path = b.path AND a.is_dir = 0 AND a.error_message IS NULL
        WHERE b.scan_id = ? AND b.is_dir = 0 AND b.error_message IS NULL
    `, baseID, otherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var oldSize, oldMtime sql.NullInt64
		var newSize, newMtime sql.NullInt64
		if err := rows.Scan(&path, &oldSize, &newSize, &oldMtime, &newMtime); err != nil {
			return nil, err
		}
		switch {
		case !oldSize.Valid:
			diff.Added = append(diff.Added, models.DiffEntry{Path: path, Change: "added", NewSize: newSize.Int64})
		case oldSize.Int64 != newSize.Int64 || oldMtime.Int64 != newMtime.Int64:
			diff.Modified = append(diff.Modified, models.DiffEntry{
				Path: path, Change: "modified",
				OldSize: oldSize.Int64, NewSize: newSize.Int64,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	removed, err := s.db.QueryContext(ctx, `
        SELECT a.path, a.size
        FROM files a
        LEFT JOIN files b ON b.scan_id = ? AND b.path = a.path AND b.is_dir = 0 AND b.error_message IS NULL
        WHERE a.scan_id = ? AND a.is_dir = 0 AND a.error_message IS NULL AND b.path IS NULL
    `, otherID, baseID)
	if err != nil {
		return nil, err
	}
	defer removed.Close()

	for removed.Next() {
		var e models.DiffEntry
		e.Change = "removed"
		if err := removed.Scan(&e.Path, &e.OldSize); err != nil {
			return nil, err
		}
		diff.Removed = append(diff.Removed, e)
	}
	return diff, removed.Err()
}

func scanFileRow(rows *sql.Rows) (models.FileRecord, error) {
	var f models.FileRecord
	var isDir, isSymlink int
	var ext, ownerUID, ownerName, groupName, perms, inode, errMsg sql.NullString
	var mtime, ctime, atime, numLinks sql.NullInt64
	var scannedAt int64

	err := rows.Scan(&f.ID, &f.ScanID, &f.Path, &f.Name, &f.ParentDir, &ext,
		&f.Size, &isDir, &isSymlink,
		&ownerUID, &ownerName, &groupName, &perms,
		&mtime, &ctime, &atime, &numLinks, &inode, &scannedAt, &errMsg)
	if err != nil {
		return f, err
	}

	f.IsDir = isDir != 0
	f.IsSymlink = isSymlink != 0
	f.Ext = ext.String
	f.OwnerUID = ownerUID.String
	f.OwnerName = ownerName.String
	f.GroupName = groupName.String
	f.Permissions = perms.String
	if mtime.Valid {
		f.ModTime = time.Unix(mtime.Int64, 0)
	}
	if ctime.Valid {
		f.ChangeTime = time.Unix(ctime.Int64, 0)
	}
	if atime.Valid {
		f.AccessTime = time.Unix(atime.Int64, 0)
	}
	f.NumLinks = numLinks.Int64
	f.Inode = inode.String
	f.ScannedAt = time.Unix(scannedAt, 0)
	f.ErrMessage = errMsg.String
	return f, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	return strings.ReplaceAll(s, `_`, `\_`)
}
