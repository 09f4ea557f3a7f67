//go:build linux

package scan

import (
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/gallonr/server-analyzer/models"
)

// fillStat copies the unix-specific stat fields into the record and
// returns the numeric owner uid and gid.
func fillStat(rec *models.FileRecord, info os.FileInfo) (uid, gid string) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", ""
	}
	rec.ChangeTime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	rec.AccessTime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	rec.NumLinks = int64(st.Nlink)
	rec.Inode = strconv.FormatUint(st.Ino, 10)
	return strconv.FormatUint(uint64(st.Uid), 10), strconv.FormatUint(uint64(st.Gid), 10)
}
