//go:build !linux

package scan

import (
	"os"

	"github.com/gallonr/server-analyzer/models"
)

// fillStat is a no-op on platforms without syscall.Stat_t timestamps;
// ownership and ctime/atime stay empty there.
func fillStat(rec *models.FileRecord, info os.FileInfo) (uid, gid string) {
	return "", ""
}
