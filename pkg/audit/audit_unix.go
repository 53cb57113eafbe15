//go:build !windows

package audit

import (
	"fmt"
	"log"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// minDiskSpace is the floor below which audit writes refuse to proceed,
// so a full disk cannot silently drop records.
const minDiskSpace = 1024 * 1024

func (l *Logger) checkDiskSpace() error {
	var stat unix.Statfs_t
	if err := unix.Statfs(l.path, &stat); err != nil {
		// Directory may not exist yet, fall back to the parent.
		if err := unix.Statfs(filepath.Dir(l.path), &stat); err != nil {
			log.Printf("audit: disk space check failed: %v", err)
			return nil
		}
	}
	available := stat.Bavail * uint64(stat.Bsize)
	if available < minDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: %d bytes available, need %d",
			available, uint64(minDiskSpace))
	}
	return nil
}
