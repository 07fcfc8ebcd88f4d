package fuseproc

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// IsMountPoint reports whether path appears as a mount point in the
// current process's mount namespace, read from /proc/self/mountinfo.
// Field 5 (0-indexed 4) of each mountinfo line is the mount point.
func IsMountPoint(path string) (bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false, err
	}

	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		if fields[4] == abs {
			return true, nil
		}
	}
	return false, scanner.Err()
}
