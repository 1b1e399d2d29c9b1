//go:build linux || darwin

package fsutil

import "syscall"

// FreeBytes reports the free space of the filesystem containing path.
// Returns 0 when the filesystem cannot be queried (treated as unknown).
func FreeBytes(path string) int64 {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0
	}
	return int64(st.Bavail) * int64(st.Bsize)
}
