//go:build !linux && !darwin

package fsutil

// FreeBytes reports 0 (unknown) on platforms without a statfs probe.
func FreeBytes(path string) int64 { return 0 }
