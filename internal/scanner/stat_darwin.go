//go:build darwin

package scanner

import "syscall"

// mtimeFromStat returns the modification time (seconds) from a
// syscall.Stat_t, generalized from bamsammich-beam's
// internal/engine/stat_darwin.go atimeFromStat.
func mtimeFromStat(stat *syscall.Stat_t) int64 {
	return stat.Mtimespec.Sec
}

func devFromStat(stat *syscall.Stat_t) uint64 { //nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
	return uint64(stat.Dev)
}
func inoFromStat(stat *syscall.Stat_t) uint64   { return stat.Ino }
func nlinkFromStat(stat *syscall.Stat_t) uint64 { return uint64(stat.Nlink) }
func blocksFromStat(stat *syscall.Stat_t) int64 { return stat.Blocks }
