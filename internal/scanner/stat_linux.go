//go:build linux

package scanner

import "syscall"

// mtimeFromStat returns the modification time (seconds) from a
// syscall.Stat_t, generalized from bamsammich-beam's
// internal/engine/stat_linux.go atimeFromStat.
func mtimeFromStat(stat *syscall.Stat_t) int64 {
	return stat.Mtim.Sec
}

func devFromStat(stat *syscall.Stat_t) uint64  { return stat.Dev }
func inoFromStat(stat *syscall.Stat_t) uint64  { return stat.Ino }
func nlinkFromStat(stat *syscall.Stat_t) uint64 { return uint64(stat.Nlink) }
func blocksFromStat(stat *syscall.Stat_t) int64 { return stat.Blocks }
