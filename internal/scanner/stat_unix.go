//go:build unix

package scanner

import (
	"os"
	"syscall"
)

// statInfo is the platform-independent subset of a POSIX stat(2) result
// the scanner needs, generalized from bamsammich-beam's stat_linux.go /
// stat_darwin.go split.
type statInfo struct {
	dev     uint64
	ino     uint64
	nlink   uint64
	blocks  int64 // 512-byte units
	size    int64
	mode    uint32
	uid     uint32
	gid     uint32
	mtime   int64
	isDir   bool
	isLink  bool
	isReg   bool
}

func fromStatT(st *syscall.Stat_t) statInfo {
	mode := st.Mode
	return statInfo{
		dev:    devFromStat(st),
		ino:    inoFromStat(st),
		nlink:  nlinkFromStat(st),
		blocks: blocksFromStat(st),
		size:   st.Size,
		mode:   uint32(mode),
		uid:    st.Uid,
		gid:    st.Gid,
		mtime:  mtimeFromStat(st),
		isDir:  mode&syscall.S_IFMT == syscall.S_IFDIR,
		isLink: mode&syscall.S_IFMT == syscall.S_IFLNK,
		isReg:  mode&syscall.S_IFMT == syscall.S_IFREG,
	}
}

// lstatPath stats path without following a trailing symlink.
func lstatPath(path string) (statInfo, error) {
	var st syscall.Stat_t
	if err := syscall.Lstat(path, &st); err != nil {
		return statInfo{}, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return fromStatT(&st), nil
}

// statPath stats path following symlinks.
func statPath(path string) (statInfo, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return statInfo{}, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return fromStatT(&st), nil
}
