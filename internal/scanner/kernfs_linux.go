//go:build linux

package scanner

import "golang.org/x/sys/unix"

// kernfsMagics lists the statfs(2) f_type values of Linux pseudo
// filesystems, per §4.C's "statfs.f_type matches a known pseudo-fs
// magic". Values match the kernel's <linux/magic.h>.
var kernfsMagics = map[int64]bool{
	0x9fa0:     true, // PROC_SUPER_MAGIC
	0x62656572: true, // SYSFS_MAGIC
	0x01021994: true, // TMPFS_MAGIC
	0x1cd1:     true, // DEVPTS_SUPER_MAGIC
	0x27e0eb:   true, // CGROUP_SUPER_MAGIC
	0x63677270: true, // CGROUP2_SUPER_MAGIC
	0x64626720: true, // DEBUGFS_MAGIC
	0x62646576: true, // BDEVFS_MAGIC
	0x73636673: true, // SECURITYFS_MAGIC
	0x6e736673: true, // NSFS_MAGIC
	0x9ca458:   true, // BPF_FS_MAGIC
	0x74726163: true, // TRACEFS_MAGIC
	0x50495045: true, // PIPEFS_MAGIC
	0x1021997:  true, // V9FS_MAGIC (commonly excluded as a kernfs-alike)
	0x6d71732e: true, // MQUEUE_MAGIC
	0x65735543: true, // FUSE_CTL_SUPER_MAGIC
	0x42494e4d: true, // BINFMTFS_MAGIC
	0x858458f6: true, // RAMFS_MAGIC
	0x73717368: true, // SQUASHFS_MAGIC: not a pseudo filesystem, but squashfs mounts are excluded too
}

// isKernfs reports whether path's filesystem is a known Linux pseudo
// filesystem.
func isKernfs(path string) bool {
	var sfs unix.Statfs_t
	if err := unix.Statfs(path, &sfs); err != nil {
		return false
	}
	return kernfsMagics[int64(sfs.Type)]
}
