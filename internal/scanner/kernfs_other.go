//go:build !linux

package scanner

// isKernfs is Linux-specific (§4.C: "If Linux and exclude_kernfs..."); on
// other platforms it never matches.
func isKernfs(string) bool { return false }
