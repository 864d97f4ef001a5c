// Package pathutil provides the small set of path and metadata helpers
// the applier needs: joining, existence checks, recursive directory
// creation, and best-effort SELinux context propagation, grounded in
// the join/mkdir conventions of cyphar/filepath-securejoin.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// selinuxXattr is the xattr name the kernel uses to store a file's
// SELinux security context.
const selinuxXattr = "security.selinux"

// Join concatenates parent and name into a clean absolute path using
// filepath.Join: ".." components are only lexically cleaned, never
// resolved against the filesystem. The merged mount tree never contains
// traversal components because it is built from single path-segment
// node names (see mounttree.Node.Name).
func Join(parent, name string) string {
	return filepath.Join(parent, name)
}

// Exists reports whether path names an existing filesystem entry,
// following symlinks. It treats any lookup error as "does not exist,"
// matching the original source's use of a plain boolean path_exists().
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// MkdirAll creates path and any missing parents, tolerating the
// directory already existing.
func MkdirAll(path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("mkdir -p %s: %w", path, err)
	}
	return nil
}

// CopySELinuxContext copies the SELinux security context xattr from src
// to dst, best-effort. A missing xattr, an unlabeled filesystem, or a
// kernel built without SELinux all report success-as-no-op: callers
// must never fail a mount apply because of this, matching the original
// source's `(void)copy_selcon(...)` discard-the-result convention.
func CopySELinuxContext(src, dst string) error {
	buf := make([]byte, 256)
	n, err := unix.Lgetxattr(src, selinuxXattr, buf)
	if err != nil {
		if errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP) {
			return nil
		}
		return nil
	}
	if err := unix.Lsetxattr(dst, selinuxXattr, buf[:n], 0); err != nil {
		return nil
	}
	return nil
}
