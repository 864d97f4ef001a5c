package main

import (
	"os"
	"syscall"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/pathutil"
)

// mirrorEntry reproduces the real entry realParent/name at
// workParent/name using bind mounts (never data copies) for regular
// files, recursive mirroring for directories, and a fresh symlink for
// symlinks. This makes the tmpfs overlay indistinguishable, for entries
// a module never touched, from the real directory it replaces.
func (c *Context) mirrorEntry(realParent, workParent, name string) error {
	src := pathutil.Join(realParent, name)
	dst := pathutil.Join(workParent, name)
	sys := c.syscalls()

	info, err := sys.Lstat(src)
	if err != nil {
		// Missing source is a non-fatal warning and a no-op: the
		// directory proceeds with its other entries.
		logger.Warnf("mirror: lstat %s: %v", src, err)
		return nil
	}

	switch {
	case info.Mode().IsRegular():
		return c.mirrorRegular(sys, src, dst, info)
	case info.IsDir():
		return c.mirrorDirectory(sys, src, dst, info)
	case info.Mode()&os.ModeSymlink != 0:
		return c.cloneSymlink(sys, src, dst)
	default:
		// Sockets, fifos, devices: ignored, matching the original
		// source's mm_mirror_entry, which only special-cases regular
		// files, directories, and symlinks.
		return nil
	}
}

func (c *Context) mirrorRegular(sys syscaller, src, dst string, info os.FileInfo) error {
	if err := sys.CreateEmpty(dst, info.Mode().Perm()); err != nil {
		return mountErr(KindIO, dst, "", err)
	}
	if err := bindMount(sys, src, dst); err != nil {
		return mountErr(KindIO, dst, "", err)
	}
	return nil
}

func (c *Context) mirrorDirectory(sys syscaller, src, dst string, info os.FileInfo) error {
	if err := sys.Mkdir(dst, info.Mode().Perm()); err != nil {
		return mountErr(KindIO, dst, "", err)
	}

	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		_ = sys.Chown(dst, int(st.Uid), int(st.Gid))
	}
	_ = sys.Chmod(dst, info.Mode().Perm())
	_ = pathutil.CopySELinuxContext(src, dst)

	entries, err := sys.ReadDir(src)
	if err != nil {
		return mountErr(KindIO, src, "", err)
	}
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		if err := c.mirrorEntry(src, dst, e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) cloneSymlink(sys syscaller, src, dst string) error {
	target, err := sys.Readlink(src)
	if err != nil {
		return mountErr(KindIO, src, "", err)
	}
	if err := sys.Symlink(target, dst); err != nil {
		return mountErr(KindIO, dst, "", err)
	}
	_ = pathutil.CopySELinuxContext(src, dst)
	return nil
}
