package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// syscaller is the indirection point for every raw syscall the mirror
// engine and applier perform. Production code always uses
// realSyscaller; tests substitute a recording fake (see
// export_test.go and internal/sysfake), the same shape as snapd's
// testutil.SyscallRecorder used throughout cmd/snap-update-ns's tests
// to exercise mount ordering without a real mount namespace.
type syscaller interface {
	Lstat(path string) (os.FileInfo, error)
	Stat(path string) (os.FileInfo, error)
	Mkdir(path string, mode os.FileMode) error
	CreateEmpty(path string, mode os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	Symlink(oldname, newname string) error
	Readlink(path string) (string, error)
	Chmod(path string, mode os.FileMode) error
	Chown(path string, uid, gid int) error
	Mount(source, target, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}

// realSyscaller performs the actual syscalls against the host.
type realSyscaller struct{}

func (realSyscaller) Lstat(path string) (os.FileInfo, error) { return os.Lstat(path) }
func (realSyscaller) Stat(path string) (os.FileInfo, error)  { return os.Stat(path) }

func (realSyscaller) Mkdir(path string, mode os.FileMode) error {
	err := os.Mkdir(path, mode)
	if os.IsExist(err) {
		return nil
	}
	return err
}

func (realSyscaller) CreateEmpty(path string, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	return f.Close()
}

func (realSyscaller) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }
func (realSyscaller) Symlink(oldname, newname string) error     { return os.Symlink(oldname, newname) }
func (realSyscaller) Readlink(path string) (string, error)      { return os.Readlink(path) }
func (realSyscaller) Chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }
func (realSyscaller) Chown(path string, uid, gid int) error     { return os.Chown(path, uid, gid) }

func (realSyscaller) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

func (realSyscaller) Unmount(target string, flags int) error {
	return unix.Unmount(target, flags)
}

// bindMount bind-mounts source onto target.
func bindMount(sys syscaller, source, target string) error {
	return sys.Mount(source, target, "", unix.MS_BIND, "")
}

// remountReadOnly remounts an existing bind mount read-only in place.
func remountReadOnly(sys syscaller, target string) error {
	return sys.Mount("", target, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, "")
}

// selfBind bind-mounts path onto itself, giving a plain directory its
// own distinct mount so it can later be relocated with MS_MOVE.
func selfBind(sys syscaller, path string) error {
	return sys.Mount(path, path, "", unix.MS_BIND, "")
}

// moveMount relocates the mount at source onto target.
func moveMount(sys syscaller, source, target string) error {
	return sys.Mount(source, target, "", unix.MS_MOVE, "")
}

// makeRecursivePrivate marks the mount at path, and everything mounted
// beneath it, as propagation-private.
func makeRecursivePrivate(sys syscaller, path string) error {
	return sys.Mount("", path, "", unix.MS_REC|unix.MS_PRIVATE, "")
}

// mountTmpfs mounts a fresh tmpfs at target using source as the device
// label shown in /proc/mounts.
func mountTmpfs(sys syscaller, source, target string) error {
	return sys.Mount(source, target, "tmpfs", 0, "")
}

// mkdirAll creates path and every missing parent through sys, mirroring
// pathutil.MkdirAll's "tolerate already exists" contract but routed
// through the syscaller indirection so it is exercised by the same
// fake filesystem as every other mount-adjacent operation in tests.
func mkdirAll(sys syscaller, path string, mode os.FileMode) error {
	if path == "" || path == "/" {
		return nil
	}
	if _, err := sys.Stat(path); err == nil {
		return nil
	}
	parent := parentDir(path)
	if parent != "" {
		if err := mkdirAll(sys, parent, mode); err != nil {
			return err
		}
	}
	return sys.Mkdir(path, mode)
}

// pathExists reports whether path names an existing entry according to
// sys, following symlinks. Unlike pathutil.Exists (which always hits
// the real host filesystem) this goes through the syscaller
// indirection so tests can answer it from a fake filesystem.
func pathExists(sys syscaller, path string) bool {
	_, err := sys.Stat(path)
	return err == nil
}

// detachUnmount lazily unmounts target, detaching it from the
// namespace without requiring it to be idle.
func detachUnmount(sys syscaller, target string) error {
	return sys.Unmount(target, unix.MNT_DETACH)
}
