// Package sysfake provides an in-memory fake filesystem and a
// mount/umount call recorder, used by cmd/magicmountd's test suite to
// exercise the applier's mount ordering and failure accounting without
// a real mount namespace — the same role snapd's
// testutil.SyscallRecorder plays for cmd/snap-update-ns's tests.
package sysfake

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"
)

// Kind is the fake entry's type.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// entry is one node of the fake filesystem.
type entry struct {
	kind   Kind
	mode   os.FileMode
	uid    int
	gid    int
	target string // symlink target
	// children are tracked via path prefixes in Recorder.files, not
	// stored on the entry itself, to keep ReadDir trivial to implement
	// against a flat map.
}

// Call records one invocation of a mount-affecting syscall, in the
// same spirit as snapd's testutil.SyscallRecorder call log: tests
// assert against c.Calls() to check ordering (e.g. self-bind before
// MS_MOVE, remount-ro before MS_MOVE).
type Call struct {
	Op     string // "mount", "unmount", "mkdir", "symlink", ...
	Args   []string
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%s)", c.Op, strings.Join(c.Args, ", "))
}

// Recorder is the fake syscaller. Construct it with NewRecorder: the
// zero value has no backing map, so seeding it panics.
type Recorder struct {
	files map[string]*entry
	calls []Call
	// FailOn maps a path to an error CreateEmpty/Mkdir/Mount/etc.
	// should return for that exact path, letting tests exercise a
	// mount failure partway through an overlay.
	FailOn map[string]error
}

// NewRecorder returns a Recorder with an empty root directory "/".
func NewRecorder() *Recorder {
	r := &Recorder{files: make(map[string]*entry), FailOn: make(map[string]error)}
	r.files["/"] = &entry{kind: KindDir, mode: 0o755}
	return r
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// AddDir seeds a pre-existing directory at path.
func (r *Recorder) AddDir(path string, mode os.FileMode) {
	r.files[clean(path)] = &entry{kind: KindDir, mode: mode}
}

// AddFile seeds a pre-existing regular file at path.
func (r *Recorder) AddFile(path string, mode os.FileMode) {
	r.files[clean(path)] = &entry{kind: KindFile, mode: mode}
}

// AddSymlink seeds a pre-existing symlink at path pointing at target.
func (r *Recorder) AddSymlink(path, target string) {
	r.files[clean(path)] = &entry{kind: KindSymlink, mode: os.ModeSymlink | 0o777, target: target}
}

// Calls returns every recorded mount-affecting call, in order.
func (r *Recorder) Calls() []Call { return append([]Call(nil), r.calls...) }

func (r *Recorder) record(op string, args ...string) {
	r.calls = append(r.calls, Call{Op: op, Args: args})
}

func (r *Recorder) failure(path string) error {
	if err, ok := r.FailOn[path]; ok {
		return err
	}
	return nil
}

// fakeFileInfo adapts an entry to os.FileInfo.
type fakeFileInfo struct {
	name string
	e    *entry
}

func (f fakeFileInfo) Name() string       { return f.name }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() os.FileMode  { return f.e.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.e.kind == KindDir }
func (f fakeFileInfo) Sys() interface{}   { return nil }

func baseName(path string) string {
	path = clean(path)
	i := strings.LastIndex(path, "/")
	if i < 0 || i == len(path)-1 {
		return path
	}
	return path[i+1:]
}

func (r *Recorder) Lstat(path string) (os.FileInfo, error) {
	e, ok := r.files[clean(path)]
	if !ok {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: os.ErrNotExist}
	}
	return fakeFileInfo{name: baseName(path), e: e}, nil
}

func (r *Recorder) Stat(path string) (os.FileInfo, error) {
	e, ok := r.files[clean(path)]
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: path, Err: os.ErrNotExist}
	}
	if e.kind == KindSymlink {
		return r.Stat(e.target)
	}
	return fakeFileInfo{name: baseName(path), e: e}, nil
}

func (r *Recorder) Mkdir(path string, mode os.FileMode) error {
	r.record("mkdir", path)
	if err := r.failure(path); err != nil {
		return err
	}
	p := clean(path)
	if _, ok := r.files[p]; ok {
		return nil
	}
	r.files[p] = &entry{kind: KindDir, mode: mode}
	return nil
}

func (r *Recorder) CreateEmpty(path string, mode os.FileMode) error {
	r.record("create", path)
	if err := r.failure(path); err != nil {
		return err
	}
	r.files[clean(path)] = &entry{kind: KindFile, mode: mode}
	return nil
}

func (r *Recorder) ReadDir(path string) ([]os.DirEntry, error) {
	p := clean(path)
	if e, ok := r.files[p]; !ok || e.kind != KindDir {
		return nil, &os.PathError{Op: "readdir", Path: path, Err: os.ErrNotExist}
	}
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
	}
	seen := make(map[string]bool)
	var out []os.DirEntry
	for fp, e := range r.files {
		if fp == p || !strings.HasPrefix(fp, prefix) {
			continue
		}
		rest := strings.TrimPrefix(fp, prefix)
		if strings.Contains(rest, "/") {
			continue // not a direct child
		}
		if seen[rest] {
			continue
		}
		seen[rest] = true
		out = append(out, fs.FileInfoToDirEntry(fakeFileInfo{name: rest, e: e}))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (r *Recorder) Symlink(oldname, newname string) error {
	r.record("symlink", oldname, newname)
	if err := r.failure(newname); err != nil {
		return err
	}
	r.files[clean(newname)] = &entry{kind: KindSymlink, mode: os.ModeSymlink | 0o777, target: oldname}
	return nil
}

func (r *Recorder) Readlink(path string) (string, error) {
	e, ok := r.files[clean(path)]
	if !ok || e.kind != KindSymlink {
		return "", &os.PathError{Op: "readlink", Path: path, Err: os.ErrInvalid}
	}
	return e.target, nil
}

func (r *Recorder) Chmod(path string, mode os.FileMode) error {
	r.record("chmod", path)
	if e, ok := r.files[clean(path)]; ok {
		e.mode = mode
	}
	return nil
}

func (r *Recorder) Chown(path string, uid, gid int) error {
	r.record("chown", path)
	if e, ok := r.files[clean(path)]; ok {
		e.uid, e.gid = uid, gid
	}
	return nil
}

func (r *Recorder) Mount(source, target string, fstype string, flags uintptr, data string) error {
	r.record("mount", source, target, fstype, fmt.Sprintf("%#x", flags), data)
	if err := r.failure(target); err != nil {
		return err
	}
	// A mount gives target the source's shape, matching the only
	// thing our applier cares about: after MS_MOVE, path exists.
	// Source-less calls (remount, propagation changes) leave target as
	// it is.
	if src, ok := r.files[clean(source)]; ok && source != "" && fstype == "" && flags != 0 {
		r.files[clean(target)] = src
	} else if fstype == "tmpfs" {
		r.files[clean(target)] = &entry{kind: KindDir, mode: 0o755}
	}
	return nil
}

func (r *Recorder) Unmount(target string, flags int) error {
	r.record("unmount", target, fmt.Sprintf("%#x", flags))
	return r.failure(target)
}
