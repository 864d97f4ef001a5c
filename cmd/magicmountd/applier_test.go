package main_test

import (
	"errors"
	"os"

	. "gopkg.in/check.v1"

	update "github.com/snapcore-labs/magicmount/cmd/magicmountd"
	"github.com/snapcore-labs/magicmount/internal/sysfake"
	"github.com/snapcore-labs/magicmount/mounttree"
)

var errMount = errors.New("mount: permission denied")

type applierSuite struct{}

var _ = Suite(&applierSuite{})

// fakeNotifier records every path it was asked to protect, in order, so
// tests can assert on notification timing and count.
type fakeNotifier struct {
	paths []string
}

func (n *fakeNotifier) NotifyUnmountable(path string) {
	n.paths = append(n.paths, path)
}

// A REGULAR child whose live counterpart is already a regular file
// binds in place, with no tmpfs overlay involved — Apply is called
// directly with hasTmpfs=false and the real base/wbase, exactly as the
// applier would for a directory that never needed an overlay.
func (s *applierSuite) TestPerformFilesystemMount(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/system/lib", 0o755)
	sys.AddFile("/system/lib/libfoo.so", 0o644)
	sys.AddFile("/data/mod/A/system/lib/libfoo.so", 0o644)

	ctx := update.NewTestContext(sys)
	node := mounttree.New("libfoo.so", mounttree.Regular)
	node.ModulePath = "/data/mod/A/system/lib/libfoo.so"
	node.ModuleName = "A"

	err := update.Apply(ctx, "/system/lib", "/work/system/lib", node, false)
	c.Assert(err, IsNil)

	calls := sys.Calls()
	c.Assert(calls, HasLen, 2)
	c.Assert(calls[0].Op, Equals, "mount")
	c.Assert(calls[0].Args[0], Equals, "/data/mod/A/system/lib/libfoo.so")
	c.Assert(calls[0].Args[1], Equals, "/system/lib/libfoo.so")
	c.Assert(calls[1].Op, Equals, "mount") // the read-only remount

	c.Assert(ctx.Stats.NodesMounted, Equals, 1)
}

// A REGULAR apply with no ModulePath is a fatal, attributed failure.
func (s *applierSuite) TestPerformFilesystemMountWithoutModulePath(c *C) {
	sys := sysfake.NewRecorder()
	ctx := update.NewTestContext(sys)
	node := mounttree.New("libfoo.so", mounttree.Regular)
	node.ModuleName = "A"

	err := update.Apply(ctx, "/system/lib", "/work/system/lib", node, false)
	c.Assert(err, NotNil)
	c.Assert(ctx.Stats.NodesMounted, Equals, 0)
}

// A symlink child forces tmpfs on its parent; every other real entry
// is mirrored into the staged tree, then the overlay moves onto the
// live path.
func (s *applierSuite) TestRuntimeUsingSymlinks(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/etc", 0o755)
	sys.AddFile("/etc/hosts", 0o644)
	sys.AddFile("/etc/passwd", 0o644)
	sys.AddSymlink("/data/mod/A/etc/hosts", "/data/hosts") // symlink source on "disk"

	root := mounttree.New("etc", mounttree.Directory)
	root.ModulePath = "/data/mod/A/etc"
	root.ModuleName = "A"
	hosts := mounttree.New("hosts", mounttree.Symlink)
	hosts.ModulePath = "/data/mod/A/etc/hosts"
	hosts.ModuleName = "A"
	root.AddChild(hosts)

	ctx := update.NewTestContext(sys)
	err := update.Apply(ctx, "/", "/work", root, false)
	c.Assert(err, IsNil)

	// passwd must have been mirrored (bind-mounted) into the staged
	// tree before the move.
	var sawPasswdBind, sawSelfBind, sawMove bool
	for _, call := range sys.Calls() {
		if call.Op == "mount" && len(call.Args) > 1 && call.Args[1] == "/work/etc/passwd" {
			sawPasswdBind = true
		}
		if call.Op == "mount" && len(call.Args) > 1 && call.Args[0] == "/work/etc" && call.Args[1] == "/work/etc" {
			sawSelfBind = true
		}
		if call.Op == "mount" && len(call.Args) > 1 && call.Args[0] == "/work/etc" && call.Args[1] == "/etc" {
			sawMove = true
		}
	}
	c.Assert(sawPasswdBind, Equals, true)
	c.Assert(sawSelfBind, Equals, true)
	c.Assert(sawMove, Equals, true)

	// The symlink itself must now exist at the staged path with the
	// module's target.
	target, err := sys.Readlink("/work/etc/hosts")
	c.Assert(err, IsNil)
	c.Assert(target, Equals, "/data/hosts")
}

// A module-owned REGULAR child bound inside a directory that a sibling
// forces into tmpfs must not be notified at its own real path until the
// enclosing directory's MS_MOVE actually lands it there: exactly one
// notification for "/etc" is expected, never one for "/etc/passwd"
// alongside it.
func (s *applierSuite) TestRegularChildInOverlayNotifiesOnlyOnParentMove(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/etc", 0o755)
	sys.AddFile("/etc/passwd", 0o644)
	sys.AddFile("/data/mod/A/etc/passwd", 0o644)
	sys.AddSymlink("/data/mod/A/etc/hosts", "/data/hosts") // symlink source on "disk"

	root := mounttree.New("etc", mounttree.Directory)
	root.ModulePath = "/data/mod/A/etc"
	root.ModuleName = "A"
	hosts := mounttree.New("hosts", mounttree.Symlink)
	hosts.ModulePath = "/data/mod/A/etc/hosts"
	hosts.ModuleName = "A"
	root.AddChild(hosts)
	passwd := mounttree.New("passwd", mounttree.Regular)
	passwd.ModulePath = "/data/mod/A/etc/passwd"
	passwd.ModuleName = "A"
	root.AddChild(passwd)

	notifier := &fakeNotifier{}
	ctx := update.NewTestContext(sys)
	ctx.Notifier = notifier

	err := update.Apply(ctx, "/", "/work", root, false)
	c.Assert(err, IsNil)

	c.Assert(notifier.paths, DeepEquals, []string{"/etc"})
}

// A whiteout child forces tmpfs (since the real name exists), siblings
// are mirrored, and the whiteout's name is never created in the staged
// tree.
func (s *applierSuite) TestWhiteoutHidesExistingEntry(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/vendor/app", 0o755)
	sys.AddDir("/vendor/app/Bloat", 0o755)
	sys.AddFile("/vendor/app/Keep.apk", 0o644)

	root := mounttree.New("app", mounttree.Directory)
	root.ModulePath = "/data/mod/B/vendor/app"
	root.ModuleName = "B"
	wh := mounttree.New("Bloat", mounttree.Whiteout)
	wh.ModuleName = "B"
	root.AddChild(wh)

	ctx := update.NewTestContext(sys)
	err := update.Apply(ctx, "/vendor", "/work/vendor", root, false)
	c.Assert(err, IsNil)

	_, err = sys.Lstat("/work/vendor/app/Bloat")
	c.Assert(err, NotNil) // never materialized in the staged tree

	_, err = sys.Lstat("/work/vendor/app/Keep.apk")
	c.Assert(err, IsNil) // sibling preserved

	c.Assert(ctx.Stats.NodesWhiteout, Equals, 1)
}

// A brand-new replace=true directory with no live counterpart stages
// its own metadata from ModulePath.
func (s *applierSuite) TestNewReplaceDirectoryUsesModulePathMeta(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/data/mod/B/new_dir", 0o750)
	sys.AddFile("/data/mod/B/new_dir/file", 0o644)

	root := mounttree.New("new_dir", mounttree.Directory)
	root.ModulePath = "/data/mod/B/new_dir"
	root.ModuleName = "B"
	root.Replace = true
	file := mounttree.New("file", mounttree.Regular)
	file.ModulePath = "/data/mod/B/new_dir/file"
	file.ModuleName = "B"
	root.AddChild(file)

	ctx := update.NewTestContext(sys)
	err := update.Apply(ctx, "/", "/work", root, false)
	c.Assert(err, IsNil)

	info, err := sys.Lstat("/new_dir")
	c.Assert(err, IsNil)
	c.Assert(info.Mode().Perm(), Equals, os.FileMode(0o750))
}

// A REGULAR child requiring tmpfs with a module-path-less parent is
// skipped, not failed.
func (s *applierSuite) TestSkippedChildDoesNotFailParent(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/system/lib", 0o755)

	root := mounttree.New("lib", mounttree.Directory) // no ModulePath
	child := mounttree.New("libfoo.so", mounttree.Regular)
	child.ModuleName = "A"
	root.AddChild(child)

	ctx := update.NewTestContext(sys)
	err := update.Apply(ctx, "/system", "/work/system", root, false)
	c.Assert(err, IsNil)
	c.Assert(ctx.Stats.NodesFail, Equals, 0)
	c.Assert(child.Skip(), Equals, true)
}

// A failed child operation mid-overlay (here, creating the staged
// symlink at /work/etc/hosts) aborts that directory's apply and never
// reaches MS_MOVE.
func (s *applierSuite) TestFailedChildAbortsOverlayBeforeMove(c *C) {
	sys := sysfake.NewRecorder()
	sys.AddDir("/etc", 0o755)
	sys.AddSymlink("/data/mod/A/etc/hosts", "/data/hosts")
	sys.FailOn["/work/etc/hosts"] = errMount

	root := mounttree.New("etc", mounttree.Directory)
	root.ModulePath = "/data/mod/A/etc"
	root.ModuleName = "A"
	hosts := mounttree.New("hosts", mounttree.Symlink)
	hosts.ModulePath = "/data/mod/A/etc/hosts"
	hosts.ModuleName = "A"
	root.AddChild(hosts)

	ctx := update.NewTestContext(sys)
	err := update.Apply(ctx, "/", "/work", root, false)
	c.Assert(err, NotNil)

	for _, call := range sys.Calls() {
		c.Assert(call.Op == "mount" && len(call.Args) > 1 && call.Args[1] == "/etc", Equals, false)
	}
}
