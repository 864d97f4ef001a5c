package main

import (
	"os"
	"syscall"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/mounttree"
	"github.com/snapcore-labs/magicmount/pathutil"
)

// apply realizes node under real path base/node.Name with working path
// wbase/node.Name, given whether an enclosing overlay is already
// active. It dispatches on node.Type.
func (c *Context) apply(base, wbase string, node *mounttree.Node, hasTmpfs bool) error {
	path := pathutil.Join(base, node.Name)
	wpath := pathutil.Join(wbase, node.Name)

	switch node.Type {
	case mounttree.Regular:
		return c.applyRegular(path, wpath, node, hasTmpfs)
	case mounttree.Symlink:
		return c.applySymlink(path, wpath, node)
	case mounttree.Whiteout:
		logger.Debugf("whiteout %s", path)
		c.Stats.NodesWhiteout++
		return nil
	case mounttree.Directory:
		return c.applyDirectory(path, wpath, node, hasTmpfs)
	default:
		return nil
	}
}

// applyRegular binds node.ModulePath onto the target (wpath while
// staging, the real path once no overlay remains to create), then
// remounts it read-only. It notifies the kernel shim itself only when
// path is already live (hasTmpfs is false); otherwise the enclosing
// applyDirectory notifies once its own MS_MOVE succeeds.
func (c *Context) applyRegular(path, wpath string, node *mounttree.Node, hasTmpfs bool) error {
	sys := c.syscalls()
	target := path
	if hasTmpfs {
		target = wpath
	}

	if node.ModulePath == "" {
		logger.Errorf("no module file for %s", path)
		return mountErr(KindMissingModulePath, path, node.ModuleName, os.ErrInvalid)
	}

	if hasTmpfs {
		parent := parentDir(wpath)
		if parent != "" {
			if err := mkdirAll(sys, parent, 0o755); err != nil {
				return mountErr(KindIO, parent, node.ModuleName, err)
			}
		}
		if err := sys.CreateEmpty(wpath, 0o644); err != nil {
			return mountErr(KindIO, wpath, node.ModuleName, err)
		}
	}

	logger.Debugf("bind %s -> %s", node.ModulePath, target)
	if err := bindMount(sys, node.ModulePath, target); err != nil {
		return mountErr(KindIO, target, node.ModuleName, err)
	}

	// Only notify once path is actually live: while hasTmpfs is true the
	// enclosing directory is still staged under the workdir and hasn't
	// been MS_MOVEd onto path yet, so notifying here would tell the
	// kernel shim a path is protected before it exists there — and
	// wrongly so if the enclosing MS_MOVE later fails. The enclosing
	// applyDirectory notifies once, after its own move succeeds.
	if !hasTmpfs {
		c.notifier().NotifyUnmountable(path)
	}

	if err := remountReadOnly(sys, target); err != nil {
		logger.Warnf("remount ro %s: %v", target, err)
	}

	c.Stats.NodesMounted++
	return nil
}

// applySymlink clones node.ModulePath's symlink target into wpath.
func (c *Context) applySymlink(path, wpath string, node *mounttree.Node) error {
	sys := c.syscalls()
	if node.ModulePath == "" {
		logger.Errorf("no module symlink for %s", path)
		return mountErr(KindMissingModulePath, path, node.ModuleName, os.ErrInvalid)
	}
	if err := c.cloneSymlink(sys, node.ModulePath, wpath); err != nil {
		return err
	}
	c.Stats.NodesMounted++
	return nil
}

// applyDirectory decides whether to create a tmpfs overlay, stages it,
// self-binds it, mirrors untouched real entries and applies module
// children into it, applies brand-new module children with no real
// counterpart, then remounts read-only and MS_MOVEs the staged tree
// onto the live path.
func (c *Context) applyDirectory(path, wpath string, node *mounttree.Node, hasTmpfs bool) error {
	sys := c.syscalls()

	createTmp := !hasTmpfs && node.Replace && node.ModulePath != ""
	if !hasTmpfs && !createTmp {
		createTmp = c.needTmpfs(node, path)
	}
	nowTmp := hasTmpfs || createTmp

	if nowTmp {
		if err := mkdirAll(sys, wpath, 0o755); err != nil {
			return mountErr(KindIO, wpath, node.ModuleName, err)
		}
		if err := setupDirMeta(sys, path, wpath, node); err != nil {
			return err
		}
	}

	if createTmp {
		if err := selfBind(sys, wpath); err != nil {
			return mountErr(KindFatal, wpath, node.ModuleName, err)
		}
	}

	if err := c.processRealEntries(path, wpath, node, nowTmp); err != nil {
		return err
	}
	if err := c.processRemainingChildren(path, wpath, node, nowTmp); err != nil {
		return err
	}

	if createTmp {
		if err := remountReadOnly(sys, wpath); err != nil {
			logger.Warnf("remount ro %s: %v", wpath, err)
		}
		if err := moveMount(sys, wpath, path); err != nil {
			c.markFailed(node.ModuleName, "MS_MOVE failed")
			return mountErr(KindFatal, path, node.ModuleName, err)
		}
		logger.Infof("move mountpoint success: %s -> %s", wpath, path)
		if err := makeRecursivePrivate(sys, path); err != nil {
			logger.Warnf("make private %s: %v", path, err)
		}
		c.notifier().NotifyUnmountable(path)
	}

	c.Stats.NodesMounted++
	return nil
}

// setupDirMeta picks wpath's metadata donor: the real path if it
// exists, else the node's ModulePath, copying mode/uid/gid and SELinux
// context onto wpath.
func setupDirMeta(sys syscaller, path, wpath string, node *mounttree.Node) error {
	var donor string
	var info os.FileInfo
	var err error

	if info, err = sys.Stat(path); err == nil {
		donor = path
	} else if node.ModulePath != "" {
		if info, err = sys.Stat(node.ModulePath); err == nil {
			donor = node.ModulePath
		}
	}
	if donor == "" {
		logger.Errorf("no dir meta for %s", path)
		return mountErr(KindIO, path, node.ModuleName, os.ErrNotExist)
	}

	_ = sys.Chmod(wpath, info.Mode().Perm())
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		_ = sys.Chown(wpath, int(st.Uid), int(st.Gid))
	}
	_ = pathutil.CopySELinuxContext(donor, wpath)
	return nil
}

// processRealEntries is the first child pass: every entry that
// currently exists on the real filesystem either recurses into a
// matching module Node, is mirrored into the tmpfs if one is active, or
// is left untouched (visible through the real directory, uncovered by
// any overlay).
func (c *Context) processRealEntries(path, wpath string, node *mounttree.Node, nowTmp bool) error {
	sys := c.syscalls()
	if node.Replace || !pathExists(sys, path) {
		return nil
	}

	entries, err := sys.ReadDir(path)
	if err != nil {
		if nowTmp {
			return mountErr(KindIO, path, node.ModuleName, err)
		}
		logger.Errorf("opendir %s: %v", path, err)
		return nil
	}

	for _, e := range entries {
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}

		child := mounttree.ChildFind(node, name)
		var applyErr error

		switch {
		case child != nil && child.Skip():
			child.SetDone(true)
		case child != nil:
			child.SetDone(true)
			applyErr = c.apply(path, wpath, child, nowTmp)
		case nowTmp:
			applyErr = c.mirrorEntry(path, wpath, name)
		}

		if applyErr != nil {
			if err := c.recordChildFailure(path, node, child, name, applyErr); err != nil {
				return err
			}
			if nowTmp {
				return applyErr
			}
		}
	}
	return nil
}

// processRemainingChildren is the second child pass: module children
// whose names never existed on the real filesystem (brand-new files or
// directories injected by a module).
func (c *Context) processRemainingChildren(path, wpath string, node *mounttree.Node, nowTmp bool) error {
	for _, child := range node.Children {
		if child.Skip() || child.Done() {
			continue
		}
		applyErr := c.apply(path, wpath, child, nowTmp)
		if applyErr != nil {
			if err := c.recordChildFailure(path, node, child, child.Name, applyErr); err != nil {
				return err
			}
			if nowTmp {
				return applyErr
			}
		}
	}
	return nil
}

// recordChildFailure attributes a failed child apply to the owning
// module and bumps NodesFail. It always returns nil; the callers decide
// whether to abort: when the directory is itself overlaid (nowTmp) they
// return the child's error, and outside an overlay the failure is
// accounted for but suppressed so other modules' effects still land.
func (c *Context) recordChildFailure(path string, node *mounttree.Node, child *mounttree.Node, childName string, applyErr error) error {
	module := ""
	if child != nil {
		module = child.ModuleName
	}
	if module == "" {
		module = node.ModuleName
	}

	if module != "" {
		logger.Errorf("child %s/%s failed (module: %s): %v", path, childName, module, applyErr)
		c.markFailed(module, applyErr.Error())
	} else {
		logger.Errorf("child %s/%s failed (no module_name): %v", path, childName, applyErr)
	}

	c.Stats.NodesFail++
	return nil
}

// parentDir returns the directory portion of p, or "" if p has no
// parent within the tree being built (e.g. p is "/" or a bare name).
func parentDir(p string) string {
	i := len(p) - 1
	for i > 0 && p[i] != '/' {
		i--
	}
	if i <= 0 {
		return ""
	}
	return p[:i]
}
