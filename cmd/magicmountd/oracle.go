package main

import (
	"os"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/mounttree"
	"github.com/snapcore-labs/magicmount/pathutil"
)

// needTmpfs decides whether node requires a tmpfs overlay: it does iff
// at least one child needs "type divergence" from what already exists
// on the live filesystem. Any child that requires tmpfs but whose
// parent lacks a ModulePath is marked Skip (with a logged error)
// rather than forcing a bogus overlay, and scanning continues across
// the remaining children.
func (c *Context) needTmpfs(node *mounttree.Node, realPath string) bool {
	need := false
	sys := c.syscalls()

	for _, child := range node.Children {
		childPath := pathutil.Join(realPath, child.Name)

		diverges := childDiverges(sys, child, childPath)
		if !diverges {
			continue
		}

		if node.ModulePath == "" {
			logger.Errorf("cannot create tmpfs on %s (%s): no module_path on parent", realPath, child.Name)
			child.SetSkip(true)
			continue
		}
		need = true
	}
	return need
}

// childDiverges reports whether child, if realized at childPath on the
// live filesystem, would require the parent directory to be replaced by
// a tmpfs overlay rather than applied in place.
func childDiverges(sys syscaller, child *mounttree.Node, childPath string) bool {
	switch child.Type {
	case mounttree.Symlink:
		// A symlink can never replace an existing entry via bind
		// mount; it must be created fresh in a writable directory.
		return true

	case mounttree.Whiteout:
		return pathExists(sys, childPath)

	default: // Regular or Directory
		info, err := sys.Lstat(childPath)
		if err != nil {
			// The live file is absent: a bind mount cannot create it
			// in place, so tmpfs is required to hold the new entry.
			return true
		}
		rt := typeFromStat(info)
		if rt != child.Type {
			return true
		}
		if rt == mounttree.Symlink {
			// Live symlinks must always be replaced by materialized
			// entries. child is Regular or Directory here, so a live
			// symlink has already returned through the type comparison
			// above; this check states the rule on its own.
			return true
		}
		return false
	}
}

// typeFromStat infers a mounttree.Type from a live os.FileInfo.
// Whiteout is never inferred from a live stat, only from the builder.
func typeFromStat(info os.FileInfo) mounttree.Type {
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return mounttree.Symlink
	case info.IsDir():
		return mounttree.Directory
	default:
		return mounttree.Regular
	}
}
