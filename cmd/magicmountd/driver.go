package main

import (
	"context"
	"os"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/mounttree"
	"github.com/snapcore-labs/magicmount/pathutil"
)

// MagicMount is the top-level entry point: it builds the merged tree,
// stages a private tmpfs workdir, applies the tree onto "/", and tears
// the staging workdir down regardless of outcome. It returns nil on
// overall success, including "no modules."
func (c *Context) MagicMount(tmpRoot string) error {
	root, err := c.Builder.Build(context.Background())
	if err != nil {
		return err
	}
	if root == nil {
		logger.Infof("no modules, magic_mount skipped")
		return nil
	}
	c.tree = root

	workdir := pathutil.Join(tmpRoot, "workdir")
	if err := pathutil.MkdirAll(workdir, 0o755); err != nil {
		return err
	}

	sys := c.syscalls()
	logger.Infof("starting magic_mount core logic: tmpfs_source=%s tmp_dir=%s", c.MountSource, workdir)

	if err := mountTmpfs(sys, c.MountSource, workdir); err != nil {
		logger.Errorf("mount tmpfs %s: %v", workdir, err)
		return mountErr(KindFatal, workdir, "", err)
	}
	if err := makeRecursivePrivate(sys, workdir); err != nil {
		logger.Warnf("make private %s: %v", workdir, err)
	}

	applyErr := c.apply("/", workdir, root, false)
	if applyErr != nil {
		c.Stats.NodesFail++
	}

	if err := detachUnmount(sys, workdir); err != nil {
		logger.Errorf("umount %s: %v", workdir, err)
	}
	if err := os.Remove(workdir); err != nil {
		logger.Warnf("rmdir %s: %v", workdir, err)
	}

	return applyErr
}

// countTree exposes mounttree.Node.Count to tests in this package
// without importing mounttree directly in every test file.
func countTree(n *mounttree.Node) int { return n.Count() }
