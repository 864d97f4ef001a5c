package main

import "github.com/snapcore-labs/magicmount/mounttree"

// The identifiers below are exported to the black-box main_test
// package, mirroring snapd's cmd/snap-update-ns/export_test.go: the
// package under test stays plain "package main," and everything a test
// needs from it is threaded through here instead of being exported
// for production callers.

// NewTestContext builds a Context wired to a fake syscaller (normally a
// *sysfake.Recorder) instead of the real one, with notifications and
// the module registry left as no-ops/in-memory defaults.
func NewTestContext(sys syscaller) *Context {
	c := NewContext()
	c.sys = sys
	c.Builder = nil
	c.Notifier = nil
	return c
}

// Apply exposes Context.apply.
func Apply(c *Context, base, wbase string, node *mounttree.Node, hasTmpfs bool) error {
	return c.apply(base, wbase, node, hasTmpfs)
}

// NeedTmpfs exposes Context.needTmpfs.
func NeedTmpfs(c *Context, node *mounttree.Node, realPath string) bool {
	return c.needTmpfs(node, realPath)
}

// ChildDiverges exposes the package-level childDiverges helper.
func ChildDiverges(sys syscaller, child *mounttree.Node, childPath string) bool {
	return childDiverges(sys, child, childPath)
}

// MirrorEntry exposes Context.mirrorEntry.
func MirrorEntry(c *Context, realParent, workParent, name string) error {
	return c.mirrorEntry(realParent, workParent, name)
}

// CountTree exposes the tree-size helper countTree.
func CountTree(n *mounttree.Node) int { return countTree(n) }
