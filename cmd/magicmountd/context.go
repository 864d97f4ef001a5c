package main

import (
	"github.com/snapcore-labs/magicmount/kernelshim"
	"github.com/snapcore-labs/magicmount/modreg"
	"github.com/snapcore-labs/magicmount/modtree"
	"github.com/snapcore-labs/magicmount/mounttree"
)

// DefaultModuleDir is the module storage root used when a caller does
// not override it, matching the original source's DEFAULT_MODULE_DIR.
const DefaultModuleDir = "/data/adb/modules"

// DefaultMountSource is the tmpfs device-label shown in /proc/mounts
// for every overlay this tool creates, matching the original source's
// DEFAULT_MOUNT_SOURCE.
const DefaultMountSource = "magicmount"

// Stats are the per-run counters: every applied node increments
// exactly one of these, and the total size of the subtrees this run
// chose to skip accounts for the remainder of the built tree's node
// count.
type Stats struct {
	NodesMounted  int
	NodesFail     int
	NodesWhiteout int
}

// Context is the session-scoped state threaded through a single
// magicmount run.
type Context struct {
	// ModuleDir is the module storage root passed to Builder.
	ModuleDir string
	// MountSource is the tmpfs device-label used for the staging
	// mount.
	MountSource string
	// EnableUnmountable toggles kernel-shim notifications.
	EnableUnmountable bool

	// Builder produces the merged mount tree. Defaults to
	// modtree.Builder scanning ModuleDir.
	Builder mounttree.Builder
	// Notifier receives "send_unmountable" calls. Defaults to
	// kernelshim.NoopNotifier when EnableUnmountable is false.
	Notifier kernelshim.Notifier
	// Registry records per-module apply failures.
	Registry modreg.Registry

	Stats Stats

	// sys is the syscall indirection point; overridden by tests only.
	sys syscaller

	// tree is the Node tree returned by Builder, owned by this Context
	// for its lifetime and released on Cleanup.
	tree *mounttree.Node
}

// NewContext returns a Context with zero-filled stats, the default
// module dir and mount source, and unmountable notifications enabled.
func NewContext() *Context {
	return &Context{
		ModuleDir:         DefaultModuleDir,
		MountSource:       DefaultMountSource,
		EnableUnmountable: true,
		Builder:           &modtree.Builder{ModuleDir: DefaultModuleDir},
		Notifier:          kernelshim.NewDBusNotifier(),
		Registry:          modreg.NewMemRegistry(),
		sys:               realSyscaller{},
	}
}

// Cleanup releases the Context's owned module tree and registry
// resources, matching magic_mount_cleanup().
func (c *Context) Cleanup() {
	c.tree = nil
	if c.Registry != nil {
		c.Registry.Cleanup()
	}
}

func (c *Context) notifier() kernelshim.Notifier {
	if !c.EnableUnmountable {
		return kernelshim.NoopNotifier{}
	}
	if c.Notifier == nil {
		return kernelshim.NoopNotifier{}
	}
	return c.Notifier
}

func (c *Context) syscalls() syscaller {
	if c.sys == nil {
		return realSyscaller{}
	}
	return c.sys
}

func (c *Context) markFailed(module, reason string) {
	if module == "" || c.Registry == nil {
		return
	}
	c.Registry.MarkFailed(module, reason)
}
