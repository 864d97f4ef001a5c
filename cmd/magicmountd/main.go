// Command magicmountd composes one or more module shadow trees onto the
// live root filesystem via bind mounts, tmpfs layers, and mount moves,
// then notifies systemd that it is ready. Tree construction, kernel-shim
// wiring, and config loading beyond these flags are external
// collaborators, swappable via Context's fields.
package main

import (
	"fmt"
	"os"

	"github.com/coreos/go-systemd/daemon"
	flags "github.com/jessevdk/go-flags"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/modtree"
)

type options struct {
	ModuleDir     string `long:"module-dir" description:"root directory containing per-module shadow trees" default:"/data/adb/modules"`
	MountSource   string `long:"mount-source" description:"tmpfs device label shown in /proc/mounts" default:"magicmount"`
	TmpRoot       string `long:"tmp-root" description:"parent directory for the staging workdir" default:"/dev"`
	NoUnmountable bool   `long:"no-unmountable" description:"disable kernel-shim unmountable notifications"`
	Debug         bool   `long:"debug" description:"enable debug logging"`
}

func run(args []string) int {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		return 1
	}

	if opts.Debug {
		logger.SetDebug(true)
	}

	ctx := NewContext()
	ctx.ModuleDir = opts.ModuleDir
	ctx.MountSource = opts.MountSource
	ctx.EnableUnmountable = !opts.NoUnmountable
	ctx.Builder = &modtree.Builder{ModuleDir: opts.ModuleDir}
	defer ctx.Cleanup()

	if err := ctx.MagicMount(opts.TmpRoot); err != nil {
		fmt.Fprintf(os.Stderr, "magicmountd: %v\n", err)
		logger.Errorf("run failed: nodes_mounted=%d nodes_fail=%d nodes_whiteout=%d",
			ctx.Stats.NodesMounted, ctx.Stats.NodesFail, ctx.Stats.NodesWhiteout)
		return 1
	}

	logger.Infof("magic_mount complete: nodes_mounted=%d nodes_fail=%d nodes_whiteout=%d",
		ctx.Stats.NodesMounted, ctx.Stats.NodesFail, ctx.Stats.NodesWhiteout)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warnf("sd_notify: %v", err)
	} else if sent {
		logger.Debugf("sd_notify: READY=1 delivered")
	}

	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
