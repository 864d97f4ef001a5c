// Package modtree is the default, concrete mounttree.Builder: it scans
// a directory of per-module shadow trees on disk and merges them into
// the single Node tree the applier consumes, kept separate from
// mounttree so it can be swapped out entirely.
package modtree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/snapcore-labs/magicmount/internal/logger"
	"github.com/snapcore-labs/magicmount/mounttree"
)

// replaceSentinel is an empty marker file inside a module-owned
// directory that flags that directory's Node.Replace = true.
const replaceSentinel = ".replace"

// Builder scans ModuleDir for subdirectories, one per module, and
// merges their shadow trees in directory-name order (lexically
// ascending, so a module wanting to win a collision names itself with
// a higher-sorting prefix, e.g. "50-base", "90-override"). Later
// modules overwrite earlier ones on name collision, matching the
// GLOSSARY's "last-writer-wins" merge policy.
type Builder struct {
	ModuleDir string
}

// Build implements mounttree.Builder.
func (b *Builder) Build(ctx context.Context) (*mounttree.Node, error) {
	entries, err := os.ReadDir(b.ModuleDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read module dir %s: %w", b.ModuleDir, err)
	}

	var moduleNames []string
	for _, e := range entries {
		if e.IsDir() {
			moduleNames = append(moduleNames, e.Name())
		}
	}
	if len(moduleNames) == 0 {
		return nil, nil
	}
	sort.Strings(moduleNames)

	root := mounttree.New("", mounttree.Directory)
	for _, name := range moduleNames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		modRoot := filepath.Join(b.ModuleDir, name)
		if err := mergeModule(root, modRoot, name); err != nil {
			return nil, fmt.Errorf("merge module %s: %w", name, err)
		}
	}
	if len(root.Children) == 0 {
		return nil, nil
	}
	return root, nil
}

// mergeModule walks realDir on disk and merges its entries into parent,
// attributing every node it creates or overwrites to module.
func mergeModule(parent *mounttree.Node, realDir, module string) error {
	entries, err := os.ReadDir(realDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", realDir, err)
	}

	for _, e := range entries {
		if e.Name() == replaceSentinel {
			parent.Replace = true
			parent.ModuleName = module
			continue
		}

		childReal := filepath.Join(realDir, e.Name())
		info, err := os.Lstat(childReal)
		if err != nil {
			logger.Warnf("modtree: lstat %s: %v", childReal, err)
			continue
		}

		existing := mounttree.ChildFind(parent, e.Name())

		switch {
		case isWhiteout(info):
			if existing == nil {
				existing = mounttree.New(e.Name(), mounttree.Whiteout)
				parent.AddChild(existing)
			}
			existing.Type = mounttree.Whiteout
			existing.ModuleName = module
			existing.Children = nil

		case info.IsDir():
			if existing == nil || existing.Type != mounttree.Directory {
				existing = mounttree.New(e.Name(), mounttree.Directory)
				parent.AddChild(existing)
			}
			existing.ModulePath = childReal
			existing.ModuleName = module
			if err := mergeModule(existing, childReal, module); err != nil {
				return err
			}

		case info.Mode()&os.ModeSymlink != 0:
			if existing == nil {
				existing = mounttree.New(e.Name(), mounttree.Symlink)
				parent.AddChild(existing)
			}
			existing.Type = mounttree.Symlink
			existing.ModulePath = childReal
			existing.ModuleName = module
			existing.Children = nil

		case info.Mode().IsRegular():
			if existing == nil {
				existing = mounttree.New(e.Name(), mounttree.Regular)
				parent.AddChild(existing)
			}
			existing.Type = mounttree.Regular
			existing.ModulePath = childReal
			existing.ModuleName = module
			existing.Children = nil

		default:
			logger.Debugf("modtree: ignoring %s (unsupported mode %v)", childReal, info.Mode())
		}
	}
	return nil
}

// isWhiteout reports whether info describes a char device with
// major/minor 0/0, the overlay-filesystem convention for "this name is
// deleted," also used by this design for module-supplied deletion
// markers.
func isWhiteout(info os.FileInfo) bool {
	if info.Mode()&os.ModeCharDevice == 0 || info.Mode()&os.ModeDevice == 0 {
		return false
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	rdev := stat.Rdev
	return unix.Major(uint64(rdev)) == 0 && unix.Minor(uint64(rdev)) == 0
}
