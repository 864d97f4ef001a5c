// Package mounttree defines the in-memory merged mount tree that the
// magicmount applier walks. A Node is produced by a Builder (see
// the modtree package for the default on-disk implementation) and
// consumed, never mutated structurally, by the applier.
package mounttree

import "context"

// Type is the closed set of node kinds a merged mount tree can contain.
type Type int

const (
	// Directory nodes may carry children; they exist either because a
	// module supplies a replacement directory or merely to route to a
	// deeper child.
	Directory Type = iota
	// Regular is a module-supplied replacement or new file.
	Regular
	// Symlink is a module-supplied symbolic link.
	Symlink
	// Whiteout marks a real path that must appear absent.
	Whiteout
)

func (t Type) String() string {
	switch t {
	case Directory:
		return "directory"
	case Regular:
		return "regular"
	case Symlink:
		return "symlink"
	case Whiteout:
		return "whiteout"
	default:
		return "unknown"
	}
}

// Node is a vertex of the merged mount tree. Nodes are owned exclusively
// by their parent; there is no shared ownership and the tree is freed as
// a whole when the Go garbage collector reclaims the root.
type Node struct {
	// Name is the final path component. The root node's Name is "".
	Name string
	// Type is the node's kind; Whiteout and Symlink nodes never have
	// children.
	Type Type
	// Children is non-empty only for Directory nodes. Names are unique
	// within a parent.
	Children []*Node
	// ModulePath is the absolute real-filesystem path backing this
	// node's content. Required for non-directory leaves owned by a
	// module; optional for directories that exist only to route to
	// deeper children.
	ModulePath string
	// ModuleName identifies the module that contributed this subtree,
	// for failure attribution. Inherited by the builder from the
	// topmost module that contributed the subtree.
	ModuleName string
	// Replace, when true on a Directory, means the directory's real
	// contents must be wholly replaced by module contents; siblings
	// are not mirrored in.
	Replace bool

	// skip is a transient planning flag: the oracle sets it when a
	// child cannot be honored because its parent lacks a ModulePath
	// required to create a tmpfs overlay. Kept unexported, reachable
	// only through the Skip/SetSkip accessors, because it is
	// applier/oracle scratch state, not part of the tree's logical shape.
	skip bool
	// done marks a child as already processed during the "mirror
	// unvisited real entries" pass of apply_directory.
	done bool
}

// New constructs a leaf or directory Node. Children should be appended
// via AddChild.
func New(name string, typ Type) *Node {
	return &Node{Name: name, Type: typ}
}

// AddChild appends c to the node's Children. It does not check for name
// collisions; Builders are responsible for merge-time dedup (last
// writer wins per module priority, see the modtree package).
func (n *Node) AddChild(c *Node) {
	n.Children = append(n.Children, c)
}

// ChildFind returns the child of parent named name, or nil.
func ChildFind(parent *Node, name string) *Node {
	for _, c := range parent.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Skip reports whether the oracle has marked this node unreachable.
func (n *Node) Skip() bool { return n.skip }

// SetSkip marks the node as unreachable for this apply pass.
func (n *Node) SetSkip(v bool) { n.skip = v }

// Done reports whether the applier has already visited this node during
// the real-directory-entries pass.
func (n *Node) Done() bool { return n.done }

// SetDone marks the node as visited during the real-directory-entries
// pass.
func (n *Node) SetDone(v bool) { n.done = v }

// Count returns the total number of nodes in the subtree rooted at n,
// including n itself: the total node count against which NodesMounted,
// NodesWhiteout, NodesFail and the skipped subtrees are accounted.
func (n *Node) Count() int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// Builder produces the merged mount tree rooted at "/" from all
// configured modules. Construction of the merged tree — how modules are
// discovered, ordered, and merged by name — is a collaborator outside
// this design; only this interface is specified. A nil Node with a nil
// error means "no modules," which the driver must treat as success.
type Builder interface {
	Build(ctx context.Context) (*Node, error)
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context) (*Node, error)

// Build implements Builder.
func (f BuilderFunc) Build(ctx context.Context) (*Node, error) { return f(ctx) }
