// Package treedef loads action trees from YAML.
//
// A tree file names a root node and an optional initial blackboard for the
// agent:
//
//	name: guard
//	blackboard:
//	  hp: 10
//	root:
//	  kind: sequence
//	  children:
//	    - kind: await_ready
//	    - kind: condition
//	      expr: hp > 5
//	    - kind: script
//	      source: "(ctx) => 'success'"
//
// Each node has a kind, an optional name, children, and kind-specific
// parameters alongside. Two parameters apply to any kind: score attaches a
// constant score provider and score_expr an expression one, so the node can
// sit under highest_score.
package treedef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/script"
	"github.com/joeycumines/actionflow/internal/world"
)

// ErrInvalid wraps every definition error.
var ErrInvalid = errors.New("treedef: invalid definition")

// Tree is a parsed tree file.
type Tree struct {
	Name       string         `yaml:"name"`
	Blackboard map[string]any `yaml:"blackboard,omitempty"`
	Root       Node           `yaml:"root"`
}

// Node is one node of a tree definition.
type Node struct {
	Kind     string         `yaml:"kind"`
	Name     string         `yaml:"name,omitempty"`
	Children []Node         `yaml:"children,omitempty"`
	Params   map[string]any `yaml:",inline"`
}

// Parse decodes a tree from YAML. Kinds are checked when the tree is built.
func Parse(data []byte) (*Tree, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a tree from r.
func Decode(r io.Reader) (*Tree, error) {
	var t Tree
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if t.Root.Kind == "" {
		return nil, fmt.Errorf("%w: root: missing kind", ErrInvalid)
	}
	return &t, nil
}

// Load reads a tree file.
func Load(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("treedef: %w", err)
	}
	defer f.Close()
	t, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Options configures Build.
type Options struct {
	// Kinds resolves node kinds; nil means DefaultKinds().
	Kinds *Kinds
	// Bridge runs script nodes. Trees with script nodes need one.
	Bridge *script.Bridge
}

// Spawned is a tree instantiated in a world.
type Spawned struct {
	Root       world.NodeID
	Blackboard *blackboard.Blackboard
	// Nodes maps each node's name to its id, for named nodes.
	Nodes map[string]world.NodeID
}

// Spawn builds every node's components and spawns the tree in e's world. The
// root gets the tree's blackboard, making it the agent of every node. Nothing
// is spawned if any node fails to build.
func (t *Tree) Spawn(e *flow.Engine, opts Options) (*Spawned, error) {
	kinds := opts.Kinds
	if kinds == nil {
		kinds = DefaultKinds()
	}
	bb := blackboard.New(t.Blackboard)
	b := &Builder{Bridge: opts.Bridge, Blackboard: bb}
	root, err := kinds.build(b, t.Root, "root")
	if err != nil {
		return nil, err
	}
	if !root.named && t.Name != "" {
		root.name = t.Name
	}

	out := &Spawned{Blackboard: bb, Nodes: make(map[string]world.NodeID)}
	w := e.World()
	var spawn func(parent world.NodeID, n *built) world.NodeID
	spawn = func(parent world.NodeID, n *built) world.NodeID {
		var id world.NodeID
		if parent.IsPlaceholder() {
			id = w.Spawn(flow.Name(n.name), bb)
		} else {
			id = w.SpawnChild(parent, flow.Name(n.name))
		}
		if n.named {
			out.Nodes[n.name] = id
		}
		for _, child := range n.children {
			spawn(id, child)
		}
		// components last, so actions triggered on insert see the whole
		// subtree
		for _, c := range n.components {
			w.Insert(id, c)
		}
		return id
	}
	out.Root = spawn(world.Placeholder, root)
	return out, nil
}

// Uses reports whether any node of the tree has the given kind.
func (t *Tree) Uses(kind string) bool {
	var walk func(n Node) bool
	walk = func(n Node) bool {
		if n.Kind == kind {
			return true
		}
		for _, c := range n.Children {
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(t.Root)
}
