// Package patch implements the leaf-level mutation operations carried by
// deltas: add, replace, and remove, each addressing a single path in an
// entity's state document.
//
// Paths are slash-separated from the document root, e.g.
// "/metrics/closed_loops_total" or "/enforcement/closure_log/-". A trailing
// "-" on an add appends to an array. Missing intermediate objects along an
// add path are synthesized before the leaf operation; synthesized container
// paths are reported to the caller for the audit log. Leaf values are never
// fabricated, and replace/remove require the leaf to exist.
package patch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opsledger/deltakernel/internal/doc"
)

// OpKind enumerates the allowed patch operations.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpReplace OpKind = "replace"
	OpRemove  OpKind = "remove"
)

// Op is a single leaf operation. Value must be nil for remove and non-nil
// for add and replace.
type Op struct {
	Kind  OpKind
	Path  string
	Value doc.Value
}

// Patch is an ordered list of operations applied as a unit.
type Patch []Op

// Add constructs an add operation.
func Add(path string, value doc.Value) Op {
	return Op{Kind: OpAdd, Path: path, Value: value}
}

// Replace constructs a replace operation.
func Replace(path string, value doc.Value) Op {
	return Op{Kind: OpReplace, Path: path, Value: value}
}

// Remove constructs a remove operation.
func Remove(path string) Op {
	return Op{Kind: OpRemove, Path: path}
}

// Error describes why a patch could not be applied. It carries the offending
// operation so rejections can be logged with full context.
type Error struct {
	Op      Op
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("patch %s %s: %s", e.Op.Kind, e.Op.Path, e.Message)
}

func opErr(op Op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// splitPath parses a path into segments. The empty path and paths not
// starting with "/" are invalid; the root itself is never a patch target.
func splitPath(path string) ([]string, error) {
	if len(path) < 2 || path[0] != '/' {
		return nil, fmt.Errorf("invalid path %q", path)
	}
	segs := strings.Split(path[1:], "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("invalid path %q: empty segment", path)
		}
	}
	return segs, nil
}

// Validate checks structural well-formedness without touching a document.
func (p Patch) Validate() error {
	if len(p) == 0 {
		return fmt.Errorf("empty patch")
	}
	for _, op := range p {
		if _, err := splitPath(op.Path); err != nil {
			return &Error{Op: op, Message: err.Error()}
		}
		switch op.Kind {
		case OpAdd, OpReplace:
			if op.Value == nil {
				return opErr(op, "missing value")
			}
		case OpRemove:
			if op.Value != nil {
				return opErr(op, "remove must not carry a value")
			}
		default:
			return opErr(op, "unknown op %q", op.Kind)
		}
	}
	return nil
}

// Apply applies the patch to a deep copy of state and returns the result
// plus the container paths synthesized on the way. The input document is
// never mutated; a failed operation leaves the caller's state untouched by
// construction.
func (p Patch) Apply(state doc.Object) (doc.Object, []string, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	working := doc.Clone(state).(doc.Object)
	var synthesized []string

	for _, op := range p {
		segs, _ := splitPath(op.Path) // validated above
		updated, created, err := applySegs(doc.Value(working), segs, op, nil)
		if err != nil {
			return nil, nil, err
		}
		working = updated.(doc.Object)
		synthesized = append(synthesized, created...)
	}

	return working, synthesized, nil
}

// applySegs walks one path segment and recurses. It returns the (possibly
// reallocated) container so array appends and removals propagate upward.
// walked carries the segments consumed so far for synthesis audit paths.
func applySegs(current doc.Value, segs []string, op Op, walked []string) (doc.Value, []string, error) {
	seg := segs[0]
	atLeaf := len(segs) == 1

	switch container := current.(type) {
	case doc.Object:
		if atLeaf {
			return container, nil, applyObjectLeaf(container, seg, op)
		}

		child, ok := container[seg]
		var created []string
		if !ok {
			if op.Kind != OpAdd {
				return nil, nil, opErr(op, "path segment %q does not exist", seg)
			}
			// Genesis rule: synthesize the missing container, record it.
			child = doc.Object{}
			created = append(created, "/"+strings.Join(append(walked, seg), "/"))
		}

		updated, deeper, err := applySegs(child, segs[1:], op, append(walked, seg))
		if err != nil {
			return nil, nil, err
		}
		container[seg] = updated
		return container, append(created, deeper...), nil

	case doc.Array:
		if atLeaf {
			updated, err := applyArrayLeaf(container, seg, op)
			return updated, nil, err
		}

		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(container) {
			return nil, nil, opErr(op, "invalid array index %q", seg)
		}
		updated, deeper, err := applySegs(container[idx], segs[1:], op, append(walked, seg))
		if err != nil {
			return nil, nil, err
		}
		container[idx] = updated
		return container, deeper, nil

	default:
		return nil, nil, opErr(op, "segment %q addresses through a leaf", seg)
	}
}

// applyObjectLeaf performs the leaf operation when the parent is an object.
func applyObjectLeaf(parent doc.Object, leaf string, op Op) error {
	if leaf == "-" {
		return opErr(op, `append marker "-" requires an array parent`)
	}

	switch op.Kind {
	case OpAdd:
		parent[leaf] = op.Value
		return nil
	case OpReplace:
		if _, ok := parent[leaf]; !ok {
			return opErr(op, "leaf %q does not exist", leaf)
		}
		parent[leaf] = op.Value
		return nil
	case OpRemove:
		if _, ok := parent[leaf]; !ok {
			return opErr(op, "leaf %q does not exist", leaf)
		}
		delete(parent, leaf)
		return nil
	default:
		return opErr(op, "unknown op %q", op.Kind)
	}
}

// applyArrayLeaf performs the leaf operation when the parent is an array.
// Returns the updated array since append and remove reallocate.
func applyArrayLeaf(parent doc.Array, leaf string, op Op) (doc.Array, error) {
	if leaf == "-" {
		if op.Kind != OpAdd {
			return nil, opErr(op, `append marker "-" only valid for add`)
		}
		return append(parent, op.Value), nil
	}

	idx, err := strconv.Atoi(leaf)
	if err != nil || idx < 0 {
		return nil, opErr(op, "invalid array index %q", leaf)
	}

	switch op.Kind {
	case OpAdd:
		// Insert at index; idx == len appends.
		if idx > len(parent) {
			return nil, opErr(op, "array index %d out of range", idx)
		}
		out := make(doc.Array, 0, len(parent)+1)
		out = append(out, parent[:idx]...)
		out = append(out, op.Value)
		out = append(out, parent[idx:]...)
		return out, nil
	case OpReplace:
		if idx >= len(parent) {
			return nil, opErr(op, "array index %d out of range", idx)
		}
		parent[idx] = op.Value
		return parent, nil
	case OpRemove:
		if idx >= len(parent) {
			return nil, opErr(op, "array index %d out of range", idx)
		}
		out := make(doc.Array, 0, len(parent)-1)
		out = append(out, parent[:idx]...)
		out = append(out, parent[idx+1:]...)
		return out, nil
	default:
		return nil, opErr(op, "unknown op %q", op.Kind)
	}
}
