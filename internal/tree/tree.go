// Package tree owns the live instance graph. Instances refer to their
// parent and children by ref only; the tree owns the ref->instance
// mapping and the path index, all behind a single lock.
package tree

import (
	"errors"
	"fmt"
	"sync"

	"github.com/grove-sync/grove/internal/snapshot"
)

var (
	// ErrNotFound is returned for refs that are not in the tree.
	ErrNotFound = errors.New("instance not found")

	// ErrRemoveRoot is returned when a removal targets the root.
	ErrRemoveRoot = errors.New("cannot remove the root instance")
)

// Instance is a node of the live tree. Callers receive borrowed views
// from Get and must not mutate them; all mutation goes through the
// tree's operations.
type Instance struct {
	Ref        Ref
	ClassName  string
	Name       string
	Properties map[string]snapshot.Value
	Children   []Ref
	Parent     Ref
	Meta       snapshot.Meta
}

// Clone returns a deep enough copy for hand-off across the lock:
// property map and child slice are copied, values are immutable.
func (inst *Instance) Clone() Instance {
	out := *inst
	out.Properties = make(map[string]snapshot.Value, len(inst.Properties))
	for k, v := range inst.Properties {
		out.Properties[k] = v
	}
	out.Children = append([]Ref(nil), inst.Children...)
	out.Meta.RelevantPaths = append([]string(nil), inst.Meta.RelevantPaths...)
	return out
}

// Tree is the authoritative instance graph.
type Tree struct {
	mu        sync.RWMutex
	instances map[Ref]*Instance
	root      Ref
	refs      *refSource

	// Path index: path -> bitmap of internal uint32 ids. The internal
	// id layer keeps the bitmaps compact; refInt/intRef translate both
	// ways.
	pathToInts map[string]*roaringSet
	refInt     map[Ref]uint32
	intRef     []Ref
	nextInt    uint32
}

// New builds a tree from the initial root snapshot. The root ref is
// fixed for the tree's lifetime.
func New(root *snapshot.Snapshot) *Tree {
	t := &Tree{
		instances:  make(map[Ref]*Instance),
		refs:       newRefSource(),
		pathToInts: make(map[string]*roaringSet),
		refInt:     make(map[Ref]uint32),
	}
	t.root = t.insertLocked(NilRef, -1, root)
	return t
}

// RootRef returns the fixed root identifier.
func (t *Tree) RootRef() Ref {
	return t.root
}

// Get returns a borrowed view of the instance with the given ref.
func (t *Tree) Get(ref Ref) (*Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.instances[ref]
	return inst, ok
}

// GetCopy returns a detached copy safe to hold across mutations.
func (t *Tree) GetCopy(ref Ref) (Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	inst, ok := t.instances[ref]
	if !ok {
		return Instance{}, false
	}
	return inst.Clone(), true
}

// Len returns the number of instances in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.instances)
}

// GetByPath returns the refs of all instances whose contributing paths
// include the given path.
func (t *Tree) GetByPath(path string) []Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set, ok := t.pathToInts[path]
	if !ok {
		return nil
	}
	refs := make([]Ref, 0, set.bitmap.GetCardinality())
	it := set.bitmap.Iterator()
	for it.HasNext() {
		intID := it.Next()
		if int(intID) < len(t.intRef) && t.intRef[intID] != NilRef {
			refs = append(refs, t.intRef[intID])
		}
	}
	return refs
}

// Insert adds the snapshot and all of its descendants under parent at
// the given child index (-1 appends) and returns the new subtree root
// ref.
func (t *Tree) Insert(parent Ref, index int, snap *snapshot.Snapshot) (Ref, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.instances[parent]; !ok {
		return NilRef, fmt.Errorf("insert under %s: %w", parent, ErrNotFound)
	}
	return t.insertLocked(parent, index, snap), nil
}

func (t *Tree) insertLocked(parent Ref, index int, snap *snapshot.Snapshot) Ref {
	ref := t.refs.next()

	props := make(map[string]snapshot.Value, len(snap.Properties))
	for k, v := range snap.Properties {
		props[k] = v
	}
	inst := &Instance{
		Ref:        ref,
		ClassName:  snap.ClassName,
		Name:       snap.Name,
		Properties: props,
		Parent:     parent,
		Meta:       snap.Meta,
	}
	inst.Meta.RelevantPaths = append([]string(nil), snap.Meta.RelevantPaths...)
	t.instances[ref] = inst
	t.indexLocked(inst)

	if parentInst, ok := t.instances[parent]; ok {
		if index < 0 || index > len(parentInst.Children) {
			parentInst.Children = append(parentInst.Children, ref)
		} else {
			parentInst.Children = append(parentInst.Children, NilRef)
			copy(parentInst.Children[index+1:], parentInst.Children[index:])
			parentInst.Children[index] = ref
		}
	}

	for _, child := range snap.Children {
		t.insertLocked(ref, -1, child)
	}
	return ref
}

// Remove deletes the instance and all of its descendants, bottom-up,
// and purges their path index entries. Removing the root is an error.
func (t *Tree) Remove(ref Ref) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ref == t.root {
		return ErrRemoveRoot
	}
	inst, ok := t.instances[ref]
	if !ok {
		return fmt.Errorf("remove %s: %w", ref, ErrNotFound)
	}

	// Detach from the parent's child list first so the tree is never
	// observed half-removed.
	if parent, ok := t.instances[inst.Parent]; ok {
		for i, child := range parent.Children {
			if child == ref {
				parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
				break
			}
		}
	}
	t.removeSubtreeLocked(ref)
	return nil
}

func (t *Tree) removeSubtreeLocked(ref Ref) {
	inst, ok := t.instances[ref]
	if !ok {
		return
	}
	for _, child := range inst.Children {
		t.removeSubtreeLocked(child)
	}
	t.unindexLocked(inst)
	delete(t.instances, ref)
}

// Update mutates an instance in place. Property entries with a nil
// value remove the property. Non-nil name, className, or meta replace
// the corresponding field.
func (t *Tree) Update(ref Ref, props map[string]*snapshot.Value, name, className *string, meta *snapshot.Meta) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[ref]
	if !ok {
		return fmt.Errorf("update %s: %w", ref, ErrNotFound)
	}

	if name != nil {
		inst.Name = *name
	}
	if className != nil {
		inst.ClassName = *className
	}
	for key, value := range props {
		if value == nil {
			delete(inst.Properties, key)
		} else {
			inst.Properties[key] = *value
		}
	}
	if meta != nil {
		t.unindexLocked(inst)
		inst.Meta = *meta
		inst.Meta.RelevantPaths = append([]string(nil), meta.RelevantPaths...)
		t.indexLocked(inst)
	}
	return nil
}

// Descendants returns the refs of the subtree rooted at ref in
// document order (pre-order, children in list order), including ref
// itself.
func (t *Tree) Descendants(ref Ref) ([]Ref, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, ok := t.instances[ref]; !ok {
		return nil, fmt.Errorf("descendants of %s: %w", ref, ErrNotFound)
	}
	var out []Ref
	var walk func(Ref)
	walk = func(r Ref) {
		inst, ok := t.instances[r]
		if !ok {
			return
		}
		out = append(out, r)
		for _, child := range inst.Children {
			walk(child)
		}
	}
	walk(ref)
	return out, nil
}

// CheckInvariants verifies parent/child symmetry and path index
// consistency. Tests call it after every mutation batch.
func (t *Tree) CheckInvariants() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for ref, inst := range t.instances {
		if ref == t.root {
			if inst.Parent != NilRef {
				return fmt.Errorf("root %s has a parent", ref)
			}
		} else {
			parent, ok := t.instances[inst.Parent]
			if !ok {
				return fmt.Errorf("instance %s has unknown parent %s", ref, inst.Parent)
			}
			count := 0
			for _, child := range parent.Children {
				if child == ref {
					count++
				}
			}
			if count != 1 {
				return fmt.Errorf("instance %s appears %d times in parent's child list", ref, count)
			}
		}
		for _, child := range inst.Children {
			childInst, ok := t.instances[child]
			if !ok {
				return fmt.Errorf("instance %s lists unknown child %s", ref, child)
			}
			if childInst.Parent != ref {
				return fmt.Errorf("child %s of %s points at parent %s", child, ref, childInst.Parent)
			}
		}
		for _, p := range inst.Meta.RelevantPaths {
			if !t.pathIndexedLocked(p, ref) {
				return fmt.Errorf("path %s of %s missing from index", p, ref)
			}
		}
	}
	for p, set := range t.pathToInts {
		it := set.bitmap.Iterator()
		for it.HasNext() {
			intID := it.Next()
			if int(intID) >= len(t.intRef) {
				return fmt.Errorf("index for %s holds out-of-range id %d", p, intID)
			}
			ref := t.intRef[intID]
			inst, ok := t.instances[ref]
			if !ok {
				return fmt.Errorf("index for %s holds dead ref %s", p, ref)
			}
			found := false
			for _, rp := range inst.Meta.RelevantPaths {
				if rp == p {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("index for %s holds %s which does not list the path", p, ref)
			}
		}
	}
	return nil
}

func (t *Tree) pathIndexedLocked(path string, ref Ref) bool {
	set, ok := t.pathToInts[path]
	if !ok {
		return false
	}
	intID, ok := t.refInt[ref]
	return ok && set.bitmap.Contains(intID)
}
