package tree

import (
	"github.com/RoaringBitmap/roaring"
)

// roaringSet wraps a bitmap so the map value stays a small struct if
// extra per-path state is ever needed.
type roaringSet struct {
	bitmap *roaring.Bitmap
}

// indexLocked assigns an internal id to the instance if it does not
// have one and sets its bit for every contributing path. Must be
// called with t.mu held.
func (t *Tree) indexLocked(inst *Instance) {
	if len(inst.Meta.RelevantPaths) == 0 {
		return
	}
	intID, ok := t.refInt[inst.Ref]
	if !ok {
		intID = t.nextInt
		t.nextInt++
		t.refInt[inst.Ref] = intID
		for uint32(len(t.intRef)) <= intID {
			t.intRef = append(t.intRef, NilRef)
		}
		t.intRef[intID] = inst.Ref
	}
	for _, p := range inst.Meta.RelevantPaths {
		set, ok := t.pathToInts[p]
		if !ok {
			set = &roaringSet{bitmap: roaring.New()}
			t.pathToInts[p] = set
		}
		set.bitmap.Add(intID)
	}
}

// unindexLocked clears the instance's bits and releases its internal
// id. Must be called with t.mu held.
func (t *Tree) unindexLocked(inst *Instance) {
	intID, ok := t.refInt[inst.Ref]
	if !ok {
		return
	}
	for _, p := range inst.Meta.RelevantPaths {
		set, ok := t.pathToInts[p]
		if !ok {
			continue
		}
		set.bitmap.Remove(intID)
		if set.bitmap.IsEmpty() {
			delete(t.pathToInts, p)
		}
	}
	delete(t.refInt, inst.Ref)
	if int(intID) < len(t.intRef) {
		t.intRef[intID] = NilRef
	}
}
