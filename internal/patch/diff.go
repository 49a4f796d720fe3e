package patch

import (
	"fmt"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
)

// Compute returns the minimal patch set that transforms the subtree
// rooted at ref into the target snapshot. It is a pure function of
// (current subtree, target snapshot); applying the result and
// re-diffing yields an empty set.
func Compute(t *tree.Tree, ref tree.Ref, target *snapshot.Snapshot) (Set, error) {
	inst, ok := t.GetCopy(ref)
	if !ok {
		return Set{}, fmt.Errorf("diff root %s: %w", ref, tree.ErrNotFound)
	}
	var set Set
	diffInstance(t, inst, target, &set)
	return set, nil
}

func diffInstance(t *tree.Tree, inst tree.Instance, target *snapshot.Snapshot, set *Set) {
	diffSelf(inst, target, set)
	diffChildren(t, inst, target, set)
}

// diffSelf emits an Updated patch for class, name, property, and
// metadata drift. Reclassification does not discard children.
func diffSelf(inst tree.Instance, target *snapshot.Snapshot, set *Set) {
	upd := Updated{Ref: inst.Ref}
	changed := false

	if inst.ClassName != target.ClassName {
		class := target.ClassName
		upd.ChangedClassName = &class
		changed = true
	}
	if inst.Name != target.Name {
		name := target.Name
		upd.ChangedName = &name
		changed = true
	}

	props := make(map[string]*snapshot.Value)
	for key, newValue := range target.Properties {
		oldValue, ok := inst.Properties[key]
		if !ok || !oldValue.Equal(newValue) {
			v := newValue
			props[key] = &v
		}
	}
	for key := range inst.Properties {
		if _, ok := target.Properties[key]; !ok {
			props[key] = nil // explicit unset
		}
	}
	if len(props) > 0 {
		upd.ChangedProperties = props
		changed = true
	}

	if !inst.Meta.Equal(target.Meta) {
		meta := target.Meta
		upd.ChangedMeta = &meta
		changed = true
	}

	if changed {
		set.Updated = append(set.Updated, upd)
	}
}

// childKey is the stable matching key for children: the contributing
// source path where available, else name+class. The name joins the
// path key because siblings described only by a shared project file
// all carry the same source path.
func childKeyOfInstance(inst *tree.Instance) string {
	if inst.Meta.SourcePath != "" {
		return "p\x00" + inst.Meta.SourcePath + "\x00" + inst.Name
	}
	return "n\x00" + inst.Name + "\x00" + inst.ClassName
}

func childKeyOfSnapshot(snap *snapshot.Snapshot) string {
	if snap.Meta.SourcePath != "" {
		return "p\x00" + snap.Meta.SourcePath + "\x00" + snap.Name
	}
	return "n\x00" + snap.Name + "\x00" + snap.ClassName
}

func diffChildren(t *tree.Tree, inst tree.Instance, target *snapshot.Snapshot, set *Set) {
	// Old children keyed for matching; a queue per key handles
	// duplicate names deterministically (first old matches first new).
	oldByKey := make(map[string][]int)
	oldInsts := make([]tree.Instance, 0, len(inst.Children))
	for _, childRef := range inst.Children {
		child, ok := t.GetCopy(childRef)
		if !ok {
			continue
		}
		idx := len(oldInsts)
		oldInsts = append(oldInsts, child)
		key := childKeyOfInstance(&child)
		oldByKey[key] = append(oldByKey[key], idx)
	}

	matchedOld := make([]int, len(target.Children)) // new index -> old index, -1 for added
	usedOld := make([]bool, len(oldInsts))
	for newIdx, childSnap := range target.Children {
		matchedOld[newIdx] = -1
		key := childKeyOfSnapshot(childSnap)
		queue := oldByKey[key]
		for len(queue) > 0 {
			oldIdx := queue[0]
			queue = queue[1:]
			if !usedOld[oldIdx] {
				usedOld[oldIdx] = true
				matchedOld[newIdx] = oldIdx
				break
			}
		}
		oldByKey[key] = queue
	}

	// Unmatched old children are removed, unless the snapshot opts out
	// of managing unknown children.
	if !target.Meta.IgnoreUnknownChildren {
		for oldIdx, used := range usedOld {
			if !used {
				set.Removed = append(set.Removed, oldInsts[oldIdx].Ref)
			}
		}
	}

	// Reordering has no move primitive: matched children that fall
	// outside the longest increasing run of old indices are reinserted
	// as remove+add pairs.
	stable := longestIncreasingRun(matchedOld)

	for newIdx, childSnap := range target.Children {
		oldIdx := matchedOld[newIdx]
		switch {
		case oldIdx == -1:
			set.Added = append(set.Added, Added{
				Parent:   inst.Ref,
				Index:    newIdx,
				Snapshot: childSnap,
			})
		case stable[newIdx]:
			diffInstance(t, oldInsts[oldIdx], childSnap, set)
		default:
			set.Removed = append(set.Removed, oldInsts[oldIdx].Ref)
			set.Added = append(set.Added, Added{
				Parent:   inst.Ref,
				Index:    newIdx,
				Snapshot: childSnap,
			})
		}
	}
}

// longestIncreasingRun marks, for each position of matched (old-index
// values, -1 for unmatched), whether it belongs to a longest strictly
// increasing subsequence of the matched values. Positions outside the
// subsequence must be relocated.
func longestIncreasingRun(matched []int) []bool {
	stable := make([]bool, len(matched))

	var tails []int // tails[k] = position ending the best subsequence of length k+1
	prev := make([]int, len(matched))

	for pos, val := range matched {
		prev[pos] = -1
		if val == -1 {
			continue
		}
		// Binary search for the first tail with value >= val.
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if matched[tails[mid]] < val {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[pos] = tails[lo-1]
		}
		if lo == len(tails) {
			tails = append(tails, pos)
		} else {
			tails[lo] = pos
		}
	}

	if len(tails) > 0 {
		for pos := tails[len(tails)-1]; pos != -1; pos = prev[pos] {
			stable[pos] = true
		}
	}
	return stable
}
