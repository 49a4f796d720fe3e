package patch

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/grove-sync/grove/internal/tree"
)

// Apply validates the whole set against the tree and then applies it:
// removals, then additions (ascending child index), then updates. If
// any patch is invalid the tree is left untouched and the error wraps
// ErrBatchInvalid.
func Apply(t *tree.Tree, set Set) (AppliedSet, error) {
	if err := validate(t, set); err != nil {
		return AppliedSet{}, fmt.Errorf("%w: %v", ErrBatchInvalid, err)
	}

	applied := AppliedSet{
		Added: make(map[tree.Ref]tree.Instance),
	}

	for _, ref := range set.Removed {
		if err := t.Remove(ref); err != nil {
			// Validation covered existence; a failure here means the
			// ref was a descendant of an earlier removal and is
			// already gone. That is still a single logical removal.
			continue
		}
		applied.Removed = append(applied.Removed, ref)
	}

	added := append([]Added(nil), set.Added...)
	sort.SliceStable(added, func(i, j int) bool {
		if added[i].Parent != added[j].Parent {
			return added[i].Parent < added[j].Parent
		}
		return effectiveIndex(added[i].Index) < effectiveIndex(added[j].Index)
	})
	for _, add := range added {
		ref, err := t.Insert(add.Parent, add.Index, add.Snapshot)
		if err != nil {
			return AppliedSet{}, fmt.Errorf("%w: insert under %s after validation: %v", ErrBatchInvalid, add.Parent, err)
		}
		descendants, err := t.Descendants(ref)
		if err != nil {
			return AppliedSet{}, err
		}
		for _, d := range descendants {
			inst, ok := t.GetCopy(d)
			if ok {
				applied.Added[d] = inst
			}
		}
	}

	for _, upd := range set.Updated {
		if err := t.Update(upd.Ref, upd.ChangedProperties, upd.ChangedName, upd.ChangedClassName, upd.ChangedMeta); err != nil {
			return AppliedSet{}, fmt.Errorf("%w: update %s after validation: %v", ErrBatchInvalid, upd.Ref, err)
		}
		applied.Updated = append(applied.Updated, upd)
	}

	return applied, nil
}

func effectiveIndex(idx int) int {
	if idx < 0 {
		return int(^uint(0) >> 1) // appends sort last
	}
	return idx
}

// validate checks every patch against the tree and the rest of the
// set before anything mutates.
func validate(t *tree.Tree, set Set) error {
	var errs *multierror.Error

	// The removal closure: refs named for removal plus all their
	// descendants. Updates and insertions may not target them.
	removed := make(map[tree.Ref]bool)
	for _, ref := range set.Removed {
		if ref == t.RootRef() {
			errs = multierror.Append(errs, tree.ErrRemoveRoot)
			continue
		}
		descendants, err := t.Descendants(ref)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", ref, tree.ErrNotFound))
			continue
		}
		for _, d := range descendants {
			removed[d] = true
		}
	}

	for _, add := range set.Added {
		if add.Snapshot == nil {
			errs = multierror.Append(errs, fmt.Errorf("added patch under %s has no snapshot", add.Parent))
			continue
		}
		if _, ok := t.Get(add.Parent); !ok {
			errs = multierror.Append(errs, fmt.Errorf("added parent %s: %w", add.Parent, tree.ErrNotFound))
			continue
		}
		if removed[add.Parent] {
			errs = multierror.Append(errs, fmt.Errorf("added parent %s is removed by the same batch", add.Parent))
		}
	}

	for _, upd := range set.Updated {
		if _, ok := t.Get(upd.Ref); !ok {
			errs = multierror.Append(errs, fmt.Errorf("updated ref %s: %w", upd.Ref, tree.ErrNotFound))
			continue
		}
		if removed[upd.Ref] {
			errs = multierror.Append(errs, fmt.Errorf("updated ref %s is removed by the same batch", upd.Ref))
		}
	}

	return errs.ErrorOrNil()
}
