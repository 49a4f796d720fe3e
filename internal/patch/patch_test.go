package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
)

// snapshotOf converts a live subtree back into a snapshot, for
// round-trip assertions.
func snapshotOf(t *testing.T, tr *tree.Tree, ref tree.Ref) *snapshot.Snapshot {
	t.Helper()
	inst, ok := tr.GetCopy(ref)
	require.True(t, ok)

	snap := &snapshot.Snapshot{
		ClassName:  inst.ClassName,
		Name:       inst.Name,
		Properties: inst.Properties,
		Meta:       inst.Meta,
	}
	for _, child := range inst.Children {
		snap.Children = append(snap.Children, snapshotOf(t, tr, child))
	}
	return snap
}

func moduleSnap(name, source, path string) *snapshot.Snapshot {
	snap := snapshot.New("ModuleScript", name)
	snap.Properties["Source"] = snapshot.String(source)
	snap.Meta.SourcePath = path
	snap.Meta.AddRelevantPath(path)
	return snap
}

func baseTree() *tree.Tree {
	root := snapshot.New("Folder", "Root")
	root.Meta.SourcePath = "/p"
	root.Meta.AddRelevantPath("/p")
	root.Children = []*snapshot.Snapshot{
		moduleSnap("A", "return 'a'", "/p/A.lua"),
		moduleSnap("B", "return 'b'", "/p/B.lua"),
	}
	return tree.New(root)
}

func TestDiff_Idempotence(t *testing.T) {
	tr := baseTree()
	snap := snapshotOf(t, tr, tr.RootRef())

	set, err := Compute(tr, tr.RootRef(), snap)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty(), "diff against own snapshot should be empty, got %+v", set)
}

func TestDiff_ApplyRoundTrip(t *testing.T) {
	tr := baseTree()

	target := snapshot.New("Folder", "Root")
	target.Meta.SourcePath = "/p"
	target.Meta.AddRelevantPath("/p")
	target.Children = []*snapshot.Snapshot{
		moduleSnap("A", "return 'changed'", "/p/A.lua"), // updated
		moduleSnap("C", "return 'c'", "/p/C.lua"),       // added; B removed
	}

	set, err := Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	_, err = Apply(tr, set)
	require.NoError(t, err)

	got := snapshotOf(t, tr, tr.RootRef())
	assert.True(t, got.Equal(target), "apply(diff) should reproduce the target")
	require.NoError(t, tr.CheckInvariants())

	// A second diff against the same target is empty.
	set, err = Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	assert.True(t, set.IsEmpty())
}

func TestDiff_PropertyUnset(t *testing.T) {
	tr := baseTree()
	refs := tr.GetByPath("/p/A.lua")
	require.Len(t, refs, 1)

	target := snapshotOf(t, tr, tr.RootRef())
	delete(target.Children[0].Properties, "Source")

	set, err := Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	require.Len(t, set.Updated, 1)

	upd := set.Updated[0]
	assert.Equal(t, refs[0], upd.Ref)
	require.Contains(t, upd.ChangedProperties, "Source")
	assert.Nil(t, upd.ChangedProperties["Source"], "missing property should become an explicit unset")
}

func TestDiff_ClassChangeKeepsChildren(t *testing.T) {
	tr := baseTree()

	target := snapshotOf(t, tr, tr.RootRef())
	target.ClassName = "Model"

	set, err := Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	assert.Empty(t, set.Removed, "reclassification must not discard children")
	require.Len(t, set.Updated, 1)
	require.NotNil(t, set.Updated[0].ChangedClassName)
	assert.Equal(t, "Model", *set.Updated[0].ChangedClassName)

	_, err = Apply(tr, set)
	require.NoError(t, err)
	root, _ := tr.Get(tr.RootRef())
	assert.Len(t, root.Children, 2)
}

func TestDiff_ReorderEmitsRemoveAddPairs(t *testing.T) {
	root := snapshot.New("Folder", "Root")
	root.Meta.SourcePath = "/p"
	root.Meta.AddRelevantPath("/p")
	root.Children = []*snapshot.Snapshot{
		moduleSnap("A", "a", "/p/A.lua"),
		moduleSnap("B", "b", "/p/B.lua"),
		moduleSnap("C", "c", "/p/C.lua"),
	}
	tr := tree.New(root)

	target := snapshotOf(t, tr, tr.RootRef())
	target.Children = []*snapshot.Snapshot{
		target.Children[2], target.Children[0], target.Children[1],
	}

	set, err := Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	// No move primitive: exactly one child relocates as remove+add.
	assert.Len(t, set.Removed, 1)
	assert.Len(t, set.Added, 1)

	_, err = Apply(tr, set)
	require.NoError(t, err)

	got := snapshotOf(t, tr, tr.RootRef())
	names := []string{}
	for _, child := range got.Children {
		names = append(names, child.Name)
	}
	assert.Equal(t, []string{"C", "A", "B"}, names)
}

func TestDiff_IgnoreUnknownChildren(t *testing.T) {
	tr := baseTree()

	target := snapshotOf(t, tr, tr.RootRef())
	target.Children = target.Children[:1] // drop B from the description
	target.Meta.IgnoreUnknownChildren = true

	set, err := Compute(tr, tr.RootRef(), target)
	require.NoError(t, err)
	assert.Empty(t, set.Removed, "unknown children must survive when the snapshot opts out")
}

func TestApply_AtomicRejection(t *testing.T) {
	tr := baseTree()
	before := snapshotOf(t, tr, tr.RootRef())
	refs := tr.GetByPath("/p/A.lua")
	require.Len(t, refs, 1)

	newName := "A2"
	set := Set{
		Updated: []Updated{
			{Ref: refs[0], ChangedName: &newName},
			{Ref: tree.Ref("bogus")}, // poisons the whole batch
		},
	}

	_, err := Apply(tr, set)
	require.ErrorIs(t, err, ErrBatchInvalid)

	after := snapshotOf(t, tr, tr.RootRef())
	assert.True(t, before.Equal(after), "a rejected batch must not mutate the tree")
}

func TestApply_RemoveRootRejected(t *testing.T) {
	tr := baseTree()
	_, err := Apply(tr, Set{Removed: []tree.Ref{tr.RootRef()}})
	require.ErrorIs(t, err, ErrBatchInvalid)
}

func TestApply_AddUnderRemovedParentRejected(t *testing.T) {
	tr := baseTree()
	refs := tr.GetByPath("/p/A.lua")
	require.Len(t, refs, 1)

	set := Set{
		Removed: []tree.Ref{refs[0]},
		Added: []Added{{
			Parent:   refs[0],
			Index:    -1,
			Snapshot: snapshot.New("Folder", "X"),
		}},
	}
	_, err := Apply(tr, set)
	require.ErrorIs(t, err, ErrBatchInvalid)
}

func TestApply_UpdateInsideRemovedSubtreeRejected(t *testing.T) {
	root := snapshot.New("Folder", "Root")
	dir := snapshot.New("Folder", "Dir")
	dir.Meta.SourcePath = "/p/Dir"
	dir.Meta.AddRelevantPath("/p/Dir")
	dir.Children = []*snapshot.Snapshot{moduleSnap("Leaf", "x", "/p/Dir/Leaf.lua")}
	root.Children = []*snapshot.Snapshot{dir}
	tr := tree.New(root)

	dirRefs := tr.GetByPath("/p/Dir")
	leafRefs := tr.GetByPath("/p/Dir/Leaf.lua")
	require.Len(t, dirRefs, 1)
	require.Len(t, leafRefs, 1)

	name := "Renamed"
	set := Set{
		Removed: []tree.Ref{dirRefs[0]},
		Updated: []Updated{{Ref: leafRefs[0], ChangedName: &name}},
	}
	_, err := Apply(tr, set)
	require.ErrorIs(t, err, ErrBatchInvalid)
	require.NoError(t, tr.CheckInvariants())
}

func TestApply_CascadeBroadcastsSingleRemoval(t *testing.T) {
	root := snapshot.New("Folder", "Root")
	dir := snapshot.New("Folder", "Dir")
	dir.Meta.SourcePath = "/p/Dir"
	dir.Meta.AddRelevantPath("/p/Dir")
	dir.Children = []*snapshot.Snapshot{moduleSnap("Leaf", "x", "/p/Dir/Leaf.lua")}
	root.Children = []*snapshot.Snapshot{dir}
	tr := tree.New(root)

	dirRefs := tr.GetByPath("/p/Dir")
	require.Len(t, dirRefs, 1)

	applied, err := Apply(tr, Set{Removed: []tree.Ref{dirRefs[0]}})
	require.NoError(t, err)
	assert.Equal(t, []tree.Ref{dirRefs[0]}, applied.Removed)
	assert.Equal(t, 1, tr.Len(), "only the root should remain")
}

func TestApply_AddedCarriesWholeSubtree(t *testing.T) {
	tr := baseTree()

	dir := snapshot.New("Folder", "Dir")
	dir.Meta.SourcePath = "/p/Dir"
	dir.Meta.AddRelevantPath("/p/Dir")
	dir.Children = []*snapshot.Snapshot{moduleSnap("Leaf", "x", "/p/Dir/Leaf.lua")}

	applied, err := Apply(tr, Set{Added: []Added{{Parent: tr.RootRef(), Index: -1, Snapshot: dir}}})
	require.NoError(t, err)
	assert.Len(t, applied.Added, 2, "added map should flatten the inserted subtree")
}
