package processor

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grove-sync/grove/internal/middleware"
	"github.com/grove-sync/grove/internal/patch"
	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
	"github.com/grove-sync/grove/internal/vfs"
)

func newProcessorFixture(t *testing.T, files map[string]string) (*Processor, *tree.Tree, *vfs.Vfs) {
	t.Helper()
	backend := vfs.NewMemBackend()
	t.Cleanup(func() { _ = backend.Close() })
	for p, content := range files {
		require.NoError(t, backend.WriteFile(p, []byte(content)))
	}
	v := vfs.New(backend)

	mctx := middleware.NewContext(v, hclog.NewNullLogger())
	rootSnap, err := middleware.SnapshotFromVfs(mctx, "/proj/default.project.json")
	require.NoError(t, err)
	require.NotNil(t, rootSnap)
	tr := tree.New(rootSnap)

	publish := func(set patch.Set) error {
		_, err := patch.Apply(tr, set)
		return err
	}
	proc := New(v, tr, mctx, publish, hclog.NewNullLogger(), 0, 3)
	return proc, tr, v
}

var fixtureFiles = map[string]string{
	"/proj/default.project.json": `{"name": "Root", "tree": {"$path": "src"}}`,
	"/proj/src/Greeter.lua":      "print(1)",
	"/proj/src/Module/init.lua":  "return {}",
	"/proj/src/Module/Sub.lua":   "return 1",
}

func TestUniquePaths(t *testing.T) {
	paths := uniquePaths([]vfs.Event{
		{Op: vfs.OpWrite, Path: "/a"},
		{Op: vfs.OpWrite, Path: "/b"},
		{Op: vfs.OpWrite, Path: "/a"},
		{Op: vfs.OpRemove, Path: "/a"},
	})
	assert.Equal(t, []string{"/a", "/b"}, paths)
}

func TestResolveAffected_DirectHit(t *testing.T) {
	proc, tr, _ := newProcessorFixture(t, fixtureFiles)

	refs := proc.resolveAffected([]string{"/proj/src/Greeter.lua"})
	require.Len(t, refs, 1)
	inst, ok := tr.GetCopy(refs[0])
	require.True(t, ok)
	assert.Equal(t, "Greeter", inst.Name)
}

func TestResolveAffected_NewSiblingImplicatesAncestor(t *testing.T) {
	proc, tr, _ := newProcessorFixture(t, fixtureFiles)

	// A path the index has never seen walks up to the nearest indexed
	// ancestor: src is bound to the root via the project.
	refs := proc.resolveAffected([]string{"/proj/src/Fresh.lua"})
	require.Len(t, refs, 1)
	assert.Equal(t, tr.RootRef(), refs[0], "project-bound ancestor resolves to the tree root")
}

func TestResolveAffected_DropsCoveredDescendants(t *testing.T) {
	proc, tr, _ := newProcessorFixture(t, fixtureFiles)

	refs := proc.resolveAffected([]string{
		"/proj/src/Module/Sub.lua",
		"/proj/src/Module",
	})
	require.Len(t, refs, 1, "the module covers its descendant")
	inst, ok := tr.GetCopy(refs[0])
	require.True(t, ok)
	assert.Equal(t, "Module", inst.Name)
}

func TestDrain_WriteProducesUpdate(t *testing.T) {
	proc, tr, v := newProcessorFixture(t, fixtureFiles)

	refs := tr.GetByPath("/proj/src/Greeter.lua")
	require.Len(t, refs, 1)

	require.NoError(t, v.Write("/proj/src/Greeter.lua", []byte("print(2)")))
	v.CommitEvent(vfs.Event{Op: vfs.OpWrite, Path: "/proj/src/Greeter.lua"})
	proc.drain([]string{"/proj/src/Greeter.lua"})

	inst, ok := tr.GetCopy(refs[0])
	require.True(t, ok)
	assert.True(t, inst.Properties["Source"].Equal(snapshot.String("print(2)")))
}

func TestDrain_RemovedPathRemovesInstance(t *testing.T) {
	proc, tr, v := newProcessorFixture(t, fixtureFiles)

	moduleRefs := tr.GetByPath("/proj/src/Module")
	require.Len(t, moduleRefs, 1)

	require.NoError(t, v.RemoveAll("/proj/src/Module"))
	v.CommitEvent(vfs.Event{Op: vfs.OpRemove, Path: "/proj/src/Module"})
	proc.drain([]string{"/proj/src/Module"})

	_, ok := tr.GetCopy(moduleRefs[0])
	assert.False(t, ok)
	require.NoError(t, tr.CheckInvariants())
}

func TestDrain_InitRemovalRevertsToFolder(t *testing.T) {
	proc, tr, v := newProcessorFixture(t, fixtureFiles)

	moduleRefs := tr.GetByPath("/proj/src/Module")
	require.Len(t, moduleRefs, 1)

	require.NoError(t, v.RemoveFile("/proj/src/Module/init.lua"))
	v.CommitEvent(vfs.Event{Op: vfs.OpRemove, Path: "/proj/src/Module/init.lua"})
	proc.drain([]string{"/proj/src/Module/init.lua"})

	inst, ok := tr.GetCopy(moduleRefs[0])
	require.True(t, ok, "losing init demotes the instance, it does not remove it")
	assert.Equal(t, "Folder", inst.ClassName)
	_, hasSource := inst.Properties["Source"]
	assert.False(t, hasSource)
}
