package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/vfs"
)

func loadFromString(t *testing.T, content string) (*Project, error) {
	t.Helper()
	backend := vfs.NewMemBackend()
	t.Cleanup(func() { _ = backend.Close() })
	require.NoError(t, backend.WriteFile("/proj/default.project.json", []byte(content)))
	return Load(vfs.New(backend), "/proj/default.project.json")
}

func TestLoad_Minimal(t *testing.T) {
	proj, err := loadFromString(t, `{
		"name": "Root",
		"tree": {"$path": "src"}
	}`)
	require.NoError(t, err)

	assert.Equal(t, "Root", proj.Name)
	assert.Equal(t, "src", proj.Tree.Path)
	assert.Equal(t, "/proj", proj.Dir())
}

func TestLoad_NestedChildrenAndDirectives(t *testing.T) {
	proj, err := loadFromString(t, `{
		"name": "Game",
		"tree": {
			"$className": "DataModel",
			"ReplicatedStorage": {
				"$className": "ReplicatedStorage",
				"Shared": {"$path": "src/shared", "$ignoreUnknownInstances": true}
			},
			"Workspace": {
				"$className": "Workspace",
				"$properties": {"Gravity": 196.2}
			}
		}
	}`)
	require.NoError(t, err)

	rs := proj.Tree.Children["ReplicatedStorage"]
	require.NotNil(t, rs)
	shared := rs.Children["Shared"]
	require.NotNil(t, shared)
	assert.Equal(t, "src/shared", shared.Path)
	require.NotNil(t, shared.IgnoreUnknownInstances)
	assert.True(t, *shared.IgnoreUnknownInstances)

	ws := proj.Tree.Children["Workspace"]
	require.NotNil(t, ws)
	assert.True(t, ws.Properties["Gravity"].Equal(snapshot.Number(196.2)))
}

func TestLoad_RejectsUnknownTopLevelField(t *testing.T) {
	_, err := loadFromString(t, `{
		"name": "Root",
		"tree": {"$path": "src"},
		"globbIgnorePaths": ["typo"]
	}`)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownDirective(t *testing.T) {
	_, err := loadFromString(t, `{
		"name": "Root",
		"tree": {"$path": "src", "$clasName": "Folder"}
	}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$clasName")
}

func TestLoad_RejectsNodeWithoutClassOrPath(t *testing.T) {
	_, err := loadFromString(t, `{
		"name": "Root",
		"tree": {"Child": {}}
	}`)
	require.Error(t, err)
}

func TestLoad_MissingNameOrTree(t *testing.T) {
	_, err := loadFromString(t, `{"tree": {"$path": "src"}}`)
	require.Error(t, err)

	_, err = loadFromString(t, `{"name": "Root"}`)
	require.Error(t, err)
}

func TestIsProjectFile(t *testing.T) {
	assert.True(t, IsProjectFile("/a/default.project.json"))
	assert.True(t, IsProjectFile("/a/game.project.json"))
	assert.False(t, IsProjectFile("/a/project.json"))
	assert.False(t, IsProjectFile("/a/default.project"))
}

func TestPathIsIgnored(t *testing.T) {
	proj, err := loadFromString(t, `{
		"name": "Root",
		"tree": {"$path": "src"},
		"globIgnorePaths": ["**/*.spec.lua", "build/**"]
	}`)
	require.NoError(t, err)

	assert.True(t, proj.PathIsIgnored("/proj/src/Greeter.spec.lua"))
	assert.True(t, proj.PathIsIgnored("/proj/build/out.lua"))
	assert.False(t, proj.PathIsIgnored("/proj/src/Greeter.lua"))
}
