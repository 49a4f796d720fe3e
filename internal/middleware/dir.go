package middleware

import (
	"fmt"
	"path"

	"github.com/grove-sync/grove/internal/project"
	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/vfs"
)

// initNames are the directory init variants in priority order. The
// first one present decides the directory's class.
var initNames = []struct {
	name  string
	class string
}{
	{"init.server.lua", "Script"},
	{"init.server.luau", "Script"},
	{"init.client.lua", "LocalScript"},
	{"init.client.luau", "LocalScript"},
	{"init.lua", "ModuleScript"},
	{"init.luau", "ModuleScript"},
}

const dirMetaName = "init.meta.json"

// snapshotDir turns a directory into an instance. A directory with a
// default project file is a nested project; one with an init module
// becomes a script-class instance whose children are the init file's
// siblings; anything else is a Folder.
func snapshotDir(ctx *Context, dir string) (*snapshot.Snapshot, error) {
	if ctx.visiting[dir] {
		return nil, fmt.Errorf("directory cycle through %s", dir)
	}
	ctx.visiting[dir] = true
	defer delete(ctx.visiting, dir)

	entries, err := ctx.Vfs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.Name == project.DefaultFileName {
			return snapshotProject(ctx, path.Join(dir, entry.Name))
		}
	}

	snap := snapshot.New("Folder", path.Base(dir))
	snap.Meta.Middleware = RuleDir
	snap.Meta.SourcePath = dir
	snap.Meta.InstigatingPath = dir
	snap.Meta.AddRelevantPath(dir)

	initFile := ""
	for _, init := range initNames {
		if hasEntry(entries, init.name) {
			initFile = init.name
			snap.ClassName = init.class
			break
		}
	}
	if initFile != "" {
		initPath := path.Join(dir, initFile)
		source, err := ctx.Vfs.Read(initPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", initPath, err)
		}
		snap.Properties["Source"] = snapshot.String(string(source))
		snap.Meta.SourcePath = initPath
		snap.Meta.AddRelevantPath(initPath)
	}

	for _, entry := range entries {
		if entry.Name == initFile {
			continue
		}
		childPath := path.Join(dir, entry.Name)
		child, err := SnapshotFromVfs(ctx, childPath)
		if err != nil {
			ctx.Logger.Error("snapshot failed, keeping placeholder",
				"path", childPath, "error", err)
			child = snapshot.NewError(baseName(entry.Name), childPath, err)
		}
		if child == nil {
			continue
		}
		snap.Children = append(snap.Children, child)
	}

	// The directory's own sidecar lives inside it as init.meta.json.
	// Sibling X.meta.json sidecars are applied by the file rules so a
	// single-file recompute sees them too.
	if hasEntry(entries, dirMetaName) {
		applySidecar(ctx, path.Join(dir, dirMetaName), snap)
	}

	return snap, nil
}

func hasEntry(entries []vfs.DirEntry, name string) bool {
	for _, entry := range entries {
		if entry.Name == name {
			return true
		}
	}
	return false
}
