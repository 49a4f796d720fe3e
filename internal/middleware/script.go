package middleware

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/vfs"
)

// scriptClass maps a module filename to its script class.
func scriptClass(name string) string {
	switch {
	case strings.HasSuffix(name, ".server.lua"), strings.HasSuffix(name, ".server.luau"):
		return "Script"
	case strings.HasSuffix(name, ".client.lua"), strings.HasSuffix(name, ".client.luau"):
		return "LocalScript"
	default:
		return "ModuleScript"
	}
}

// snapshotLua turns a code module file into a script instance whose
// Source property is the file contents.
func snapshotLua(ctx *Context, p string) (*snapshot.Snapshot, error) {
	source, err := ctx.Vfs.Read(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	name := path.Base(p)
	snap := snapshot.New(scriptClass(name), baseName(name))
	snap.Properties["Source"] = snapshot.String(string(source))
	snap.Meta.Middleware = RuleLua
	snap.Meta.SourcePath = p
	snap.Meta.InstigatingPath = p
	snap.Meta.AddRelevantPath(p)

	maybeApplySidecar(ctx, p, snap)
	return snap, nil
}

// maybeApplySidecar augments the snapshot for a file at p with its
// adjacent X.meta.json sidecar, when one exists.
func maybeApplySidecar(ctx *Context, p string, snap *snapshot.Snapshot) {
	metaPath := path.Join(path.Dir(p), baseName(path.Base(p))+".meta.json")
	if metaPath == p {
		return
	}
	if _, err := ctx.Vfs.Metadata(metaPath); err != nil {
		if !errors.Is(err, vfs.ErrNotFound) {
			ctx.Logger.Error("stat sidecar", "path", metaPath, "error", err)
		}
		return
	}
	applySidecar(ctx, metaPath, snap)
}
