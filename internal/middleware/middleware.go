// Package middleware turns filesystem locations into snapshots. The
// registry is a fixed, ordered set of rules; a path is snapshotted by
// the first rule whose predicate matches. Registration order is the
// only extension point, which keeps snapshotting deterministic.
package middleware

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/vfs"
)

// Rule kinds, one per snapshot strategy.
const (
	RuleProject = "project"
	RuleMeta    = "meta"
	RuleModel   = "model"
	RuleLua     = "lua"
	RuleJSON    = "json"
	RuleTxt     = "txt"
	RuleDir     = "dir"
)

// rule pairs a kind with its filename predicate. Directory entries
// never reach the registry; they always take the dir rule.
type rule struct {
	kind  string
	match func(name string) bool
}

// registry is tried in order. Longer suffixes come before the plain
// extensions they embed, so "x.model.json" is a model, not data.
var registry = []rule{
	{RuleProject, func(name string) bool { return strings.HasSuffix(name, ".project.json") }},
	{RuleMeta, func(name string) bool { return strings.HasSuffix(name, ".meta.json") }},
	{RuleModel, func(name string) bool { return strings.HasSuffix(name, ".model.json") }},
	{RuleLua, func(name string) bool { return strings.HasSuffix(name, ".lua") || strings.HasSuffix(name, ".luau") }},
	{RuleJSON, func(name string) bool { return strings.HasSuffix(name, ".json") }},
	{RuleTxt, func(name string) bool { return strings.HasSuffix(name, ".txt") }},
}

// Context carries the per-session state a snapshot pass needs.
type Context struct {
	Vfs    *vfs.Vfs
	Logger hclog.Logger

	// Ignore reports whether a path is excluded by the project's
	// ignore globs. Nil means nothing is ignored.
	Ignore func(p string) bool

	// visiting tracks directories on the current recursion stack so a
	// symlink cycle is refused instead of recursed.
	visiting map[string]bool
}

// NewContext returns a snapshot context over the given VFS.
func NewContext(v *vfs.Vfs, logger hclog.Logger) *Context {
	return &Context{
		Vfs:      v,
		Logger:   logger.Named("middleware"),
		visiting: make(map[string]bool),
	}
}

func (ctx *Context) ignored(p string) bool {
	return ctx.Ignore != nil && ctx.Ignore(p)
}

// SnapshotFromVfs produces the snapshot for the given path, or nil if
// the path produces no instance (meta sidecars, unrecognized files,
// ignored or missing paths). Recoverable failures come back as error
// snapshots; only genuine IO failures return an error.
func SnapshotFromVfs(ctx *Context, p string) (*snapshot.Snapshot, error) {
	p = path.Clean(p)
	if ctx.ignored(p) {
		return nil, nil
	}

	meta, err := ctx.Vfs.Metadata(p)
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("metadata %s: %w", p, err)
	}

	switch meta.Kind {
	case vfs.KindDir:
		return snapshotDir(ctx, p)
	case vfs.KindSymlink:
		// Symlinks are refused rather than resolved; following them
		// can revisit an inode already on the stack.
		ctx.Logger.Warn("skipping symlink", "path", p)
		return nil, nil
	default:
		return snapshotFile(ctx, p)
	}
}

func snapshotFile(ctx *Context, p string) (*snapshot.Snapshot, error) {
	name := path.Base(p)
	for _, r := range registry {
		if !r.match(name) {
			continue
		}
		switch r.kind {
		case RuleProject:
			return snapshotProject(ctx, p)
		case RuleMeta:
			// Sidecars augment a sibling; they are not snapshots.
			return nil, nil
		case RuleModel:
			return snapshotModel(ctx, p)
		case RuleLua:
			return snapshotLua(ctx, p)
		case RuleJSON:
			return snapshotJSON(ctx, p)
		case RuleTxt:
			return snapshotTxt(ctx, p)
		}
	}
	return nil, nil
}

// baseName strips the rule suffix from a filename to produce the
// instance name: "Greeter.server.lua" -> "Greeter".
func baseName(name string) string {
	for _, suffix := range []string{
		".project.json", ".meta.json", ".model.json",
		".server.lua", ".client.lua", ".server.luau", ".client.luau",
		".lua", ".luau", ".json", ".txt",
	} {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix)
		}
	}
	return name
}
