package middleware

import (
	"fmt"
	"path"
	"sort"

	"github.com/grove-sync/grove/internal/project"
	"github.com/grove-sync/grove/internal/snapshot"
)

// snapshotProject composes a snapshot from a project file: each node
// of the project tree is either a pure class node or rooted at a path
// that is itself snapshotted through the middleware.
func snapshotProject(ctx *Context, projPath string) (*snapshot.Snapshot, error) {
	fallbackName := path.Base(path.Dir(projPath))

	proj, err := project.Load(ctx.Vfs, projPath)
	if err != nil {
		ctx.Logger.Error("project load failed", "path", projPath, "error", err)
		snap := snapshot.NewError(fallbackName, projPath, err)
		snap.Meta.Middleware = RuleProject
		return snap, nil
	}

	// The project's ignore globs apply to everything snapshotted
	// under it, stacked on whatever the caller already excludes.
	prevIgnore := ctx.Ignore
	ctx.Ignore = func(p string) bool {
		if prevIgnore != nil && prevIgnore(p) {
			return true
		}
		return proj.PathIsIgnored(p)
	}
	defer func() { ctx.Ignore = prevIgnore }()

	snap, err := snapshotProjectNode(ctx, proj, proj.Name, proj.Tree)
	if err != nil {
		ctx.Logger.Error("project snapshot failed", "path", projPath, "error", err)
		errSnap := snapshot.NewError(proj.Name, projPath, err)
		errSnap.Meta.Middleware = RuleProject
		return errSnap, nil
	}
	return snap, nil
}

func snapshotProjectNode(ctx *Context, proj *project.Project, name string, spec *project.NodeSpec) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot

	if spec.Path != "" {
		bound := spec.Path
		if !path.IsAbs(bound) {
			bound = path.Join(proj.Dir(), bound)
		}
		got, err := SnapshotFromVfs(ctx, bound)
		if err != nil {
			return nil, fmt.Errorf("snapshot bound path %s: %w", bound, err)
		}
		if got == nil {
			if spec.ClassName == "" {
				return nil, fmt.Errorf("bound path %s produced no instance and the node has no $className", bound)
			}
			snap = snapshot.New(spec.ClassName, name)
		} else {
			snap = got
			snap.Name = name
			if spec.ClassName != "" {
				snap.ClassName = spec.ClassName
			}
		}
		snap.Meta.AddRelevantPath(bound)
	} else {
		snap = snapshot.New(spec.ClassName, name)
	}

	// The bound snapshot arrives with file and sidecar properties
	// already merged; $properties overlay both.
	for key, value := range spec.Properties {
		snap.Properties[key] = value
	}
	if spec.IgnoreUnknownInstances != nil {
		snap.Meta.IgnoreUnknownChildren = *spec.IgnoreUnknownInstances
	}

	snap.Meta.Middleware = RuleProject
	snap.Meta.InstigatingPath = proj.FilePath
	snap.Meta.AddRelevantPath(proj.FilePath)
	if snap.Meta.SourcePath == "" {
		snap.Meta.SourcePath = proj.FilePath
	}

	// Project-described children are appended after path-derived ones,
	// in name order for determinism.
	names := make([]string, 0, len(spec.Children))
	for childName := range spec.Children {
		names = append(names, childName)
	}
	sort.Strings(names)
	for _, childName := range names {
		child, err := snapshotProjectNode(ctx, proj, childName, spec.Children[childName])
		if err != nil {
			return nil, fmt.Errorf("child %q: %w", childName, err)
		}
		snap.Children = append(snap.Children, child)
	}

	return snap, nil
}
