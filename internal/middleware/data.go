package middleware

import (
	"fmt"
	"path"

	"github.com/ohler55/ojg/oj"

	"github.com/grove-sync/grove/internal/snapshot"
)

// snapshotJSON turns a plain data file into an instance whose Value
// property is the decoded content.
func snapshotJSON(ctx *Context, p string) (*snapshot.Snapshot, error) {
	data, err := ctx.Vfs.Read(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	name := baseName(path.Base(p))
	snap := snapshot.New("ModuleScript", name)
	snap.Meta.Middleware = RuleJSON
	snap.Meta.SourcePath = p
	snap.Meta.InstigatingPath = p
	snap.Meta.AddRelevantPath(p)

	raw, err := oj.Parse(data)
	if err != nil {
		ctx.Logger.Error("malformed data file", "path", p, "error", err)
		snap.Meta.Error = fmt.Sprintf("malformed data file %s: %v", p, err)
		return snap, nil
	}
	value, err := snapshot.FromAny(raw)
	if err != nil {
		ctx.Logger.Error("unrepresentable data file", "path", p, "error", err)
		snap.Meta.Error = fmt.Sprintf("unrepresentable data file %s: %v", p, err)
		return snap, nil
	}
	snap.Properties["Value"] = value

	maybeApplySidecar(ctx, p, snap)
	return snap, nil
}

// snapshotTxt turns a text file into a StringValue.
func snapshotTxt(ctx *Context, p string) (*snapshot.Snapshot, error) {
	data, err := ctx.Vfs.Read(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	snap := snapshot.New("StringValue", baseName(path.Base(p)))
	snap.Properties["Value"] = snapshot.String(string(data))
	snap.Meta.Middleware = RuleTxt
	snap.Meta.SourcePath = p
	snap.Meta.InstigatingPath = p
	snap.Meta.AddRelevantPath(p)

	maybeApplySidecar(ctx, p, snap)
	return snap, nil
}
