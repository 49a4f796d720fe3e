package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/grove-sync/grove/internal/snapshot"
)

// metaFile is the sidecar document schema. Unknown fields are
// rejected; a sidecar that cannot be parsed marks its target as an
// error snapshot instead of failing the session.
type metaFile struct {
	ClassName              *string                   `json:"className,omitempty"`
	Properties             map[string]snapshot.Value `json:"properties,omitempty"`
	IgnoreUnknownInstances *bool                     `json:"ignoreUnknownInstances,omitempty"`
}

// applySidecar augments target with the sidecar at metaPath. Sidecar
// assignments win over direct ones. The sidecar path joins the
// target's contributing paths either way, so fixing a broken sidecar
// triggers a recompute.
func applySidecar(ctx *Context, metaPath string, target *snapshot.Snapshot) {
	target.Meta.AddRelevantPath(metaPath)

	data, err := ctx.Vfs.Read(metaPath)
	if err != nil {
		ctx.Logger.Error("read sidecar", "path", metaPath, "error", err)
		target.Meta.Error = fmt.Sprintf("read sidecar %s: %v", metaPath, err)
		return
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var meta metaFile
	if err := dec.Decode(&meta); err != nil {
		ctx.Logger.Error("malformed sidecar", "path", metaPath, "error", err)
		target.Meta.Error = fmt.Sprintf("malformed sidecar %s: %v", metaPath, err)
		return
	}

	if meta.ClassName != nil {
		target.ClassName = *meta.ClassName
	}
	for key, value := range meta.Properties {
		target.Properties[key] = value
	}
	if meta.IgnoreUnknownInstances != nil {
		target.Meta.IgnoreUnknownChildren = *meta.IgnoreUnknownInstances
	}
}
