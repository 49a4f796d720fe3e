package middleware

import (
	"fmt"
	"path"

	"github.com/ohler55/ojg/oj"

	"github.com/grove-sync/grove/internal/snapshot"
)

// snapshotModel decodes a structured model file into an instance
// subtree. The document is a nested object: className, properties,
// children (each child carries its own name). A malformed document
// produces an error snapshot so the tree keeps its shape.
func snapshotModel(ctx *Context, p string) (*snapshot.Snapshot, error) {
	data, err := ctx.Vfs.Read(p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}

	name := baseName(path.Base(p))

	raw, err := oj.Parse(data)
	if err != nil {
		ctx.Logger.Error("malformed model file", "path", p, "error", err)
		return modelError(name, p, err), nil
	}
	root, ok := raw.(map[string]any)
	if !ok {
		err := fmt.Errorf("model document must be an object, got %T", raw)
		ctx.Logger.Error("malformed model file", "path", p, "error", err)
		return modelError(name, p, err), nil
	}

	snap, err := decodeModelNode(root, name)
	if err != nil {
		ctx.Logger.Error("malformed model file", "path", p, "error", err)
		return modelError(name, p, err), nil
	}
	snap.Meta.Middleware = RuleModel
	snap.Meta.SourcePath = p
	snap.Meta.InstigatingPath = p
	snap.Meta.AddRelevantPath(p)

	maybeApplySidecar(ctx, p, snap)
	return snap, nil
}

func modelError(name, p string, err error) *snapshot.Snapshot {
	snap := snapshot.NewError(name, p, err)
	snap.Meta.Middleware = RuleModel
	return snap
}

func decodeModelNode(node map[string]any, name string) (*snapshot.Snapshot, error) {
	className := "Folder"
	if rawClass, ok := node["className"]; ok {
		s, ok := rawClass.(string)
		if !ok {
			return nil, fmt.Errorf("className must be a string, got %T", rawClass)
		}
		className = s
	}
	if rawName, ok := node["name"]; ok {
		s, ok := rawName.(string)
		if !ok {
			return nil, fmt.Errorf("name must be a string, got %T", rawName)
		}
		name = s
	}

	snap := snapshot.New(className, name)

	if rawProps, ok := node["properties"]; ok {
		props, ok := rawProps.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("properties must be an object, got %T", rawProps)
		}
		for key, rawValue := range props {
			value, err := snapshot.FromAny(rawValue)
			if err != nil {
				return nil, fmt.Errorf("property %q: %w", key, err)
			}
			snap.Properties[key] = value
		}
	}

	if rawChildren, ok := node["children"]; ok {
		children, ok := rawChildren.([]any)
		if !ok {
			return nil, fmt.Errorf("children must be an array, got %T", rawChildren)
		}
		for i, rawChild := range children {
			childNode, ok := rawChild.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("child %d must be an object, got %T", i, rawChild)
			}
			child, err := decodeModelNode(childNode, fmt.Sprintf("Child%d", i))
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			snap.Children = append(snap.Children, child)
		}
	}

	for key := range node {
		switch key {
		case "className", "name", "properties", "children":
		default:
			return nil, fmt.Errorf("unknown model field %q", key)
		}
	}

	return snap, nil
}
