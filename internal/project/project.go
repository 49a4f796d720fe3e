// Package project models the declarative project file: the root
// instance description and its path-to-tree bindings. The file is read
// once per session and is a contributing path of the root instance.
package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/vfs"
)

// Suffix identifies project files by name.
const Suffix = ".project.json"

// DefaultFileName is the project file looked up when a directory is
// given instead of a file.
const DefaultFileName = "default" + Suffix

// Project is a parsed project file.
type Project struct {
	Name            string    `json:"name"`
	Tree            *NodeSpec `json:"tree"`
	GlobIgnorePaths []string  `json:"globIgnorePaths,omitempty"`
	ServePort       *int      `json:"servePort,omitempty"`
	ServeAddress    *string   `json:"serveAddress,omitempty"`

	// FilePath is where the project was loaded from; it anchors
	// relative path bindings and ignore globs.
	FilePath string `json:"-"`
}

// NodeSpec is one node of the project tree. Keys starting with "$"
// are directives; every other key names a child node.
type NodeSpec struct {
	ClassName              string
	Path                   string
	Properties             map[string]snapshot.Value
	IgnoreUnknownInstances *bool
	Children               map[string]*NodeSpec
}

// UnmarshalJSON rejects unknown "$" directives so a typo cannot
// silently misconfigure a tree.
func (n *NodeSpec) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.Children = make(map[string]*NodeSpec)
	for key, value := range raw {
		switch key {
		case "$className":
			if err := json.Unmarshal(value, &n.ClassName); err != nil {
				return fmt.Errorf("$className: %w", err)
			}
		case "$path":
			if err := json.Unmarshal(value, &n.Path); err != nil {
				return fmt.Errorf("$path: %w", err)
			}
		case "$properties":
			if err := json.Unmarshal(value, &n.Properties); err != nil {
				return fmt.Errorf("$properties: %w", err)
			}
		case "$ignoreUnknownInstances":
			if err := json.Unmarshal(value, &n.IgnoreUnknownInstances); err != nil {
				return fmt.Errorf("$ignoreUnknownInstances: %w", err)
			}
		default:
			if strings.HasPrefix(key, "$") {
				return fmt.Errorf("unknown project directive %q", key)
			}
			var child NodeSpec
			if err := json.Unmarshal(value, &child); err != nil {
				return fmt.Errorf("child %q: %w", key, err)
			}
			n.Children[key] = &child
		}
	}
	if n.ClassName == "" && n.Path == "" {
		return fmt.Errorf("a project node needs $className or $path")
	}
	return nil
}

// IsProjectFile reports whether the path names a project file.
func IsProjectFile(p string) bool {
	return strings.HasSuffix(path.Base(p), Suffix)
}

// Load reads and parses the project file at filePath through the VFS.
// Unknown top-level fields are rejected.
func Load(v *vfs.Vfs, filePath string) (*Project, error) {
	data, err := v.Read(filePath)
	if err != nil {
		return nil, fmt.Errorf("read project file: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var proj Project
	if err := dec.Decode(&proj); err != nil {
		return nil, fmt.Errorf("parse project file %s: %w", filePath, err)
	}
	if proj.Name == "" {
		return nil, fmt.Errorf("project file %s has no name", filePath)
	}
	if proj.Tree == nil {
		return nil, fmt.Errorf("project file %s has no tree", filePath)
	}
	proj.FilePath = filePath
	return &proj, nil
}

// Dir returns the directory the project file lives in.
func (p *Project) Dir() string {
	return path.Dir(p.FilePath)
}

// PathIsIgnored matches a path against the project's ignore globs,
// relative to the project directory.
func (p *Project) PathIsIgnored(target string) bool {
	if len(p.GlobIgnorePaths) == 0 {
		return false
	}
	rel := strings.TrimPrefix(target, p.Dir())
	rel = strings.TrimPrefix(rel, "/")
	for _, pattern := range p.GlobIgnorePaths {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
