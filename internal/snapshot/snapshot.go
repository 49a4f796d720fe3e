// Package snapshot defines the immutable description of an instance
// subtree as it should appear, separated from the live tree's identity
// space. Snapshots are produced by the middleware from filesystem
// state and consumed by the diff.
package snapshot

import (
	"sort"
)

// Meta carries the provenance of a snapshot or live instance: which
// filesystem paths contribute to it, which middleware rule produced
// it, and flags that alter diffing behavior.
type Meta struct {
	// RelevantPaths is the set of paths whose existence contributes to
	// this instance. A change event on any of them implicates the
	// instance for recompute.
	RelevantPaths []string `json:"relevantPaths,omitempty"`

	// SourcePath is the primary contributing path, used for
	// open-in-editor. Empty for instances that exist only through a
	// project file binding with no backing path.
	SourcePath string `json:"sourcePath,omitempty"`

	// InstigatingPath is the path the middleware was invoked on to
	// produce this snapshot; recomputes start here. For a directory
	// with an init module this is the directory, while SourcePath is
	// the init file.
	InstigatingPath string `json:"instigatingPath,omitempty"`

	// Middleware names the rule that produced this snapshot.
	Middleware string `json:"middleware,omitempty"`

	// IgnoreUnknownChildren suppresses removal of live children that
	// the snapshot does not describe. Set by sidecars and project
	// nodes.
	IgnoreUnknownChildren bool `json:"ignoreUnknownChildren,omitempty"`

	// Error holds a recompute failure message. When set, the snapshot
	// is a placeholder keeping the tree shaped; the failure is
	// reported out-of-band.
	Error string `json:"error,omitempty"`
}

// AddRelevantPath appends a path to the contributing set, keeping the
// set sorted and duplicate-free.
func (m *Meta) AddRelevantPath(path string) {
	for _, p := range m.RelevantPaths {
		if p == path {
			return
		}
	}
	m.RelevantPaths = append(m.RelevantPaths, path)
	sort.Strings(m.RelevantPaths)
}

// Equal compares every field. RelevantPaths are compared in order;
// AddRelevantPath keeps them sorted.
func (m Meta) Equal(other Meta) bool {
	if m.SourcePath != other.SourcePath ||
		m.InstigatingPath != other.InstigatingPath ||
		m.Middleware != other.Middleware ||
		m.IgnoreUnknownChildren != other.IgnoreUnknownChildren ||
		m.Error != other.Error {
		return false
	}
	if len(m.RelevantPaths) != len(other.RelevantPaths) {
		return false
	}
	for i := range m.RelevantPaths {
		if m.RelevantPaths[i] != other.RelevantPaths[i] {
			return false
		}
	}
	return true
}

// Snapshot describes an instance and its descendants positionally,
// without identifiers. Identical filesystem inputs yield structurally
// equal snapshots.
type Snapshot struct {
	ClassName  string           `json:"className"`
	Name       string           `json:"name"`
	Properties map[string]Value `json:"properties,omitempty"`
	Children   []*Snapshot      `json:"children,omitempty"`
	Meta       Meta             `json:"meta,omitempty"`
}

// New returns a snapshot with an allocated property map.
func New(className, name string) *Snapshot {
	return &Snapshot{
		ClassName:  className,
		Name:       name,
		Properties: make(map[string]Value),
	}
}

// NewError returns a placeholder snapshot for a failed recompute. The
// class defaults to Folder so the tree keeps its shape; callers that
// know a better class overwrite it.
func NewError(name, path string, err error) *Snapshot {
	snap := New("Folder", name)
	snap.Meta.SourcePath = path
	snap.Meta.InstigatingPath = path
	snap.Meta.AddRelevantPath(path)
	snap.Meta.Error = err.Error()
	return snap
}

// Equal reports deep structural equality of two snapshots, including
// metadata. Child order is significant.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.ClassName != other.ClassName || s.Name != other.Name {
		return false
	}
	if !s.Meta.Equal(other.Meta) {
		return false
	}
	if len(s.Properties) != len(other.Properties) {
		return false
	}
	for k, a := range s.Properties {
		b, ok := other.Properties[k]
		if !ok || !a.Equal(b) {
			return false
		}
	}
	if len(s.Children) != len(other.Children) {
		return false
	}
	for i := range s.Children {
		if !s.Children[i].Equal(other.Children[i]) {
			return false
		}
	}
	return true
}

// SortChildren orders children lexicographically by name.
func (s *Snapshot) SortChildren() {
	sort.SliceStable(s.Children, func(i, j int) bool {
		return s.Children[i].Name < s.Children[j].Name
	})
}
