// Package patch defines the atomic unit of change against the tree:
// computing a minimal patch set from a target snapshot, and applying a
// patch set all-or-nothing.
package patch

import (
	"errors"

	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
)

// ErrBatchInvalid is returned by Apply when any patch in the set
// violates tree invariants. The tree is left unchanged.
var ErrBatchInvalid = errors.New("patch batch is invalid")

// Added inserts a full snapshot under Parent at child index Index.
// Index is a position in the parent's final child order; -1 appends.
type Added struct {
	Parent   tree.Ref           `json:"parent"`
	Index    int                `json:"index"`
	Snapshot *snapshot.Snapshot `json:"snapshot"`
}

// Updated mutates a single instance. A nil entry in
// ChangedProperties is an explicit unset.
type Updated struct {
	Ref               tree.Ref                   `json:"ref"`
	ChangedName       *string                    `json:"changedName,omitempty"`
	ChangedClassName  *string                    `json:"changedClassName,omitempty"`
	ChangedProperties map[string]*snapshot.Value `json:"changedProperties,omitempty"`
	ChangedMeta       *snapshot.Meta             `json:"changedMeta,omitempty"`
}

// Set is an ordered group of patches applied as a unit: removals, then
// additions, then updates.
type Set struct {
	Removed []tree.Ref `json:"removed,omitempty"`
	Added   []Added    `json:"added,omitempty"`
	Updated []Updated  `json:"updated,omitempty"`
}

// IsEmpty reports whether the set changes nothing.
func (s *Set) IsEmpty() bool {
	return len(s.Removed) == 0 && len(s.Added) == 0 && len(s.Updated) == 0
}

// AppliedSet is the broadcastable result of applying a Set: added
// subtrees are flattened into ref-keyed instance copies so subscribers
// can mirror them without a second round-trip.
type AppliedSet struct {
	Removed []tree.Ref
	Added   map[tree.Ref]tree.Instance
	Updated []Updated
}

// IsEmpty reports whether the applied set changes nothing.
func (s *AppliedSet) IsEmpty() bool {
	return len(s.Removed) == 0 && len(s.Added) == 0 && len(s.Updated) == 0
}
