// Package api defines the wire schema shared with clients: the JSON
// shapes of the info, read, subscribe, write, and open endpoints.
package api

import (
	"github.com/grove-sync/grove/internal/snapshot"
)

// InfoResponse identifies the session. Clients compare SessionID on
// every response; a change means their mirror is stale and they must
// resync from cursor 0.
type InfoResponse struct {
	SessionID   string `json:"sessionId"`
	ProjectName string `json:"projectName"`
	RootRef     string `json:"rootRef"`
	Version     string `json:"version"`
}

// InstanceView is the client-facing shape of one live instance.
type InstanceView struct {
	Ref        string                    `json:"ref"`
	Parent     string                    `json:"parent,omitempty"`
	ClassName  string                    `json:"className"`
	Name       string                    `json:"name"`
	Properties map[string]snapshot.Value `json:"properties,omitempty"`
	Children   []string                  `json:"children,omitempty"`
	SourcePath string                    `json:"sourcePath,omitempty"`
	Error      string                    `json:"error,omitempty"`
}

// ReadResponse returns the requested instances. Unknown refs come
// back in Missing instead of failing the whole read.
type ReadResponse struct {
	SessionID string                  `json:"sessionId"`
	Instances map[string]InstanceView `json:"instances"`
	Missing   []string                `json:"missing,omitempty"`
}

// UpdatedView mirrors one Updated patch. A null entry in
// changedProperties unsets the property.
type UpdatedView struct {
	Ref               string                     `json:"ref"`
	ChangedName       *string                    `json:"changedName,omitempty"`
	ChangedClassName  *string                    `json:"changedClassName,omitempty"`
	ChangedProperties map[string]*snapshot.Value `json:"changedProperties,omitempty"`
}

// PatchMessage is one applied batch: everything a mirror needs to
// advance from its previous cursor to this one.
type PatchMessage struct {
	Cursor  uint64                  `json:"cursor"`
	Removed []string                `json:"removed,omitempty"`
	Added   map[string]InstanceView `json:"added,omitempty"`
	Updated []UpdatedView           `json:"updated,omitempty"`
}

// SubscribeResponse carries the batches after the requested cursor.
// Resynced means the cursor fell out of the server's window and the
// single message is a full-tree snapshot to rebuild from.
type SubscribeResponse struct {
	SessionID string         `json:"sessionId"`
	Cursor    uint64         `json:"cursor"`
	Resynced  bool           `json:"resynced,omitempty"`
	Messages  []PatchMessage `json:"messages"`
}

// AddedRequest inserts a snapshot under an existing parent. A nil
// index appends.
type AddedRequest struct {
	Parent   string             `json:"parent"`
	Index    *int               `json:"index,omitempty"`
	Snapshot *snapshot.Snapshot `json:"snapshot"`
}

// WriteRequest submits patches from a client. They go through the
// same apply path as filesystem changes and are broadcast to every
// subscriber.
type WriteRequest struct {
	SessionID string         `json:"sessionId"`
	Removed   []string       `json:"removed,omitempty"`
	Added     []AddedRequest `json:"added,omitempty"`
	Updated   []UpdatedView  `json:"updated,omitempty"`
}

// WriteResponse reports the cursor the write landed at.
type WriteResponse struct {
	SessionID string `json:"sessionId"`
	Cursor    uint64 `json:"cursor"`
}

// OpenResponse reports the contributing path the server opened.
type OpenResponse struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
}

// ErrorResponse is the uniform error body. Kind is one of badRequest,
// notFound, noPath, batchInvalid, sessionMismatch, sessionTerminated,
// or internal.
type ErrorResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}
