// Package vfs provides a uniform read-through view of a rooted
// filesystem subtree with a change-notification stream. The backend is
// pluggable: OsBackend watches the real filesystem, MemBackend drives
// deterministic tests.
package vfs

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a path does not exist in the backend.
var ErrNotFound = errors.New("path not found")

// EntryKind classifies a directory entry.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDir
	KindSymlink
)

// DirEntry is a single entry of a directory listing.
type DirEntry struct {
	Name string
	Kind EntryKind
}

// Metadata describes a path without reading its content.
type Metadata struct {
	Kind    EntryKind
	ModTime time.Time
}

// EventOp is the kind of filesystem change an Event reports.
type EventOp int

const (
	OpCreate EventOp = iota
	OpWrite
	OpRemove
)

func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	}
	return "unknown"
}

// Event is a path-level change notification. Events for nonexistent
// paths are permitted: a remove may reference a path never read.
type Event struct {
	Op   EventOp
	Path string
}

// Backend is the storage and notification provider behind a Vfs.
type Backend interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	ReadDir(path string) ([]DirEntry, error)
	Metadata(path string) (Metadata, error)
	RemoveFile(path string) error
	RemoveAll(path string) error

	// Events returns the backend's single event stream. The channel is
	// closed when the backend is closed.
	Events() <-chan Event
	Watch(path string) error
	Unwatch(path string) error
	Close() error
}

// Vfs is a read-through cache over a Backend. Reads observed strictly
// after an event for a path see the post-event content: CommitEvent
// invalidates the cache entry for the path and everything under it
// before the engine recomputes.
type Vfs struct {
	mu           sync.Mutex
	backend      Backend
	cache        map[string][]byte
	watchEnabled bool
}

// New creates a Vfs over the given backend with watching enabled.
func New(backend Backend) *Vfs {
	return &Vfs{
		backend:      backend,
		cache:        make(map[string][]byte),
		watchEnabled: true,
	}
}

// SetWatchEnabled toggles automatic watch registration on reads.
// One-shot consumers (build-style commands) turn it off.
func (v *Vfs) SetWatchEnabled(enabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.watchEnabled = enabled
}

// Read returns the content of the file at path, serving repeated reads
// from cache until an event invalidates the entry. The path is watched
// as a side effect.
func (v *Vfs) Read(p string) ([]byte, error) {
	p = path.Clean(p)

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[p]; ok {
		return cached, nil
	}
	data, err := v.backend.Read(p)
	if err != nil {
		return nil, err
	}
	v.cache[p] = data
	if v.watchEnabled {
		if err := v.backend.Watch(p); err != nil {
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	return data, nil
}

// ReadDir lists the entries of the directory at path, sorted
// lexicographically by name. The directory is watched as a side
// effect.
func (v *Vfs) ReadDir(p string) ([]DirEntry, error) {
	p = path.Clean(p)

	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := v.backend.ReadDir(p)
	if err != nil {
		return nil, err
	}
	if v.watchEnabled {
		if err := v.backend.Watch(p); err != nil {
			return nil, fmt.Errorf("watch %s: %w", p, err)
		}
	}
	return entries, nil
}

// Metadata queries the kind and modification time of a path.
func (v *Vfs) Metadata(p string) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.backend.Metadata(path.Clean(p))
}

// Write stores data at path through the backend and drops any stale
// cache entry for it.
func (v *Vfs) Write(p string, data []byte) error {
	p = path.Clean(p)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.backend.Write(p, data); err != nil {
		return err
	}
	delete(v.cache, p)
	return nil
}

// RemoveFile removes the file at path and stops watching it.
func (v *Vfs) RemoveFile(p string) error {
	p = path.Clean(p)

	v.mu.Lock()
	defer v.mu.Unlock()

	_ = v.backend.Unwatch(p)
	delete(v.cache, p)
	return v.backend.RemoveFile(p)
}

// RemoveAll removes the directory at path and all of its descendants.
func (v *Vfs) RemoveAll(p string) error {
	p = path.Clean(p)

	v.mu.Lock()
	defer v.mu.Unlock()

	_ = v.backend.Unwatch(p)
	v.invalidateLocked(p)
	return v.backend.RemoveAll(p)
}

// Events returns the backend's event stream. The engine drains it from
// a single goroutine.
func (v *Vfs) Events() <-chan Event {
	return v.backend.Events()
}

// CommitEvent acknowledges an event, invalidating cache entries for
// the event path and its descendants. Removed paths are unwatched.
// Must be called before recomputing state derived from the path.
func (v *Vfs) CommitEvent(ev Event) {
	p := path.Clean(ev.Path)

	v.mu.Lock()
	defer v.mu.Unlock()

	v.invalidateLocked(p)
	if ev.Op == OpRemove {
		_ = v.backend.Unwatch(p)
	}
}

// Close releases the backend and its watches.
func (v *Vfs) Close() error {
	return v.backend.Close()
}

func (v *Vfs) invalidateLocked(p string) {
	delete(v.cache, p)
	prefix := p + "/"
	for cached := range v.cache {
		if strings.HasPrefix(cached, prefix) {
			delete(v.cache, cached)
		}
	}
}
