package vfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
)

// MemBackend is an in-memory backend over billy's memfs. Write,
// RemoveFile, and RemoveAll each emit one event for the path they were
// given (RemoveAll reports only the removed root, not its contents),
// which makes end-to-end tests deterministic.
type MemBackend struct {
	mu      sync.Mutex
	fs      billy.Filesystem
	events  chan Event
	watched map[string]bool
	closed  bool
}

// NewMemBackend returns an empty in-memory backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		fs:      memfs.New(),
		events:  make(chan Event, 256),
		watched: make(map[string]bool),
	}
}

// WriteFile seeds a file without emitting an event. Tests use it to
// lay out the initial project before the session starts.
func (b *MemBackend) WriteFile(p string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writeLocked(path.Clean(p), data)
}

// MkdirAll seeds a directory without emitting an event.
func (b *MemBackend) MkdirAll(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fs.MkdirAll(path.Clean(p), 0o755)
}

func (b *MemBackend) writeLocked(p string, data []byte) error {
	if dir := path.Dir(p); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return util.WriteFile(b.fs, p, data, 0o644)
}

func (b *MemBackend) Read(p string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := util.ReadFile(b.fs, p)
	if err != nil {
		return nil, mapNotFound(p, err)
	}
	return data, nil
}

// Write stores data and emits a create or write event depending on
// whether the path already existed.
func (b *MemBackend) Write(p string, data []byte) error {
	b.mu.Lock()
	p = path.Clean(p)
	_, statErr := b.fs.Stat(p)
	existed := statErr == nil
	if err := b.writeLocked(p, data); err != nil {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	if existed {
		b.emit(Event{Op: OpWrite, Path: p})
	} else {
		b.emit(Event{Op: OpCreate, Path: p})
	}
	return nil
}

func (b *MemBackend) ReadDir(p string) ([]DirEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	infos, err := b.fs.ReadDir(p)
	if err != nil {
		return nil, mapNotFound(p, err)
	}
	entries := make([]DirEntry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, DirEntry{Name: info.Name(), Kind: kindOf(info.Mode())})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *MemBackend) Metadata(p string) (Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	info, err := b.fs.Lstat(p)
	if err != nil {
		return Metadata{}, mapNotFound(p, err)
	}
	return Metadata{Kind: kindOf(info.Mode()), ModTime: info.ModTime()}, nil
}

func (b *MemBackend) RemoveFile(p string) error {
	b.mu.Lock()
	p = path.Clean(p)
	err := b.fs.Remove(p)
	b.mu.Unlock()
	if err != nil {
		return mapNotFound(p, err)
	}
	b.emit(Event{Op: OpRemove, Path: p})
	return nil
}

func (b *MemBackend) RemoveAll(p string) error {
	b.mu.Lock()
	p = path.Clean(p)
	err := util.RemoveAll(b.fs, p)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	b.emit(Event{Op: OpRemove, Path: p})
	return nil
}

func (b *MemBackend) Events() <-chan Event {
	return b.events
}

func (b *MemBackend) Watch(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watched[path.Clean(p)] = true
	return nil
}

func (b *MemBackend) Unwatch(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.watched, path.Clean(p))
	return nil
}

// Notify injects a synthetic event. Tests use it to simulate changes
// the backend did not perform itself.
func (b *MemBackend) Notify(ev Event) {
	ev.Path = path.Clean(ev.Path)
	b.emit(ev)
}

func (b *MemBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	return nil
}

func (b *MemBackend) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.events <- ev
}

func kindOf(mode os.FileMode) EntryKind {
	switch {
	case mode&os.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	default:
		return KindFile
	}
}

func mapNotFound(p string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return err
}
