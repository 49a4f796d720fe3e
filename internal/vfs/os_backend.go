package vfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/go-hclog"
)

// OsBackend serves the real filesystem through billy's osfs and turns
// OS notifications into the engine's event stream. fsnotify watches
// are per-directory; watching a file registers its parent directory.
type OsBackend struct {
	fs      billy.Filesystem
	watcher *fsnotify.Watcher
	logger  hclog.Logger

	mu      sync.Mutex
	watched map[string]int // directory -> registration count
	closed  bool

	events chan Event
	done   chan struct{}
}

// NewOsBackend opens a backend rooted at the OS filesystem root.
// Paths handed to it are absolute.
func NewOsBackend(logger hclog.Logger) (*OsBackend, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start fs watcher: %w", err)
	}
	b := &OsBackend{
		fs:      osfs.New("/"),
		watcher: watcher,
		logger:  logger.Named("vfs"),
		watched: make(map[string]int),
		events:  make(chan Event, 1024),
		done:    make(chan struct{}),
	}
	go b.run()
	return b, nil
}

// run translates fsnotify events until the watcher closes.
func (b *OsBackend) run() {
	defer close(b.events)
	for {
		select {
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if out, relevant := translate(ev); relevant {
				b.events <- out
			}
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Error("filesystem watcher error", "error", err)
		case <-b.done:
			return
		}
	}
}

func translate(ev fsnotify.Event) (Event, bool) {
	p := filepath.Clean(ev.Name)
	switch {
	case ev.Has(fsnotify.Create):
		return Event{Op: OpCreate, Path: p}, true
	case ev.Has(fsnotify.Write):
		return Event{Op: OpWrite, Path: p}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename looks like a remove of the old path; the create of
		// the new path arrives as its own event.
		return Event{Op: OpRemove, Path: p}, true
	default:
		return Event{}, false
	}
}

func (b *OsBackend) Read(p string) ([]byte, error) {
	data, err := util.ReadFile(b.fs, p)
	if err != nil {
		return nil, mapNotFound(p, err)
	}
	return data, nil
}

func (b *OsBackend) Write(p string, data []byte) error {
	if dir := filepath.Dir(p); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return util.WriteFile(b.fs, p, data, 0o644)
}

func (b *OsBackend) ReadDir(p string) ([]DirEntry, error) {
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

func (b *OsBackend) Metadata(p string) (Metadata, error) {
	info, err := b.fs.Lstat(p)
	if err != nil {
		return Metadata{}, mapNotFound(p, err)
	}
	return Metadata{Kind: kindOf(info.Mode()), ModTime: info.ModTime()}, nil
}

func (b *OsBackend) RemoveFile(p string) error {
	if err := b.fs.Remove(p); err != nil {
		return mapNotFound(p, err)
	}
	return nil
}

func (b *OsBackend) RemoveAll(p string) error {
	return util.RemoveAll(b.fs, p)
}

func (b *OsBackend) Events() <-chan Event {
	return b.events
}

// Watch registers interest in a path subtree. fsnotify only delivers
// events for directories it watches directly, so files register their
// containing directory.
func (b *OsBackend) Watch(p string) error {
	dir := p
	if info, err := os.Lstat(p); err == nil && !info.IsDir() {
		dir = filepath.Dir(p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if b.watched[dir] == 0 {
		if err := b.watcher.Add(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%s: %w", dir, ErrNotFound)
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	b.watched[dir]++
	return nil
}

func (b *OsBackend) Unwatch(p string) error {
	dir := p
	if info, err := os.Lstat(p); err == nil && !info.IsDir() {
		dir = filepath.Dir(p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if count, ok := b.watched[dir]; ok {
		if count <= 1 {
			delete(b.watched, dir)
			// The directory may already be gone; removal errors from a
			// dead watch carry no information.
			_ = b.watcher.Remove(dir)
		} else {
			b.watched[dir] = count - 1
		}
	}
	return nil
}

func (b *OsBackend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	return b.watcher.Close()
}
