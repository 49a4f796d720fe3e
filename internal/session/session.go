// Package session composes the VFS, middleware, tree, processor, and
// queue into a serve session: the lifecycle owner behind the public
// API.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/grove-sync/grove/internal/middleware"
	"github.com/grove-sync/grove/internal/patch"
	"github.com/grove-sync/grove/internal/processor"
	"github.com/grove-sync/grove/internal/project"
	"github.com/grove-sync/grove/internal/queue"
	"github.com/grove-sync/grove/internal/tree"
	"github.com/grove-sync/grove/internal/vfs"
)

// Options tune a serve session. Zero values take the defaults.
type Options struct {
	// Debounce is the event coalescing window.
	Debounce time.Duration

	// RetryAttempts bounds recompute retries on transient IO errors.
	RetryAttempts int

	// QueueWindow is how many patch batches the queue retains for
	// late subscribers before they must resync.
	QueueWindow int

	// Version is reported by Info; the CLI passes the build version.
	Version string

	Logger hclog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Debounce <= 0 {
		out.Debounce = 50 * time.Millisecond
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.QueueWindow <= 0 {
		out.QueueWindow = 256
	}
	if out.Logger == nil {
		out.Logger = hclog.NewNullLogger()
	}
	return out
}

// Info is the session identity handed to clients. Clients compare the
// session id on every response; a change means they must resync.
type Info struct {
	SessionID   string
	ProjectName string
	RootRef     tree.Ref
	Version     string
}

// ServeSession owns the live tree and its update pipeline.
type ServeSession struct {
	info   Info
	opts   Options
	logger hclog.Logger

	vfs   *vfs.Vfs
	tree  *tree.Tree
	queue *queue.MessageQueue
	proc  *processor.Processor

	// publishMu serializes every apply+append pair, so the cursor
	// order matches the order patches hit the tree.
	publishMu sync.Mutex

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a session over the given VFS. projectPath may name the
// project file directly or a directory containing the default one.
// The initial snapshot is computed and installed before New returns.
func New(v *vfs.Vfs, projectPath string, opts Options) (*ServeSession, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.Named("session")

	projectFile := path.Clean(projectPath)
	if !project.IsProjectFile(projectFile) {
		projectFile = path.Join(projectFile, project.DefaultFileName)
	}

	proj, err := project.Load(v, projectFile)
	if err != nil {
		return nil, err
	}

	mctx := middleware.NewContext(v, opts.Logger)
	rootSnap, err := middleware.SnapshotFromVfs(mctx, projectFile)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	if rootSnap == nil {
		return nil, fmt.Errorf("project %s produced no root instance", projectFile)
	}
	if rootSnap.Meta.Error != "" {
		return nil, fmt.Errorf("initial snapshot: %s", rootSnap.Meta.Error)
	}

	t := tree.New(rootSnap)
	s := &ServeSession{
		info: Info{
			SessionID:   ulid.MustNew(ulid.Now(), rand.Reader).String(),
			ProjectName: proj.Name,
			RootRef:     t.RootRef(),
			Version:     opts.Version,
		},
		opts:   opts,
		logger: logger,
		vfs:    v,
		tree:   t,
		queue:  queue.New(opts.QueueWindow),
	}
	s.proc = processor.New(v, t, mctx, s.publish, opts.Logger, opts.Debounce, opts.RetryAttempts)

	logger.Info("session ready",
		"session_id", s.info.SessionID,
		"project", proj.Name,
		"instances", t.Len())
	return s, nil
}

// Start launches the change processor. It returns immediately; the
// pipeline runs until Stop or context cancellation.
func (s *ServeSession) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.group, ctx = errgroup.WithContext(ctx)

	procCtx := ctx
	s.group.Go(func() error {
		return s.proc.Run(procCtx)
	})
}

// Stop tears the session down: the processor halts, the VFS releases
// its watches, and all queue waiters receive the terminal signal.
func (s *ServeSession) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.vfs.Close(); err != nil {
		s.logger.Error("vfs close", "error", err)
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
	s.queue.Close()
	s.logger.Info("session stopped", "session_id", s.info.SessionID)
}

// Info returns the session identity.
func (s *ServeSession) Info() Info {
	return s.info
}

// Tree exposes the live tree for read paths and tests.
func (s *ServeSession) Tree() *tree.Tree {
	return s.tree
}

// Read returns detached copies of the requested instances and the
// refs that were not found.
func (s *ServeSession) Read(refs []tree.Ref) (map[tree.Ref]tree.Instance, []tree.Ref) {
	found := make(map[tree.Ref]tree.Instance, len(refs))
	var missing []tree.Ref
	for _, ref := range refs {
		if inst, ok := s.tree.GetCopy(ref); ok {
			found[ref] = inst
		} else {
			missing = append(missing, ref)
		}
	}
	return found, missing
}

// Subscribe long-polls for batches after the given cursor. Cursor 0
// and cursors that fell out of the queue window yield a synthesized
// batch equivalent to the whole current tree; the resynced flag tells
// the client its mirror must be rebuilt rather than patched.
func (s *ServeSession) Subscribe(ctx context.Context, cursor uint64) ([]queue.Entry, uint64, bool, error) {
	if cursor == 0 {
		entry, high := s.fullTreeEntry()
		return []queue.Entry{entry}, high, false, nil
	}

	entries, high, err := s.queue.SubscribeFrom(ctx, cursor)
	if err != nil {
		if errors.Is(err, queue.ErrWindowOverflow) {
			entry, high := s.fullTreeEntry()
			return []queue.Entry{entry}, high, true, nil
		}
		return nil, cursor, false, err
	}
	return entries, high, false, nil
}

// fullTreeEntry synthesizes an applied batch carrying every instance,
// stamped with the current cursor.
func (s *ServeSession) fullTreeEntry() (queue.Entry, uint64) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	added := make(map[tree.Ref]tree.Instance)
	refs, err := s.tree.Descendants(s.tree.RootRef())
	if err == nil {
		for _, ref := range refs {
			if inst, ok := s.tree.GetCopy(ref); ok {
				added[ref] = inst
			}
		}
	}
	cursor := s.queue.CurrentCursor()
	return queue.Entry{Cursor: cursor, Patch: patch.AppliedSet{Added: added}}, cursor
}

// Write applies an external patch set through the same path the
// processor uses and returns the new cursor. The batch is broadcast
// to all subscribers; invalid batches never touch the tree.
func (s *ServeSession) Write(set patch.Set) (uint64, error) {
	return s.applyAndAppend(set)
}

func (s *ServeSession) publish(set patch.Set) error {
	_, err := s.applyAndAppend(set)
	return err
}

func (s *ServeSession) applyAndAppend(set patch.Set) (uint64, error) {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	applied, err := patch.Apply(s.tree, set)
	if err != nil {
		return s.queue.CurrentCursor(), err
	}
	if applied.IsEmpty() {
		return s.queue.CurrentCursor(), nil
	}
	cursor := s.queue.Append(applied)
	s.logger.Debug("batch published",
		"cursor", cursor,
		"removed", len(applied.Removed),
		"added", len(applied.Added),
		"updated", len(applied.Updated))
	return cursor, nil
}

// OpenPath returns the contributing path to open in an editor for the
// given instance.
func (s *ServeSession) OpenPath(ref tree.Ref) (string, error) {
	inst, ok := s.tree.GetCopy(ref)
	if !ok {
		return "", fmt.Errorf("open %s: %w", ref, tree.ErrNotFound)
	}
	if inst.Meta.SourcePath == "" {
		return "", fmt.Errorf("instance %s has no contributing path", ref)
	}
	return inst.Meta.SourcePath, nil
}
