// Package processor converts VFS events into patch batches: it
// debounces the event stream, recomputes affected snapshots through
// the middleware, diffs them against the live tree, and hands the
// aggregated batch to the session for apply and broadcast.
package processor

import (
	"context"
	"errors"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"

	"github.com/grove-sync/grove/internal/middleware"
	"github.com/grove-sync/grove/internal/patch"
	"github.com/grove-sync/grove/internal/snapshot"
	"github.com/grove-sync/grove/internal/tree"
	"github.com/grove-sync/grove/internal/vfs"
)

// Publisher applies a patch set to the tree and broadcasts it. The
// session serializes all publishers through one lock.
type Publisher func(patch.Set) error

// Processor drives the event pipeline. It owns no locks of its own;
// all tree access goes through the tree's lock and all publication
// through the session's.
type Processor struct {
	vfs     *vfs.Vfs
	tree    *tree.Tree
	mctx    *middleware.Context
	publish Publisher
	logger  hclog.Logger

	debounce time.Duration
	attempts int
}

// New wires a processor. debounce is the event coalescing window;
// attempts bounds recompute retries on transient IO errors.
func New(v *vfs.Vfs, t *tree.Tree, mctx *middleware.Context, publish Publisher, logger hclog.Logger, debounce time.Duration, attempts int) *Processor {
	if attempts < 1 {
		attempts = 1
	}
	return &Processor{
		vfs:      v,
		tree:     t,
		mctx:     mctx,
		publish:  publish,
		logger:   logger.Named("processor"),
		debounce: debounce,
		attempts: attempts,
	}
}

// Run consumes the VFS event stream until the context is canceled or
// the stream closes. Events are committed to the VFS (invalidating
// its cache) as they arrive and drained together once the debounce
// window opened by the first pending event has elapsed; later events
// do not extend that window.
func (p *Processor) Run(ctx context.Context) error {
	events := p.vfs.Events()

	var pending []vfs.Event
	timer := time.NewTimer(p.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.vfs.CommitEvent(ev)
			pending = append(pending, ev)
			if timerC == nil {
				timer.Reset(p.debounce)
				timerC = timer.C
			}

		case <-timerC:
			timerC = nil
			paths := uniquePaths(pending)
			pending = nil
			p.drain(paths)
		}
	}
}

// uniquePaths coalesces a drain's events to one entry per path,
// preserving first-seen order.
func uniquePaths(events []vfs.Event) []string {
	seen := make(map[string]bool, len(events))
	var paths []string
	for _, ev := range events {
		if !seen[ev.Path] {
			seen[ev.Path] = true
			paths = append(paths, ev.Path)
		}
	}
	return paths
}

// drain resolves the affected instances, recomputes their snapshots,
// and publishes one aggregated batch. A batch the tree rejects is
// logged and dropped; the tree is never left partially modified.
func (p *Processor) drain(paths []string) {
	roots := p.resolveAffected(paths)
	if len(roots) == 0 {
		return
	}

	var set patch.Set
	for _, ref := range roots {
		inst, ok := p.tree.GetCopy(ref)
		if !ok {
			continue
		}
		src := inst.Meta.InstigatingPath
		if src == "" {
			src = inst.Meta.SourcePath
		}
		snap, err := p.recompute(src)
		if err != nil {
			p.logger.Error("recompute failed, keeping placeholder",
				"path", src, "error", err)
			snap = snapshot.NewError(inst.Name, src, err)
			snap.ClassName = inst.ClassName
		}
		if snap == nil {
			if ref == p.tree.RootRef() {
				p.logger.Error("project root vanished; keeping last known tree",
					"path", src)
				continue
			}
			set.Removed = append(set.Removed, ref)
			continue
		}
		subset, err := patch.Compute(p.tree, ref, snap)
		if err != nil {
			p.logger.Error("diff failed", "ref", ref, "error", err)
			continue
		}
		set.Removed = append(set.Removed, subset.Removed...)
		set.Added = append(set.Added, subset.Added...)
		set.Updated = append(set.Updated, subset.Updated...)
	}

	if set.IsEmpty() {
		return
	}
	if err := p.publish(set); err != nil {
		if errors.Is(err, patch.ErrBatchInvalid) {
			p.logger.Error("dropping invalid batch", "error", err)
			return
		}
		p.logger.Error("publish failed", "error", err)
	}
}

// resolveAffected maps changed paths to the set of recompute roots:
// instances whose contributing paths cover the change, or whose
// directory gains a new sibling. Roots covered by an affected
// ancestor are dropped, and project-described instances resolve to
// the tree root because only a full project recompute sees their
// overlays.
func (p *Processor) resolveAffected(paths []string) []tree.Ref {
	seen := make(map[tree.Ref]bool)
	var refs []tree.Ref

	add := func(ref tree.Ref) {
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	for _, changed := range paths {
		found := p.tree.GetByPath(changed)
		// A brand-new path implicates the nearest indexed ancestor: a
		// new sibling alters an existing directory snapshot.
		probe := changed
		for len(found) == 0 {
			parent := path.Dir(probe)
			if parent == probe {
				break
			}
			probe = parent
			found = p.tree.GetByPath(probe)
		}
		for _, ref := range found {
			add(p.recomputeRoot(ref))
		}
	}

	return p.dropCovered(refs)
}

// recomputeRoot hops from an affected instance to the instance whose
// snapshot must be rebuilt.
func (p *Processor) recomputeRoot(ref tree.Ref) tree.Ref {
	inst, ok := p.tree.GetCopy(ref)
	if !ok {
		return ref
	}
	if inst.Meta.Middleware == middleware.RuleProject {
		return p.tree.RootRef()
	}
	return ref
}

// dropCovered removes refs that are descendants of other refs in the
// set; recomputing the ancestor rebuilds them anyway.
func (p *Processor) dropCovered(refs []tree.Ref) []tree.Ref {
	inSet := make(map[tree.Ref]bool, len(refs))
	for _, ref := range refs {
		inSet[ref] = true
	}
	var out []tree.Ref
	for _, ref := range refs {
		covered := false
		inst, ok := p.tree.GetCopy(ref)
		for ok && inst.Parent != tree.NilRef {
			if inSet[inst.Parent] {
				covered = true
				break
			}
			inst, ok = p.tree.GetCopy(inst.Parent)
		}
		if !covered {
			out = append(out, ref)
		}
	}
	return out
}

// recompute runs the middleware over a source path, retrying
// transient IO failures with exponential backoff.
func (p *Processor) recompute(sourcePath string) (*snapshot.Snapshot, error) {
	var snap *snapshot.Snapshot
	op := func() error {
		var err error
		snap, err = middleware.SnapshotFromVfs(p.mctx, sourcePath)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxElapsedTime = 5 * time.Second

	err := backoff.Retry(op, backoff.WithMaxRetries(policy, uint64(p.attempts-1)))
	if err != nil {
		return nil, err
	}
	return snap, nil
}
