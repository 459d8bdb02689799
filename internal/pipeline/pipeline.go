// Package pipeline implements the concurrent install pipeline of §4.6: a
// dependency-ordered fetch -> verify -> extract -> stage-link walk over the
// resolver's plan, bounded by a worker semaphore, deduplicating concurrent
// requests for the same release, and cancelling every in-flight worker as
// soon as one of them fails.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/stratapm/strata/internal/index"
	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/pmerrors"
	"github.com/stratapm/strata/internal/resolver"
)

// Fetcher retrieves the archive bytes for a release. Concrete
// implementations (HTTP download, local cache, OCI registry pull) live
// outside this package; Fetcher is the narrow capability the pipeline
// needs, matching the capability-interface pattern used throughout this
// module (index.Verifier, resolver.Source).
type Fetcher interface {
	Fetch(ctx context.Context, rel index.Release) (io.ReadCloser, error)
}

// DefaultConcurrency is used when a non-positive value is passed to New;
// the spec specifies bounded concurrency defaulting to the download pool
// size, which in the absence of a configured pool defaults to 8.
const DefaultConcurrency = 8

// Pipeline walks a resolved plan, materializing every selected release's
// files into the object store.
type Pipeline struct {
	store       *objstore.Store
	fetcher     Fetcher
	concurrency int
}

// New returns a Pipeline that fetches releases via fetcher and stores their
// extracted content in store, running at most concurrency fetch/extract
// workers at a time.
func New(store *objstore.Store, fetcher Fetcher, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Pipeline{store: store, fetcher: fetcher, concurrency: concurrency}
}

// Run executes plan's install pipeline to completion, returning the
// combined file manifest (every selected release's extracted files) ready
// to hand to statemgr.Manager.Transition as the new state's desired file
// set.
//
// Each package in plan.Order only starts its fetch once every release it
// directly depends on (per its own RuntimeDeps) has finished extracting —
// the dependency-ordering requirement of §4.6 — but independent branches
// of the DAG run concurrently, bounded by a semaphore sized to
// p.concurrency. A singleflight group deduplicates concurrent requests for
// the exact same (name, version) release, and an errgroup propagates the
// first worker failure as cancellation to every other in-flight worker.
func (p *Pipeline) Run(ctx context.Context, plan *resolver.Plan) ([]objstore.FileEntry, error) {
	selections := make(map[string]resolver.Selection, len(plan.Selections))
	for _, s := range plan.Selections {
		selections[s.Name] = s
	}

	done := make(map[string]chan struct{}, len(plan.Order))
	for _, name := range plan.Order {
		done[name] = make(chan struct{})
	}

	sem := semaphore.NewWeighted(int64(p.concurrency))
	var sf singleflight.Group
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[string][]objstore.FileEntry, len(plan.Order))

	for _, name := range plan.Order {
		name := name
		sel, ok := selections[name]
		if !ok {
			return nil, pmerrors.New(pmerrors.DomainResolver, pmerrors.CodeUnknownPackage,
				fmt.Sprintf("plan order references %q with no matching selection", name))
		}

		g.Go(func() error {
			defer close(done[name])

			for _, dep := range sel.Release.RuntimeDeps {
				depDone, ok := done[dep.Name]
				if !ok {
					continue // build-closure dep outside the install plan's own order
				}
				select {
				case <-depDone:
				case <-gctx.Done():
					return gctx.Err()
				}
			}

			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			key := name + "@" + sel.Version.String()
			v, err, _ := sf.Do(key, func() (any, error) {
				return p.installOne(gctx, sel)
			})
			if err != nil {
				return err
			}

			mu.Lock()
			results[name] = v.([]objstore.FileEntry)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []objstore.FileEntry
	for _, name := range plan.Order {
		all = append(all, results[name]...)
	}
	return all, nil
}

// installOne fetches, verifies, and extracts a single release, then breaks
// its extracted archive tree into individual file objects (the
// "stage-link" step's raw material — the caller links these into a state's
// staging directory via statemgr, not this package, since linking is a
// property of a state transition, not of any one package's installation).
func (p *Pipeline) installOne(ctx context.Context, sel resolver.Selection) ([]objstore.FileEntry, error) {
	rc, err := p.fetcher.Fetch(ctx, sel.Release)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainNetwork, pmerrors.CodeUnavailable,
			fmt.Sprintf("fetching %s@%s", sel.Name, sel.Version.String()), err)
	}
	defer rc.Close()

	ref, err := p.store.PutArchive(rc, sel.Release.ContentHash)
	if err != nil {
		return nil, err
	}

	entries, err := p.ingest(ref)
	if err != nil {
		return nil, err
	}

	if err := p.store.DeleteArchive(ref); err != nil {
		return nil, err
	}
	return entries, nil
}

// ingest walks an extracted archive tree, inserting every regular file as
// an individually addressable object and returning the resulting file
// manifest. Directories need no object of their own (LinkInto recreates
// them via MkdirAll); symlinks are not yet representable as content
// objects in the current object-store model and are skipped here.
func (p *Pipeline) ingest(ref objstore.ArchiveRef) ([]objstore.FileEntry, error) {
	root := p.store.ArchiveDir(ref)
	var entries []objstore.FileEntry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "walking extracted archive", err)
		}
		if d.IsDir() || d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "reading archive entry info", err)
		}

		f, err := os.Open(path)
		if err != nil {
			return pmerrors.Wrap(pmerrors.DomainStorage, pmerrors.CodeIOError, "opening archive entry", err)
		}
		defer f.Close()

		hash, _, err := p.store.PutFile(f, info.Mode())
		if err != nil {
			return err
		}
		entries = append(entries, objstore.FileEntry{Path: rel, Hash: hash, Mode: info.Mode()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
