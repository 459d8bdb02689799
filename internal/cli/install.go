package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stratapm/strata/internal/index"
	"github.com/stratapm/strata/internal/manifest"
	"github.com/stratapm/strata/internal/pipeline"
	"github.com/stratapm/strata/internal/resolver"
)

// localFetcher reads archive bytes directly from disk, treating a
// release's DownloadURL as a local filesystem path. It stands in for a
// real network fetcher (HTTP, OCI registry) until one is wired; see
// DESIGN.md for why the network client libraries were dropped rather than
// stubbed out this pass.
type localFetcher struct{}

func (localFetcher) Fetch(_ context.Context, rel index.Release) (io.ReadCloser, error) {
	f, err := os.Open(rel.DownloadURL)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func loadLocalIndex(path string) (*index.Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx, warnings, err := index.Load(data, nil, nil, "", time.Now(), 0)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintln(os.Stderr, "warning:", w.Message)
	}
	return idx, nil
}

func newInstallCommand(opts *RootOptions) *cobra.Command {
	var indexPath string
	var buildClosure bool

	cmd := &cobra.Command{
		Use:   "install <name><op><version>[,<op><version>]...",
		Short: "resolve and atomically install one or more packages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			idx, err := loadLocalIndex(indexPath)
			if err != nil {
				return err
			}

			requests := make([]resolver.Request, len(args))
			for i, a := range args {
				dep, err := manifest.ParseDependency(a)
				if err != nil {
					return fail("parsing request %q: %w", a, err)
				}
				requests[i] = resolver.Request{Name: dep.Name, Spec: dep.Spec}
			}

			plan, err := resolver.Resolve(idx, requests, buildClosure)
			if err != nil {
				return err
			}

			log := opts.logger()
			log.Info("resolved install plan", "packages", len(plan.Selections))

			pl := pipeline.New(e.store, localFetcher{}, e.cfg.Concurrency)
			entries, err := pl.Run(cmd.Context(), plan)
			if err != nil {
				return err
			}

			digest := planDigest(plan)
			stateID, err := e.mgr.Transition(cmd.Context(), digest, entries)
			if err != nil {
				return err
			}
			log.Info("installed", "state_id", stateID)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexPath, "index", "index.json", "path to a local index.json catalog")
	cmd.Flags().BoolVar(&buildClosure, "build-closure", false, "resolve the build-dependency closure instead of runtime deps")
	return cmd
}

// planDigest derives a stable manifest digest for a resolved plan from its
// selections, so the same set of (name, version) selections always
// produces the same state ledger manifest_digest regardless of map
// iteration order.
func planDigest(plan *resolver.Plan) string {
	digest := ""
	for _, s := range plan.Selections {
		digest += s.Name + "@" + s.Version.String() + ";"
	}
	return digest
}
