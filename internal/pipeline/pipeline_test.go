package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratapm/strata/internal/hashid"
	"github.com/stratapm/strata/internal/index"
	"github.com/stratapm/strata/internal/manifest"
	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/resolver"
	"github.com/stratapm/strata/internal/version"
)

func buildArchive(t *testing.T, files map[string]string) ([]byte, hashid.Content) {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var zstdBuf bytes.Buffer
	zw, err := zstd.NewWriter(&zstdBuf)
	require.NoError(t, err)
	_, err = zw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return zstdBuf.Bytes(), hashid.SumContent(zstdBuf.Bytes())
}

// fakeFetcher serves canned archive bytes per package name and counts how
// many times each name was actually fetched, so tests can assert how many
// fetches a run made.
type fakeFetcher struct {
	archives map[string][]byte
	calls    map[string]*int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{archives: map[string][]byte{}, calls: map[string]*int64{}}
}

func (f *fakeFetcher) add(name string, archive []byte) {
	f.archives[name] = archive
	var n int64
	f.calls[name] = &n
}

func (f *fakeFetcher) Fetch(ctx context.Context, rel index.Release) (io.ReadCloser, error) {
	for name, archive := range f.archives {
		if rel.ContentHash == hashid.SumContent(archive) {
			atomic.AddInt64(f.calls[name], 1)
			return io.NopCloser(bytes.NewReader(archive)), nil
		}
	}
	return nil, errors.New("no archive registered for this release")
}

func newTestPipeline(t *testing.T) (*Pipeline, *objstore.Store) {
	t.Helper()
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	fetcher := newFakeFetcher()
	return New(store, fetcher, 4), store
}

func ver(t *testing.T, s string) version.Version {
	t.Helper()
	v, err := version.Parse(s)
	require.NoError(t, err)
	return v
}

func TestRunExtractsEveryPackageInOrder(t *testing.T) {
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	fetcher := newFakeFetcher()
	pl := New(store, fetcher, 4)

	libArchive, libHash := buildArchive(t, map[string]string{"lib/core.so": "lib-bytes"})
	appArchive, appHash := buildArchive(t, map[string]string{"bin/app": "app-bytes"})
	fetcher.add("lib", libArchive)
	fetcher.add("app", appArchive)

	plan := &resolver.Plan{
		Order: []string{"lib", "app"},
		Selections: []resolver.Selection{
			{Name: "lib", Version: ver(t, "1.0.0"), Release: index.Release{ContentHash: libHash}},
			{
				Name: "app", Version: ver(t, "1.0.0"),
				Release: index.Release{
					ContentHash: appHash,
					RuntimeDeps: []manifest.Dependency{mustDep(t, "lib>=1.0.0")},
				},
			},
		},
	}

	entries, err := pl.Run(context.Background(), plan)
	require.NoError(t, err)

	paths := make(map[string]bool)
	for _, e := range entries {
		paths[filepath.ToSlash(e.Path)] = true
	}
	assert.True(t, paths["lib/core.so"])
	assert.True(t, paths["bin/app"])
}

func mustDep(t *testing.T, raw string) manifest.Dependency {
	t.Helper()
	d, err := manifest.ParseDependency(raw)
	require.NoError(t, err)
	return d
}

func TestRunPropagatesFetchFailureAsCancellation(t *testing.T) {
	pl, _ := newTestPipeline(t)

	plan := &resolver.Plan{
		Order: []string{"ghost"},
		Selections: []resolver.Selection{
			{Name: "ghost", Version: ver(t, "1.0.0"), Release: index.Release{ContentHash: hashid.Content("sha256:nope")}},
		},
	}

	_, err := pl.Run(context.Background(), plan)
	require.Error(t, err)
}

func TestRunFetchesEachReleaseOnce(t *testing.T) {
	store, err := objstore.Open(t.TempDir())
	require.NoError(t, err)
	fetcher := newFakeFetcher()
	pl := New(store, fetcher, 4)

	sharedArchive, sharedHash := buildArchive(t, map[string]string{"share/data": "shared-bytes"})
	fetcher.add("shared", sharedArchive)

	plan := &resolver.Plan{
		Order: []string{"shared"},
		Selections: []resolver.Selection{
			{Name: "shared", Version: ver(t, "1.0.0"), Release: index.Release{ContentHash: sharedHash}},
		},
	}

	_, err = pl.Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(fetcher.calls["shared"]))
}
