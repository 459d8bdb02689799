package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratapm/strata/internal/pmerrors"
)

type alwaysVerifier bool

func (a alwaysVerifier) Verify(blob, signature []byte, trustRoot string) bool { return bool(a) }

func sampleDoc(timestamp string) []byte {
	return []byte(`{
		"version": 1,
		"minimum_client": "0.1.0",
		"timestamp": "` + timestamp + `",
		"packages": {
			"foo": {
				"1.0.0": {
					"revision": 1,
					"arch": "arm64",
					"content_hash": "sha256:` + sha256Hex() + `",
					"download_url": "https://example.invalid/foo-1.0.0.sp",
					"runtime_deps": ["bar>=1.0.0"]
				}
			},
			"bar": {
				"1.0.0": {"revision": 1, "arch": "arm64", "content_hash": "sha256:` + sha256Hex() + `", "download_url": "https://example.invalid/bar-1.0.0.sp"},
				"1.1.0": {"revision": 1, "arch": "arm64", "content_hash": "sha256:` + sha256Hex() + `", "download_url": "https://example.invalid/bar-1.1.0.sp"}
			}
		}
	}`)
}

func sha256Hex() string {
	s := ""
	for i := 0; i < 64; i++ {
		s += "a"
	}
	return s
}

func TestLoadValidIndex(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	data := sampleDoc(now.Format(time.RFC3339))

	idx, warnings, err := Load(data, nil, alwaysVerifier(true), "", now, DefaultFreshnessWindow)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.True(t, idx.HasPackage("foo"))
	assert.ElementsMatch(t, []string{"1.0.0", "1.1.0"}, idx.Versions("bar"))

	rel, ok := idx.Release("foo", "1.0.0")
	require.True(t, ok)
	require.Len(t, rel.RuntimeDeps, 1)
	assert.Equal(t, "bar", rel.RuntimeDeps[0].Name)
}

func TestLoadRejectsBadSignature(t *testing.T) {
	now := time.Now()
	data := sampleDoc(now.Format(time.RFC3339))
	_, _, err := Load(data, nil, alwaysVerifier(false), "", now, DefaultFreshnessWindow)
	require.Error(t, err)
	assert.True(t, pmerrors.Is(err, pmerrors.CodeSignatureInvalid))
}

func TestLoadRejectsStaleIndex(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	stale := now.Add(-30 * 24 * time.Hour)
	data := sampleDoc(stale.Format(time.RFC3339))

	_, _, err := Load(data, nil, alwaysVerifier(true), "", now, DefaultFreshnessWindow)
	require.Error(t, err)
}

func TestLoadWarnsOnNewerMinimumClient(t *testing.T) {
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	data := []byte(`{"version":1,"minimum_client":"99.0.0","timestamp":"` + now.Format(time.RFC3339) + `","packages":{}}`)

	_, warnings, err := Load(data, nil, alwaysVerifier(true), "", now, DefaultFreshnessWindow)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
}

func TestLoadRejectsUnsupportedFormatVersion(t *testing.T) {
	now := time.Now()
	data := []byte(`{"version":999,"timestamp":"` + now.Format(time.RFC3339) + `","packages":{}}`)
	_, _, err := Load(data, nil, alwaysVerifier(true), "", now, DefaultFreshnessWindow)
	require.Error(t, err)
	assert.True(t, pmerrors.Is(err, pmerrors.CodeSchemaVersionTooNew))
}
