// Package config loads the client's runtime configuration file: where the
// install prefix and object store live, which index mirror to trust, and
// the pipeline/gc tuning knobs. It follows the same struct-tag decoding
// idiom the teacher uses for its own YAML documents (scenario files),
// adapted from YAML-describes-a-test-fixture to YAML-describes-a-runtime.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stratapm/strata/internal/pmerrors"
)

// Config is the parsed contents of the client config file (conventionally
// ~/.config/strata/config.yaml, or a path given via --config).
type Config struct {
	// Prefix is the root directory holding the "live" install tree plus
	// archived and staging state directories (statemgr.Manager's prefix).
	Prefix string `yaml:"prefix"`

	// StoreRoot is the content-addressed object store's root directory
	// (objstore.Store's root). Defaults to Prefix/.store if empty.
	StoreRoot string `yaml:"store_root,omitempty"`

	// StateDBPath is the SQLite ledger file (statedb.Store). Defaults to
	// Prefix/.state.db if empty.
	StateDBPath string `yaml:"state_db_path,omitempty"`

	// IndexURL names where the signed package catalog is published. The
	// install command does not read it; it loads the catalog from its
	// --index path.
	IndexURL string `yaml:"index_url"`

	// TrustRoot identifies the public key (or key directory) for the index
	// signature. The install command does not read it and loads the
	// catalog without signature verification.
	TrustRoot string `yaml:"trust_root,omitempty"`

	// Concurrency bounds the install pipeline's simultaneous fetch/extract
	// workers. Zero means pipeline.DefaultConcurrency.
	Concurrency int `yaml:"concurrency,omitempty"`

	// RetainCount and RetainFor describe gc.Collector's retention window.
	// The gc command does not read them; it takes its values from its
	// --retain-count and --retain-for flags.
	RetainCount int    `yaml:"retain_count,omitempty"`
	RetainFor   string `yaml:"retain_for,omitempty"` // a duration in time.ParseDuration format
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainConfig, pmerrors.CodeMissingKey,
			fmt.Sprintf("reading config file %s", path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, pmerrors.Wrap(pmerrors.DomainConfig, pmerrors.CodeParseError,
			fmt.Sprintf("parsing config file %s", path), err)
	}

	if cfg.Prefix == "" {
		return nil, pmerrors.New(pmerrors.DomainConfig, pmerrors.CodeMissingKey, "config: prefix is required")
	}
	if cfg.StoreRoot == "" {
		cfg.StoreRoot = cfg.Prefix + "/.store"
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = cfg.Prefix + "/.state.db"
	}
	return &cfg, nil
}
