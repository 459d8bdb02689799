package cli

import (
	"github.com/stratapm/strata/internal/config"
	"github.com/stratapm/strata/internal/objstore"
	"github.com/stratapm/strata/internal/statedb"
	"github.com/stratapm/strata/internal/statemgr"
)

// env bundles the handles every subcommand needs, opened once from the
// resolved config file.
type env struct {
	cfg   *config.Config
	store *objstore.Store
	db    *statedb.Store
	mgr   *statemgr.Manager
}

func openEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	store, err := objstore.Open(cfg.StoreRoot)
	if err != nil {
		return nil, err
	}

	db, err := statedb.Open(cfg.StateDBPath)
	if err != nil {
		return nil, err
	}

	mgr, err := statemgr.New(cfg.Prefix, store, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, db: db, mgr: mgr}, nil
}

func (e *env) Close() error {
	return e.db.Close()
}
