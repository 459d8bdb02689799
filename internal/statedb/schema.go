package statedb

// schemaSQL creates the ledger tables on a fresh database. Unlike the
// teacher's store package this schema is not go:embed'ed from a sibling
// .sql file — the state ledger is small enough, and fully owned by this
// package, to keep inline as a single source of truth alongside the
// migration table below.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS states (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	created_at      TEXT NOT NULL,
	parent_id       INTEGER REFERENCES states(id),
	status          TEXT NOT NULL CHECK (status IN ('staging','active','archived')),
	manifest_digest TEXT NOT NULL,
	label           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS state_files (
	state_id  INTEGER NOT NULL REFERENCES states(id),
	path      TEXT NOT NULL,
	object_hash TEXT NOT NULL,
	mode      INTEGER NOT NULL,
	PRIMARY KEY (state_id, path)
);

CREATE TABLE IF NOT EXISTS file_objects (
	hash       TEXT PRIMARY KEY,
	ref_count  INTEGER NOT NULL DEFAULT 0,
	size_bytes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS active_state (
	id        INTEGER PRIMARY KEY CHECK (id = 0),
	state_id  INTEGER NOT NULL REFERENCES states(id)
);

CREATE INDEX IF NOT EXISTS idx_states_status ON states(status);
CREATE INDEX IF NOT EXISTS idx_state_files_object_hash ON state_files(object_hash);
`

// currentSchemaVersion is compared against PRAGMA user_version; bump it and
// add a branch in runMigrations whenever the schema changes in a way that
// existing databases need to catch up on.
const currentSchemaVersion = 1
