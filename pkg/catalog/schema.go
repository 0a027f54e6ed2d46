package catalog

// migration is one named, idempotent schema change. migrate applies them
// in slice order inside a single transaction on every Open; once a name
// is recorded in schema_version it is skipped on later opens, so a
// migration can assume every earlier one already ran.
type migration struct {
	name string
	sql  string
}

// migrations is the catalog's ordered migration history. Append new
// entries here for future schema changes — never edit or reorder one
// that has already shipped, the same discipline turbo-geth's stagedsync
// migrator and beads' numbered migration files both follow.
var migrations = []migration{
	{name: "0001_initial_schema", sql: initialSchema},
}

// initialSchema is migration 0001: every table and index this catalog
// has ever shipped with. Uses CREATE TABLE/INDEX IF NOT EXISTS so it is
// itself idempotent, on top of schema_version's bookkeeping. Table and
// column names mirror pkg/types's field names.
const initialSchema = `
CREATE TABLE IF NOT EXISTS block (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	hash      TEXT NOT NULL,
	size      INTEGER NOT NULL,
	volume_id INTEGER NOT NULL,
	UNIQUE(hash, size)
);
CREATE INDEX IF NOT EXISTS idx_block_volume ON block(volume_id);

CREATE TABLE IF NOT EXISTS blockset (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	length    INTEGER NOT NULL,
	full_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS blockset_entry (
	blockset_id INTEGER NOT NULL,
	idx         INTEGER NOT NULL,
	block_id    INTEGER NOT NULL,
	PRIMARY KEY (blockset_id, idx)
);
CREATE INDEX IF NOT EXISTS idx_blockset_entry_block ON blockset_entry(block_id);

CREATE TABLE IF NOT EXISTS blocklist_hash (
	blockset_id INTEGER NOT NULL,
	idx         INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	PRIMARY KEY (blockset_id, idx)
);

CREATE TABLE IF NOT EXISTS metadataset (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	blockset_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_lookup (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	prefix_id   INTEGER NOT NULL,
	path        TEXT NOT NULL,
	blockset_id INTEGER NOT NULL,
	metadata_id INTEGER NOT NULL,
	UNIQUE(prefix_id, path, blockset_id, metadata_id)
);

CREATE TABLE IF NOT EXISTS fileset (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      INTEGER NOT NULL UNIQUE,
	volume_id      INTEGER NOT NULL,
	is_full_backup INTEGER NOT NULL DEFAULT 0,
	is_partial     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fileset_entry (
	fileset_id    INTEGER NOT NULL,
	file_id       INTEGER NOT NULL,
	last_modified INTEGER NOT NULL,
	PRIMARY KEY (fileset_id, file_id)
);
CREATE INDEX IF NOT EXISTS idx_fileset_entry_file ON fileset_entry(file_id);

CREATE TABLE IF NOT EXISTS remote_volume (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	name               TEXT NOT NULL UNIQUE,
	type               TEXT NOT NULL,
	state              TEXT NOT NULL,
	size               INTEGER NOT NULL DEFAULT 0,
	hash               TEXT NOT NULL DEFAULT '',
	delete_grace_until INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_remote_volume_state ON remote_volume(type, state);

CREATE TABLE IF NOT EXISTS index_block_link (
	index_volume_id INTEGER NOT NULL,
	block_volume_id INTEGER NOT NULL,
	PRIMARY KEY (index_volume_id, block_volume_id)
);

CREATE TABLE IF NOT EXISTS duplicate_block (
	block_id  INTEGER NOT NULL,
	volume_id INTEGER NOT NULL,
	PRIMARY KEY (block_id, volume_id)
);

CREATE TABLE IF NOT EXISTS deleted_block (
	hash      TEXT NOT NULL,
	size      INTEGER NOT NULL,
	volume_id INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deleted_block_volume ON deleted_block(volume_id);

CREATE TABLE IF NOT EXISTS catalog_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS change_journal_data (
	fileset_id  INTEGER NOT NULL,
	volume      TEXT NOT NULL,
	journal_id  TEXT NOT NULL,
	next_usn    INTEGER NOT NULL,
	config_hash TEXT NOT NULL,
	PRIMARY KEY (fileset_id, volume)
);
`
