package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of SQLite schema migrations.
// Each migration's version must be sequential starting from 1.
// The processed table matches databases created by earlier releases,
// which had no schema_version table.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS processed (
	id TEXT PRIMARY KEY,
	ts TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_processed_ts ON processed(ts);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// postgresSchema creates the processed table on Postgres.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS processed (
	id TEXT PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
