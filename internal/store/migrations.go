package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS unread_counts (
	user_id    TEXT PRIMARY KEY,
	count      INTEGER NOT NULL CHECK(count >= 0),
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cached_pages (
	user_id     TEXT PRIMARY KEY,
	total_count INTEGER NOT NULL DEFAULT 0,
	fetched_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cached_notifications (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL REFERENCES cached_pages(user_id) ON DELETE CASCADE,
	notification_id TEXT NOT NULL,
	position        INTEGER NOT NULL,
	message         TEXT NOT NULL,
	created_at      TEXT NOT NULL DEFAULT '',
	is_read         INTEGER NOT NULL DEFAULT 0 CHECK(is_read IN (0, 1)),
	category        TEXT NOT NULL DEFAULT '',
	UNIQUE(user_id, notification_id)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_cached_notifications_user_position
	ON cached_notifications(user_id, position);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
