package store

// migrations are applied in order; schema_version records progress.
var migrations = []string{
	`CREATE TABLE quests (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		instructions TEXT NOT NULL DEFAULT '',
		integration_id TEXT NOT NULL,
		quest_json TEXT NOT NULL DEFAULT '{}',
		selected_days TEXT NOT NULL DEFAULT '[]',
		start_hour INTEGER NOT NULL DEFAULT 0,
		end_hour INTEGER NOT NULL DEFAULT 24,
		reward INTEGER NOT NULL DEFAULT 0,
		is_destroyed INTEGER NOT NULL DEFAULT 0,
		last_completed_on TEXT NOT NULL DEFAULT '',
		last_updated INTEGER NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_quests_unsynced ON quests(synced) WHERE synced = 0;

	CREATE TABLE stats (
		id TEXT PRIMARY KEY,
		quest_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_stats_unsynced ON stats(synced) WHERE synced = 0;
	CREATE INDEX idx_stats_quest ON stats(quest_id);

	CREATE TABLE profile (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		needs_sync INTEGER NOT NULL DEFAULT 0
	);`,

	`CREATE TABLE usage (
		package TEXT NOT NULL,
		day TEXT NOT NULL,
		seconds INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (package, day)
	);`,
}
