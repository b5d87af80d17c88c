package store

import (
	"context"
	"fmt"
	"strings"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	event_type         TEXT NOT NULL DEFAULT '',
	description        TEXT NOT NULL DEFAULT '',
	venue              TEXT NOT NULL DEFAULT '',
	venue_capacity     INTEGER,
	registration_mode  TEXT NOT NULL DEFAULT 'individual',
	team_min           INTEGER NOT NULL DEFAULT 0,
	team_max           INTEGER NOT NULL DEFAULT 0,
	starts_at          {{ts}},
	ends_at            {{ts}},
	registration_start {{ts}},
	registration_end   {{ts}},
	certificate_end    {{ts}},
	status             TEXT NOT NULL DEFAULT 'draft',
	sub_status         TEXT NOT NULL DEFAULT 'registration_not_started',
	updated_at         {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_status ON events(status);

CREATE TABLE IF NOT EXISTS event_status_log (
	id         TEXT PRIMARY KEY,
	event_id   TEXT NOT NULL,
	old_status TEXT NOT NULL,
	new_status TEXT NOT NULL,
	old_sub    TEXT NOT NULL,
	new_sub    TEXT NOT NULL,
	source     TEXT NOT NULL,
	changed_at {{ts}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_status_log_event ON event_status_log(event_id, changed_at);

CREATE TABLE IF NOT EXISTS attendance_configs (
	event_id       TEXT PRIMARY KEY,
	strategy       TEXT NOT NULL,
	checkpoints    TEXT NOT NULL,
	criteria       TEXT NOT NULL,
	confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
	reasoning      TEXT NOT NULL DEFAULT '',
	auto_generated BOOLEAN NOT NULL DEFAULT TRUE,
	created_at     {{ts}} NOT NULL,
	updated_at     {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance_records (
	event_id     TEXT NOT NULL,
	student_id   TEXT NOT NULL,
	marks        TEXT NOT NULL,
	percentage   DOUBLE PRECISION NOT NULL DEFAULT 0,
	final_status TEXT NOT NULL DEFAULT 'pending',
	updated_at   {{ts}} NOT NULL,
	PRIMARY KEY (event_id, student_id)
);
`

// Migrate creates the tables this service owns. It is safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if d.Dialect == SQLite {
		// go-sqlite3 only parses time values for these declared types
		ts = "TIMESTAMP"
	}
	if _, err := d.Client.ExecContext(ctx, strings.ReplaceAll(schema, "{{ts}}", ts)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
