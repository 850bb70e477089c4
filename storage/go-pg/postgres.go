// Package gopg stores the notification queue in PostgreSQL using go-pg.
package gopg

import (
	"github.com/go-pg/pg"
	"github.com/pkg/errors"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS notification_jobs (
		id uuid PRIMARY KEY,
		channel text NOT NULL CHECK (channel IN ('email','inapp','sms','push')),
		recipient jsonb NOT NULL,
		template_name text NOT NULL DEFAULT '',
		subject text NOT NULL DEFAULT '',
		payload jsonb NOT NULL DEFAULT '{}',
		status text NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','processing','sent','failed')),
		scheduled_at timestamptz NOT NULL,
		attempts int NOT NULL DEFAULT 0,
		max_attempts int NOT NULL DEFAULT 3,
		last_error text NOT NULL DEFAULT '',
		last_attempt_at timestamptz,
		sent_at timestamptz,
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notification_jobs_due_idx ON notification_jobs (scheduled_at) WHERE status = 'queued'`,
	`CREATE TABLE IF NOT EXISTS job_runs (
		id uuid PRIMARY KEY,
		job_name text NOT NULL,
		status text NOT NULL CHECK (status IN ('running','success','failed')),
		started_at timestamptz NOT NULL,
		finished_at timestamptz,
		processed_count int NOT NULL DEFAULT 0,
		success_count int NOT NULL DEFAULT 0,
		failure_count int NOT NULL DEFAULT 0,
		error_message text NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS job_runs_started_idx ON job_runs (job_name, started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		id uuid PRIMARY KEY,
		email text NOT NULL DEFAULT '',
		phone text NOT NULL DEFAULT '',
		push_token text NOT NULL DEFAULT '',
		first_name text NOT NULL DEFAULT '',
		last_name text NOT NULL DEFAULT '',
		role text NOT NULL DEFAULT 'customer',
		status text NOT NULL DEFAULT 'active'
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id uuid PRIMARY KEY,
		user_id uuid NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		job_id uuid,
		title text NOT NULL,
		message text NOT NULL,
		category text NOT NULL,
		priority text NOT NULL,
		action_url text NOT NULL DEFAULT '',
		cta_label text NOT NULL DEFAULT '',
		template_name text NOT NULL DEFAULT '',
		template_data jsonb,
		metadata jsonb,
		read_at timestamptz,
		created_at timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS notifications_user_idx ON notifications (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS notification_templates (
		name text PRIMARY KEY,
		enabled boolean NOT NULL DEFAULT false,
		description text NOT NULL DEFAULT '',
		subject text NOT NULL DEFAULT '',
		text_body text NOT NULL DEFAULT '',
		html_body text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL,
		updated_at timestamptz NOT NULL
	)`,
}

// Connect opens a connection pool from a postgres:// URL.
func Connect(url string) (*pg.DB, error) {
	opts, err := pg.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse database url")
	}

	return pg.Connect(opts), nil
}

// CreateSchema creates the queue tables when they are missing.
func CreateSchema(db *pg.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return errors.Wrap(err, "create schema")
		}
	}

	return nil
}

// Store implements every repository of the queue on one database handle.
type Store struct {
	db *pg.DB
}

func New(db *pg.DB) *Store {
	return &Store{db: db}
}
