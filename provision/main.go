// Command provision applies the database schema. It is idempotent: every
// statement is CREATE IF NOT EXISTS, so rerunning it on a live database is
// safe.
package main

import (
	"context"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS members (
		id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		name       text NOT NULL,
		email      text NOT NULL UNIQUE,
		role       text NOT NULL DEFAULT 'Member',
		github_id  text,
		google_id  text,
		photo_url  text
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now(),
		name        text NOT NULL,
		status      text NOT NULL DEFAULT 'None',
		visibility  text NOT NULL DEFAULT 'None',
		owner_id    uuid NOT NULL,
		prefix      text,
		description text,
		lead_id     uuid,
		start_date  timestamptz,
		due_date    timestamptz
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now(),
		title       text NOT NULL,
		owner_id    uuid NOT NULL,
		status      text NOT NULL DEFAULT 'None',
		priority    text NOT NULL DEFAULT 'None',
		count       serial,
		description text,
		due_date    timestamptz,
		project_id  uuid,
		lead_id     uuid,
		parent_id   uuid
	)`,
	`CREATE TABLE IF NOT EXISTS teams (
		id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		name       text NOT NULL,
		owner_id   uuid NOT NULL,
		visibility text NOT NULL DEFAULT 'None',
		prefix     text
	)`,
	`CREATE TABLE IF NOT EXISTS labels (
		id          uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at  timestamptz NOT NULL DEFAULT now(),
		updated_at  timestamptz NOT NULL DEFAULT now(),
		name        text NOT NULL UNIQUE,
		owner_id    uuid NOT NULL,
		description text,
		color       text
	)`,
	`CREATE TABLE IF NOT EXISTS assets (
		id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		name       text NOT NULL,
		kind       text NOT NULL DEFAULT 'Unknown',
		owner_id   uuid NOT NULL,
		project_id uuid
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now(),
		owner_id      uuid NOT NULL,
		resource_id   uuid NOT NULL,
		resource_type text NOT NULL,
		status        text NOT NULL DEFAULT 'None'
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now(),
		owner_id   uuid NOT NULL,
		chat_id    uuid NOT NULL REFERENCES chats (id),
		content    text NOT NULL,
		status     text NOT NULL DEFAULT 'Sent',
		parent_id  uuid
	)`,

	// The change log has no foreign keys on purpose: rows outlive the
	// entities they describe.
	`CREATE TABLE IF NOT EXISTS changes (
		id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
		created_at    timestamptz NOT NULL DEFAULT now(),
		updated_at    timestamptz NOT NULL DEFAULT now(),
		owner_id      uuid NOT NULL,
		resource_id   uuid NOT NULL,
		operation     text NOT NULL,
		resource_type text NOT NULL,
		diff_json     text NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS changes_resource_id_idx ON changes (resource_id)`,
	`CREATE INDEX IF NOT EXISTS changes_owner_id_idx ON changes (owner_id)`,

	`CREATE TABLE IF NOT EXISTS tasks_by_assignees (
		task_id     uuid NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
		assignee_id uuid NOT NULL REFERENCES members (id) ON DELETE CASCADE,
		PRIMARY KEY (task_id, assignee_id)
	)`,
	`CREATE TABLE IF NOT EXISTS labels_by_tasks (
		label_id uuid NOT NULL REFERENCES labels (id) ON DELETE CASCADE,
		task_id  uuid NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
		PRIMARY KEY (label_id, task_id)
	)`,
	`CREATE TABLE IF NOT EXISTS members_by_projects (
		member_id  uuid NOT NULL REFERENCES members (id) ON DELETE CASCADE,
		project_id uuid NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		PRIMARY KEY (member_id, project_id)
	)`,
	`CREATE TABLE IF NOT EXISTS teams_by_projects (
		team_id    uuid NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
		project_id uuid NOT NULL REFERENCES projects (id) ON DELETE CASCADE,
		PRIMARY KEY (team_id, project_id)
	)`,
	`CREATE TABLE IF NOT EXISTS members_by_teams (
		member_id uuid NOT NULL REFERENCES members (id) ON DELETE CASCADE,
		team_id   uuid NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
		PRIMARY KEY (member_id, team_id)
	)`,
}

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("provision starting")

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("missing DATABASE_URL")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close(ctx)

	for _, stmt := range statements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			log.Fatalf("apply schema: %v", err)
		}
	}

	log.Info("provision complete")
}
