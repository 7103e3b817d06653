// Package db holds the schema shared by the MySQL and SQLite stores.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Timestamps are unix milliseconds so both engines store them the same way.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id VARCHAR(26) NOT NULL PRIMARY KEY,
		tour_request_id VARCHAR(64) NULL,
		traveler_id VARCHAR(64) NOT NULL,
		guide_id VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		initial_budget BIGINT NOT NULL,
		offer_amount BIGINT NULL,
		offer_by_id VARCHAR(64) NULL,
		offer_by_role VARCHAR(16) NULL,
		offer_at BIGINT NULL,
		min_price BIGINT NULL,
		final_price BIGINT NULL,
		traveler_agreed BOOLEAN NOT NULL DEFAULT FALSE,
		guide_agreed BOOLEAN NOT NULL DEFAULT FALSE,
		traveler_read_seq BIGINT NOT NULL DEFAULT 0,
		guide_read_seq BIGINT NOT NULL DEFAULT 0,
		last_seq BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (tour_request_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(26) NOT NULL PRIMARY KEY,
		thread_id VARCHAR(26) NOT NULL,
		seq BIGINT NOT NULL,
		sender_id VARCHAR(64) NOT NULL,
		sender_role VARCHAR(16) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		attachments TEXT NULL,
		offer_amount BIGINT NULL,
		client_id VARCHAR(64) NULL,
		created_at BIGINT NOT NULL,
		edited_at BIGINT NULL,
		deleted BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (thread_id, seq),
		UNIQUE (thread_id, sender_id, client_id),
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS offers (
		id VARCHAR(26) NOT NULL PRIMARY KEY,
		thread_id VARCHAR(26) NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		party_id VARCHAR(64) NOT NULL,
		party_role VARCHAR(16) NOT NULL,
		created_at BIGINT NOT NULL,
		FOREIGN KEY (thread_id) REFERENCES threads(id) ON DELETE CASCADE
	)`,
	`CREATE INDEX idx_threads_traveler ON threads (traveler_id, updated_at)`,
	`CREATE INDEX idx_threads_guide ON threads (guide_id, updated_at)`,
	`CREATE INDEX idx_offers_thread ON offers (thread_id, created_at)`,
}

// Migrate creates the tables and indexes. It is safe to run on every start:
// objects that already exist are skipped.
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	for _, q := range schema {
		if _, err := conn.ExecContext(ctx, q); err != nil {
			if alreadyExists(err) {
				log.Debug().Str("statement", firstLine(q)).Msg("schema object exists, skipping")
				continue
			}
			return fmt.Errorf("migrate %q: %w", firstLine(q), err)
		}
	}
	return nil
}

func alreadyExists(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "Duplicate key name") ||
		strings.Contains(msg, "Duplicate column name")
}

func firstLine(q string) string {
	if i := strings.IndexByte(q, '\n'); i >= 0 {
		return strings.TrimSpace(q[:i])
	}
	return q
}
