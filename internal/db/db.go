package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Connect opens the postgres database and applies migrations.
func Connect(ctx context.Context, dsn string, log zerolog.Logger) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations applied")
	return db, nil
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS group_messages (
            id BIGSERIAL PRIMARY KEY,
            sender TEXT NOT NULL CHECK (sender <> ''),
            room TEXT NOT NULL CHECK (room <> ''),
            body TEXT NOT NULL CHECK (body <> ''),
            sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS group_messages_room_id_idx ON group_messages (room, id);`,
		`CREATE TABLE IF NOT EXISTS direct_messages (
            id BIGSERIAL PRIMARY KEY,
            sender TEXT NOT NULL CHECK (sender <> ''),
            recipient TEXT NOT NULL CHECK (recipient <> ''),
            body TEXT NOT NULL CHECK (body <> ''),
            sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS direct_messages_pair_id_idx ON direct_messages (sender, recipient, id);`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
