package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"chat-relay/internal/models"
)

// PostgresMessageRepo is a sqlx-backed MessageStore. BIGSERIAL ids provide the sequence.
type PostgresMessageRepo struct {
	db *sqlx.DB
}

// NewPostgresMessageRepo constructs a PostgresMessageRepo.
func NewPostgresMessageRepo(db *sqlx.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db}
}

// AppendGroupMessage persists a room message and returns the stored row.
func (r *PostgresMessageRepo) AppendGroupMessage(ctx context.Context, sender, room, body string) (models.GroupMessage, error) {
	if err := validateGroup(sender, room, body); err != nil {
		return models.GroupMessage{}, err
	}
	var msg models.GroupMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO group_messages (sender, room, body) VALUES ($1, $2, $3) RETURNING id, sender, room, body, sent_at`, sender, room, body).
		StructScan(&msg)
	if err != nil {
		return models.GroupMessage{}, &StorageError{Op: OpAppendGroup, Err: err}
	}
	msg.SentAt = msg.SentAt.UTC()
	return msg, nil
}

// AppendDirectMessage persists a direct message and returns the stored row.
func (r *PostgresMessageRepo) AppendDirectMessage(ctx context.Context, sender, recipient, body string) (models.DirectMessage, error) {
	if err := validateDirect(sender, recipient, body); err != nil {
		return models.DirectMessage{}, err
	}
	var msg models.DirectMessage
	err := r.db.QueryRowxContext(ctx, `INSERT INTO direct_messages (sender, recipient, body) VALUES ($1, $2, $3) RETURNING id, sender, recipient, body, sent_at`, sender, recipient, body).
		StructScan(&msg)
	if err != nil {
		return models.DirectMessage{}, &StorageError{Op: OpAppendDirect, Err: err}
	}
	msg.SentAt = msg.SentAt.UTC()
	return msg, nil
}

// ListRoomHistory returns every message of the room ordered by id.
func (r *PostgresMessageRepo) ListRoomHistory(ctx context.Context, room string) ([]models.GroupMessage, error) {
	msgs := []models.GroupMessage{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, sender, room, body, sent_at FROM group_messages WHERE room=$1 ORDER BY id ASC`, room)
	if err != nil {
		return nil, &StorageError{Op: OpListRoom, Err: err}
	}
	return msgs, nil
}

// ListDirectHistory returns the conversation between userA and userB in either direction, ordered by id.
func (r *PostgresMessageRepo) ListDirectHistory(ctx context.Context, userA, userB string) ([]models.DirectMessage, error) {
	query := `SELECT id, sender, recipient, body, sent_at
        FROM direct_messages
        WHERE (sender=$1 AND recipient=$2) OR (sender=$2 AND recipient=$1)
        ORDER BY id ASC`
	msgs := []models.DirectMessage{}
	if err := r.db.SelectContext(ctx, &msgs, query, userA, userB); err != nil {
		return nil, &StorageError{Op: OpListDirect, Err: err}
	}
	return msgs, nil
}
