package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"chat-relay/internal/models"
)

const (
	sequenceKey       = "seq:messages"
	sequenceBandwidth = 128
)

// BadgerMessageRepo is an embedded MessageStore backed by BadgerDB.
//
// Keys are formatted as "grp:{hex(room)}:{seq}" and "dm:{hex(low)}:{hex(high)}:{seq}"
// where seq is zero padded to 20 digits, so a forward prefix scan yields
// insertion order. Hex encoding keeps user supplied names from colliding with
// the ':' separator.
type BadgerMessageRepo struct {
	db  *badger.DB
	seq *badger.Sequence
	log zerolog.Logger

	// appendMu makes commit order match sequence order.
	appendMu sync.Mutex
}

// NewBadgerMessageRepo leases a message sequence from db.
func NewBadgerMessageRepo(db *badger.DB, log zerolog.Logger) (*BadgerMessageRepo, error) {
	seq, err := db.GetSequence([]byte(sequenceKey), sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("lease message sequence: %w", err)
	}
	return &BadgerMessageRepo{db: db, seq: seq, log: log.With().Str("component", "badger_store").Logger()}, nil
}

// Close returns unused sequence numbers to the database.
func (r *BadgerMessageRepo) Close() error {
	return r.seq.Release()
}

func roomPrefix(room string) string {
	return fmt.Sprintf("grp:%x:", room)
}

func pairPrefix(a, b string) string {
	low, high := pairKey(a, b)
	return fmt.Sprintf("dm:%x:%x:", low, high)
}

// AppendGroupMessage persists a room message.
func (r *BadgerMessageRepo) AppendGroupMessage(ctx context.Context, sender, room, body string) (models.GroupMessage, error) {
	if err := validateGroup(sender, room, body); err != nil {
		return models.GroupMessage{}, err
	}
	msg := models.GroupMessage{Sender: sender, Room: room, Body: body}
	err := r.appendRecord(ctx, roomPrefix(room), func(id int64, at time.Time) any {
		msg.ID, msg.SentAt = id, at
		return msg
	})
	if err != nil {
		return models.GroupMessage{}, &StorageError{Op: OpAppendGroup, Err: err}
	}
	return msg, nil
}

// AppendDirectMessage persists a direct message under the unordered pair key.
func (r *BadgerMessageRepo) AppendDirectMessage(ctx context.Context, sender, recipient, body string) (models.DirectMessage, error) {
	if err := validateDirect(sender, recipient, body); err != nil {
		return models.DirectMessage{}, err
	}
	msg := models.DirectMessage{Sender: sender, Recipient: recipient, Body: body}
	err := r.appendRecord(ctx, pairPrefix(sender, recipient), func(id int64, at time.Time) any {
		msg.ID, msg.SentAt = id, at
		return msg
	})
	if err != nil {
		return models.DirectMessage{}, &StorageError{Op: OpAppendDirect, Err: err}
	}
	return msg, nil
}

func (r *BadgerMessageRepo) appendRecord(ctx context.Context, prefix string, build func(id int64, at time.Time) any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.appendMu.Lock()
	defer r.appendMu.Unlock()

	next, err := r.seq.Next()
	if err != nil {
		return err
	}
	id := int64(next) + 1
	value, err := json.Marshal(build(id, time.Now().UTC()))
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d", prefix, id)
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// ListRoomHistory scans the room prefix in key order.
func (r *BadgerMessageRepo) ListRoomHistory(ctx context.Context, room string) ([]models.GroupMessage, error) {
	msgs := []models.GroupMessage{}
	err := r.scan(ctx, roomPrefix(room), func(value []byte) error {
		var msg models.GroupMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: OpListRoom, Err: err}
	}
	return msgs, nil
}

// ListDirectHistory scans the pair prefix in key order.
func (r *BadgerMessageRepo) ListDirectHistory(ctx context.Context, userA, userB string) ([]models.DirectMessage, error) {
	msgs := []models.DirectMessage{}
	err := r.scan(ctx, pairPrefix(userA, userB), func(value []byte) error {
		var msg models.DirectMessage
		if err := json.Unmarshal(value, &msg); err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: OpListDirect, Err: err}
	}
	return msgs, nil
}

func (r *BadgerMessageRepo) scan(ctx context.Context, prefix string, fn func(value []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		count := 0
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return err
			}
			count++
		}
		r.log.Debug().Str("prefix", prefix).Int("count", count).Msg("history scanned")
		return nil
	})
}
