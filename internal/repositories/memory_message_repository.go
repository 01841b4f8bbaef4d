package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"chat-relay/internal/models"
)

// MemoryMessageRepo keeps messages in process memory. Nothing survives a restart.
type MemoryMessageRepo struct {
	mu     sync.RWMutex
	seq    int64
	groups []models.GroupMessage
	direct []models.DirectMessage
	now    func() time.Time
}

// NewMemoryMessageRepo creates an empty in-memory store.
func NewMemoryMessageRepo() *MemoryMessageRepo {
	return &MemoryMessageRepo{now: func() time.Time { return time.Now().UTC() }}
}

func (r *MemoryMessageRepo) AppendGroupMessage(_ context.Context, sender, room, body string) (models.GroupMessage, error) {
	if err := validateGroup(sender, room, body); err != nil {
		return models.GroupMessage{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := models.GroupMessage{ID: r.seq, Sender: sender, Room: room, Body: body, SentAt: r.now()}
	r.groups = append(r.groups, msg)
	return msg, nil
}

func (r *MemoryMessageRepo) AppendDirectMessage(_ context.Context, sender, recipient, body string) (models.DirectMessage, error) {
	if err := validateDirect(sender, recipient, body); err != nil {
		return models.DirectMessage{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	msg := models.DirectMessage{ID: r.seq, Sender: sender, Recipient: recipient, Body: body, SentAt: r.now()}
	r.direct = append(r.direct, msg)
	return msg, nil
}

func (r *MemoryMessageRepo) ListRoomHistory(_ context.Context, room string) ([]models.GroupMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.groups, func(m models.GroupMessage, _ int) bool {
		return m.Room == room
	}), nil
}

func (r *MemoryMessageRepo) ListDirectHistory(_ context.Context, userA, userB string) ([]models.DirectMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(r.direct, func(m models.DirectMessage, _ int) bool {
		return m.Involves(userA, userB)
	}), nil
}
