package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-relay/internal/models"
	"chat-relay/internal/repositories"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) AppendGroupMessage(ctx context.Context, sender, room, body string) (models.GroupMessage, error) {
	args := m.Called(ctx, sender, room, body)
	var msg models.GroupMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.GroupMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) AppendDirectMessage(ctx context.Context, sender, recipient, body string) (models.DirectMessage, error) {
	args := m.Called(ctx, sender, recipient, body)
	var msg models.DirectMessage
	if val := args.Get(0); val != nil {
		msg = val.(models.DirectMessage)
	}
	return msg, args.Error(1)
}

func (m *MessageStoreMock) ListRoomHistory(ctx context.Context, room string) ([]models.GroupMessage, error) {
	args := m.Called(ctx, room)
	var msgs []models.GroupMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.GroupMessage)
	}
	return msgs, args.Error(1)
}

func (m *MessageStoreMock) ListDirectHistory(ctx context.Context, userA, userB string) ([]models.DirectMessage, error) {
	args := m.Called(ctx, userA, userB)
	var msgs []models.DirectMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.DirectMessage)
	}
	return msgs, args.Error(1)
}

type IdentityProviderMock struct {
	mock.Mock
}

func (m *IdentityProviderMock) Verify(ctx context.Context, token string) (string, error) {
	args := m.Called(ctx, token)
	return args.String(0), args.Error(1)
}

var _ repositories.MessageStore = (*MessageStoreMock)(nil)
