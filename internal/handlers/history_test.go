package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-relay/internal/identity"
	"chat-relay/internal/middleware"
	"chat-relay/internal/mocks"
	"chat-relay/internal/models"
	"chat-relay/internal/telemetry"
)

type onlineSet map[string]bool

func (s onlineSet) Online(identity string) bool { return s[identity] }

func setupHistoryRouter(handler *HistoryHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/rooms/:room/messages", handler.GetRoomMessages)
	r.GET("/direct/:peer/messages", middleware.AuthMiddleware(identity.None{}), handler.GetDirectMessages)
	r.GET("/presence/:identity", handler.GetPresence)
	return r
}

func TestGetRoomMessagesSuccess(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupHistoryRouter(NewHistoryHandler(store, onlineSet{}, zerolog.Nop()))

	sentAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.On("ListRoomHistory", mock.Anything, "general").
		Return([]models.GroupMessage{{ID: 1, Sender: "bob", Room: "general", Body: "hi", SentAt: sentAt}}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/general/messages", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Room     string                `json:"room"`
		Messages []models.GroupMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "general", resp.Room)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "hi", resp.Messages[0].Body)
	store.AssertExpectations(t)
}

func TestGetRoomMessagesStoreError(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupHistoryRouter(NewHistoryHandler(store, onlineSet{}, zerolog.Nop()))

	store.On("ListRoomHistory", mock.Anything, "general").Return(nil, assert.AnError).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rooms/general/messages", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	store.AssertExpectations(t)
}

func TestGetDirectMessagesUsesCallerIdentity(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupHistoryRouter(NewHistoryHandler(store, onlineSet{}, zerolog.Nop()))

	store.On("ListDirectHistory", mock.Anything, "carol", "alice").
		Return([]models.DirectMessage{{ID: 4, Sender: "alice", Recipient: "carol", Body: "ping"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/direct/alice/messages", nil)
	req.Header.Set(middleware.IdentityHeader, "carol")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp["peer"])
	assert.Len(t, resp["messages"], 1)
	store.AssertExpectations(t)
}

func TestGetDirectMessagesRequiresIdentity(t *testing.T) {
	store := new(mocks.MessageStoreMock)
	router := setupHistoryRouter(NewHistoryHandler(store, onlineSet{}, zerolog.Nop()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/direct/alice/messages", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	store.AssertNotCalled(t, "ListDirectHistory", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetPresence(t *testing.T) {
	router := setupHistoryRouter(NewHistoryHandler(new(mocks.MessageStoreMock), onlineSet{"alice": true}, zerolog.Nop()))

	for identity, want := range map[string]bool{"alice": true, "carol": false} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/presence/"+identity, nil))

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Identity string `json:"identity"`
			Online   bool   `json:"online"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, identity, resp.Identity)
		assert.Equal(t, want, resp.Online)
	}
}

func TestDebugStorageFailureRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	emitter := telemetry.NewAuditEmitter(publisher, "audit.chat", "chat-relay", "test", zerolog.Nop())
	publisher.On("Publish", mock.Anything, "audit.chat",
		mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
			return env.Payload.Level == "ERROR" &&
				env.Payload.Text == "list direct history failed: storage list direct history: simulated backend failure" &&
				env.RequestID == "req-9" &&
				env.Identity != nil && *env.Identity == "alice"
		}), map[string]string{"x-request-id": "req-9"}).
		Return(nil).Once()

	router := gin.New()
	RegisterDebugRoutes(router, emitter, true)

	req := httptest.NewRequest(http.MethodPost, "/debug/storage-failure?op=list+direct+history&identity=alice", nil)
	req.Header.Set("X-Request-Id", "req-9")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Op string `json:"op"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "list direct history", resp.Op)
	publisher.AssertExpectations(t)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/storage-failure?op=drop+tables", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	publisher.AssertNumberOfCalls(t, "Publish", 1)

	disabled := gin.New()
	RegisterDebugRoutes(disabled, emitter, false)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug/storage-failure", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
