package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"chat-relay/internal/repositories"
)

// PresenceChecker reports whether an identity is currently reachable.
type PresenceChecker interface {
	Online(identity string) bool
}

// HistoryHandler serves stored history and presence over REST.
type HistoryHandler struct {
	store    repositories.MessageStore
	presence PresenceChecker
	log      zerolog.Logger
}

func NewHistoryHandler(store repositories.MessageStore, presence PresenceChecker, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:    store,
		presence: presence,
		log:      log.With().Str("component", "http").Logger(),
	}
}

// GetRoomMessages returns the full history of a room, oldest first.
func (h *HistoryHandler) GetRoomMessages(c *gin.Context) {
	room := c.Param("room")
	msgs, err := h.store.ListRoomHistory(c.Request.Context(), room)
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Str("request_id", requestIDFromContext(c)).Msg("room history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "messages": msgs})
}

// GetDirectMessages returns the conversation between the caller and peer.
func (h *HistoryHandler) GetDirectMessages(c *gin.Context) {
	caller := identityFromContext(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	peer := c.Param("peer")
	msgs, err := h.store.ListDirectHistory(c.Request.Context(), *caller, peer)
	if err != nil {
		h.log.Error().Err(err).Str("identity", *caller).Str("peer", peer).Str("request_id", requestIDFromContext(c)).Msg("direct history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peer": peer, "messages": msgs})
}

func (h *HistoryHandler) GetPresence(c *gin.Context) {
	identity := c.Param("identity")
	c.JSON(http.StatusOK, gin.H{"identity": identity, "online": h.presence.Online(identity)})
}
