package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"chat-relay/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

// publishLifecycle emits a ws_events envelope for one connection.
func publishLifecycle(ctx context.Context, info ConnInfo, identity, event, reason string) {
	observability.IncWSEvent(event)
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"identity": identity,
			"ip":       info.IP,
		},
	}
	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, observability.RoutingConnections, observability.NewEnvelope("ws_events", event, payload), headers)
}

// classifyReadError returns a close reason and whether the error was unexpected.
func classifyReadError(err error) (string, bool) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return "message too large", true
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return "client closed", false
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return "connection closed", false
	case websocket.IsCloseError(err, websocket.CloseAbnormalClosure):
		return "abnormal closure", false
	default:
		return err.Error(), true
	}
}

// originChecker allows every origin when allowed is empty or contains "*".
// Otherwise the request Origin must match one entry by scheme and host.
func originChecker(allowed []string, log zerolog.Logger) func(r *http.Request) bool {
	normalized := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, origin := range allowed {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		n, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warn().Str("origin", origin).Msg("ignoring invalid allowed origin")
			continue
		}
		normalized[n] = struct{}{}
	}
	if allowAll {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		n, ok := normalizeOrigin(r.Header.Get("Origin"))
		if !ok {
			return false
		}
		return lo.HasKey(normalized, n)
	}
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
