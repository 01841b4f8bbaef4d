package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/identity"
)

const (
	IdentityKey = "identity"

	// IdentityHeader names the caller when the provider verifies nothing.
	IdentityHeader = "X-Identity"
)

// TokenFromRequest reads a bearer token from the Authorization header and
// falls back to the token query parameter, which browsers need for websockets.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware resolves the caller identity with provider and stores it
// under IdentityKey.
func AuthMiddleware(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		verified, err := provider.Verify(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if verified == "" {
			verified = strings.TrimSpace(c.GetHeader(IdentityHeader))
		}
		if verified == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
			return
		}

		c.Set(IdentityKey, verified)
		c.Next()
	}
}
