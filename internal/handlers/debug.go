package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"chat-relay/internal/repositories"
	"chat-relay/internal/telemetry"
)

var errSimulatedFailure = errors.New("simulated backend failure")

// RegisterDebugRoutes wires debug-only endpoints. POST /debug/storage-failure
// emits the audit record the relay would send for a failed store call, so
// audit consumers can be checked without breaking the database.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.POST("/debug/storage-failure", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}

		op := c.DefaultQuery("op", repositories.OpAppendGroup)
		if !lo.Contains(repositories.StorageOps, op) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown op", "ops": repositories.StorageOps})
			return
		}

		identity := identityFromContext(c)
		if identity == nil {
			if q := c.Query("identity"); q != "" {
				identity = &q
			}
		}

		failure := &repositories.StorageError{Op: op, Err: errSimulatedFailure}
		emitter.Emit(c.Request.Context(), "ERROR", failure.AuditText(), requestIDFromContext(c), identity)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "op": op, "text": failure.AuditText()})
	})
}
