package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"chat-relay/internal/identity"
	"chat-relay/internal/mocks"
)

func newRouter(provider identity.Provider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(provider), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(IdentityKey))
	})
	return r
}

func TestAuthMiddlewareUsesVerifiedIdentity(t *testing.T) {
	provider := new(mocks.IdentityProviderMock)
	provider.On("Verify", mock.Anything, "tok").Return("alice", nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.Header.Set(IdentityHeader, "mallory")
	w := httptest.NewRecorder()
	newRouter(provider).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
	provider.AssertExpectations(t)
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	provider := new(mocks.IdentityProviderMock)
	provider.On("Verify", mock.Anything, "bad").Return("", errors.New("nope"))

	req := httptest.NewRequest(http.MethodGet, "/whoami?token=bad", nil)
	w := httptest.NewRecorder()
	newRouter(provider).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareFallsBackToHeaderWithoutVerification(t *testing.T) {
	router := newRouter(identity.None{})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(IdentityHeader, "bob")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=query", nil)
	assert.Equal(t, "query", TokenFromRequest(req))

	req.Header.Set("Authorization", "bearer header")
	assert.Equal(t, "header", TokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, TokenFromRequest(req))
}
