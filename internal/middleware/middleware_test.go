package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medipredict-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRevocation struct {
	revoked bool
	err     error
}

func (s stubRevocation) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	return s.revoked, s.err
}

func newAuthEngine(manager *jwt.JWTManager, checker RevocationChecker, required bool) *gin.Engine {
	r := gin.New()
	r.GET("/who", AuthMiddleware(manager, checker, required), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("participant_id"))
	})
	return r
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	manager := jwt.NewJWTManager("test-secret-key-with-enough-length", "signaling", time.Minute)
	token, err := manager.GenerateAccessToken("pat1", "patient")
	require.NoError(t, err)

	t.Run("header token sets participant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(newAuthEngine(manager, nil, true), req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pat1", w.Body.String())
	})

	t.Run("query token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who?access_token="+token, nil)
		w := serve(newAuthEngine(manager, nil, true), req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "pat1", w.Body.String())
	})

	t.Run("missing token when required", func(t *testing.T) {
		w := serve(newAuthEngine(manager, nil, true), httptest.NewRequest(http.MethodGet, "/who", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("missing token when optional", func(t *testing.T) {
		w := serve(newAuthEngine(manager, nil, false), httptest.NewRequest(http.MethodGet, "/who", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("malformed header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Token "+token)
		w := serve(newAuthEngine(manager, nil, false), req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
	})

	t.Run("invalid token rejected even when optional", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		w := serve(newAuthEngine(manager, nil, false), req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("revoked token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(newAuthEngine(manager, stubRevocation{revoked: true}, true), req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "INVALID_TOKEN")
	})

	t.Run("revocation failure fails open", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := serve(newAuthEngine(manager, stubRevocation{err: errors.New("redis down")}, true), req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestInMemoryRateLimiter(t *testing.T) {
	limiter := NewInMemoryRateLimiter()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, remaining, _ := limiter.Check("ip:1", 3, time.Minute)
		assert.True(t, allowed)
		assert.Equal(t, 2-i, remaining)
	}

	allowed, remaining, resetAt := limiter.Check("ip:1", 3, time.Minute)
	assert.False(t, allowed)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, now.Add(time.Minute), resetAt)

	allowed, _, _ = limiter.Check("ip:2", 3, time.Minute)
	assert.True(t, allowed, "other identifiers have their own window")

	now = now.Add(time.Minute)
	allowed, remaining, _ = limiter.Check("ip:1", 3, time.Minute)
	assert.True(t, allowed, "window resets")
	assert.Equal(t, 2, remaining)
}

func TestRateLimiterMiddleware_NoRedis(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(nil, 2, time.Minute).Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := serve(r, req)
		codes = append(codes, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestCORSMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware([]string{"https://app.example.com"}))
	r.GET("/v1/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodOptions, "/v1/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	assert.Equal(t, http.StatusOK, w.Code, "non-browser clients send no origin")
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(), Recovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
	assert.Contains(t, w.Body.String(), "req-42")
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", HealthCheck("signaling-service",
		func() (string, bool) { return "redis", true },
		func() (string, bool) { return "cockroachdb", false },
	))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	assert.Contains(t, w.Body.String(), `"redis":"up"`)
}
