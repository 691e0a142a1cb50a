package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "classifieds-messaging/backend/pkg/errors"
	"classifieds-messaging/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(token string) (string, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return "", errors.New("bad token")
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(logger.Middleware(logger.Nop()), apperrors.ErrorHandler())
	r.Use(handlers...)
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func TestJWTAuthMiddleware(t *testing.T) {
	r := newEngine(JWTAuthMiddleware(staticAuth{"good": "alice"}))

	cases := []struct {
		header string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer nope", http.StatusUnauthorized},
		{"Bearer good", http.StatusOK},
		{"bearer good", http.StatusOK},
		{"good", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, tc.status, w.Code, tc.header)
		if tc.status == http.StatusOK {
			assert.JSONEq(t, `{"user_id":"alice"}`, w.Body.String())
		} else {
			assert.Contains(t, w.Body.String(), `"unauthenticated"`)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(logger.Nop(), RateLimiterOptions{Limit: 0.001, Burst: 2})
	defer rl.Stop()
	r := newEngine(Metrics(), rl.Middleware())

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		codes[i] = w.Code
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
