package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashureev/shopilots-chat/internal/identity"
)

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestCORS(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		allowed     []string
		origin      string
		wantOrigin  string
		credentials bool
	}{
		"wildcard echoes origin": {[]string{"*"}, "https://shop.example", "https://shop.example", false},
		"explicit origin":        {[]string{"https://shop.example"}, "https://shop.example", "https://shop.example", true},
		"other origin":           {[]string{"https://shop.example"}, "https://evil.example", "", false},
		"no origin":              {[]string{"*"}, "", "", false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			rec := httptest.NewRecorder()
			CORS(tc.allowed)(noContent).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, tc.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tc.credentials, rec.Header().Get("Access-Control-Allow-Credentials") == "true")
			if tc.wantOrigin != "" {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), identity.SessionHeaderName)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	CORS([]string{"*"})(noContent).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterPerSession(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(1, 2)
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }
	h := identity.Middleware(l.Handler(noContent))

	do := func(session, ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = ip + ":1234"
		if session != "" {
			req.Header.Set(identity.SessionHeaderName, session)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, do("a", "10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, do("a", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("a", "10.0.0.1"))
	assert.Equal(t, http.StatusNoContent, do("b", "10.0.0.1"))

	assert.Equal(t, http.StatusNoContent, do("", "10.0.0.2"))
	assert.Equal(t, http.StatusNoContent, do("", "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, do("", "10.0.0.2"))
	assert.Equal(t, http.StatusNoContent, do("", "10.0.0.3"))

	clock = clock.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, do("a", "10.0.0.1"))
}

func TestRateLimiterEvict(t *testing.T) {
	t.Parallel()

	l := NewRateLimiter(1, 1)
	clock := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("old"))
	clock = clock.Add(5 * time.Minute)
	assert.True(t, l.Allow("fresh"))

	assert.Equal(t, 1, l.Evict(3*time.Minute))
	assert.True(t, l.Allow("old"), "evicted key starts with a full bucket")
	assert.False(t, l.Allow("fresh"))
}
