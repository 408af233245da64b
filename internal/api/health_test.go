package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthOf(t *testing.T, checks map[string]Pinger) (int, map[string]interface{}) {
	t.Helper()
	r := chi.NewRouter()
	NewHealthHandler(checks).RegisterHealth(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHealthOK(t *testing.T) {
	t.Parallel()

	ok := pingFunc(func(context.Context) error { return nil })
	code, body := healthOf(t, map[string]Pinger{"archive": ok, "redis": nil})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, ServiceName, body["service"])
	assert.Equal(t, map[string]interface{}{"api": "ok", "archive": "ok"}, body["checks"])
}

func TestHealthDegraded(t *testing.T) {
	t.Parallel()

	down := pingFunc(func(context.Context) error { return errors.New("database is closed") })
	code, body := healthOf(t, map[string]Pinger{"archive": down})

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "unreachable", body["checks"].(map[string]interface{})["archive"])
}
