package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	h := New("test")
	h.now = func() time.Time { return h.startTime.Add(90 * time.Second) }

	rec := serve(h, "/health/live")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
	assert.Equal(t, "test", resp.Environment)
	assert.Equal(t, int64(90), resp.UptimeSeconds)
}

func TestReadiness(t *testing.T) {
	h := New("test")
	h.RegisterCheck("database", func(context.Context) error { return nil })

	rec := serve(h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.RegisterCheck("kafka", func(context.Context) error { return errors.New("no brokers reachable") })
	rec = serve(h, "/health/ready")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "up", resp.Checks["database"])
	assert.Equal(t, "down: no brokers reachable", resp.Checks["kafka"])
}

func TestReadinessBoundsSlowChecks(t *testing.T) {
	h := New("test")
	h.checkTimeout = 20 * time.Millisecond
	h.RegisterCheck("redis", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	rec := serve(h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}
