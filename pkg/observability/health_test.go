package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker("1.2.3")
	checker.AddCheck("broken", true, func(context.Context) error { return errors.New("down") })

	rr := httptest.NewRecorder()
	checker.Liveness(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body["status"])
	assert.Equal(t, "1.2.3", body["version"])
}

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name     string
		setup    func(h *HealthChecker)
		expected string
	}{
		{
			name:     "no checks",
			setup:    func(*HealthChecker) {},
			expected: StatusHealthy,
		},
		{
			name: "all healthy",
			setup: func(h *HealthChecker) {
				h.AddCheck("out-dir", true, ok)
				h.AddCheck("mirror", false, ok)
			},
			expected: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			setup: func(h *HealthChecker) {
				h.AddCheck("out-dir", true, ok)
				h.AddCheck("mirror", false, fail)
			},
			expected: StatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddCheck("mirror", false, fail)
				h.AddCheck("out-dir", true, fail)
			},
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test")
			tt.setup(h)
			status := h.Check(context.Background())
			assert.Equal(t, tt.expected, status.Status)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestHealthChecker_Readiness(t *testing.T) {
	t.Run("unhealthy returns 503", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.AddCheck("out-dir", true, func(context.Context) error { return errors.New("read-only") })

		rr := httptest.NewRecorder()
		h.Readiness(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		var status HealthStatus
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
		assert.Equal(t, StatusUnhealthy, status.Status)
		assert.Equal(t, "read-only", status.Dependencies["out-dir"].Message)
	})

	t.Run("degraded returns 200", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.AddCheck("mirror", false, func(context.Context) error { return errors.New("slow") })

		rr := httptest.NewRecorder()
		h.Readiness(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestHealthChecker_AddRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := NewHealthChecker("test")
	h.AddRedis("redis", client)

	status := h.Check(context.Background())
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, StatusHealthy, status.Dependencies["redis"].Status)

	mr.Close()
	status = h.Check(context.Background())
	assert.Equal(t, StatusDegraded, status.Status)
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
}
