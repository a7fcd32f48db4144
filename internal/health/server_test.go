package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/mailwatch/internal/model"
	mwsync "github.com/nhle/mailwatch/internal/sync"
)

type fixedLoop struct {
	status mwsync.Status
}

func (f fixedLoop) Status() mwsync.Status { return f.status }

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestHealth_ReportsTimeInDisplayZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	s := New(loc, "combined", nil, zaptest.NewLogger(t).Sugar())
	s.now = func() time.Time { return time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC) }

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "2024-01-15T09:00:00+09:00", body["time"])
	assert.Equal(t, "Asia/Tokyo", body["timezone"])
	assert.Equal(t, "combined", body["mode"])
}

func TestHealth_PanicReturns500(t *testing.T) {
	s := New(time.UTC, "server", nil, zaptest.NewLogger(t).Sugar())
	s.now = func() time.Time { panic("clock broke") }

	code, body := get(t, s, "/health")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "clock broke", body["error"])
}

func TestHealth_UnknownPath(t *testing.T) {
	s := New(time.UTC, "server", nil, zaptest.NewLogger(t).Sugar())
	code, _ := get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealth_ReportsResolvedZoneName(t *testing.T) {
	loc, ok := model.LoadLocation("Mars/Olympus")
	require.False(t, ok)

	s := New(loc, "server", nil, zaptest.NewLogger(t).Sugar())
	s.now = func() time.Time { return time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC) }

	_, body := get(t, s, "/health")
	assert.Equal(t, "UTC", body["timezone"])
	assert.Equal(t, "2024-01-15T08:00:00Z", body["time"])
	assert.NotContains(t, body, "worker")
}

func TestHealth_ReportsWorkerStatus(t *testing.T) {
	idle := New(time.UTC, "combined", fixedLoop{}, zaptest.NewLogger(t).Sugar())
	_, body := get(t, idle, "/health")
	assert.Equal(t, map[string]any{"state": "idle"}, body["worker"])

	loop := fixedLoop{status: mwsync.Status{
		State:   mwsync.LoopCycling,
		LastRun: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
		LastCycle: model.PollCycleResult{
			CycleID: "c-1", Found: 3, Delivered: 1, Skipped: 1, Failed: 1,
		},
	}}
	s := New(time.UTC, "combined", loop, zaptest.NewLogger(t).Sugar())

	_, body = get(t, s, "/health")
	worker, ok := body["worker"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "cycling", worker["state"])
	assert.Equal(t, "2024-01-15T08:00:00Z", worker["last_run"])
	assert.Equal(t, map[string]any{
		"id": "c-1", "found": float64(3), "delivered": float64(1),
		"skipped": float64(1), "failed": float64(1),
	}, worker["last_cycle"])
}
