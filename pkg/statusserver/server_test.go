package statusserver

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryagent/internal/store"
	"treasuryagent/pkg/scheduler"
)

func nowForTest() int64 { return time.Now().Unix() }

func newTestServer(t *testing.T, token string, status scheduler.Status) (*Server, *scheduler.OperatorState) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	op := scheduler.NewOperatorState()
	srv := New(token, 60, func() scheduler.Status { return status }, op, s)
	return srv, op
}

func TestHealthzHealthyWhenStarting(t *testing.T) {
	srv, _ := newTestServer(t, "", scheduler.Status{StartedAt: nowForTest()})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthzUnhealthyWhenNeverStartedAndStale(t *testing.T) {
	srv, _ := newTestServer(t, "", scheduler.Status{StartedAt: 0})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyzNotReadyBeforeFirstSuccess(t *testing.T) {
	srv, _ := newTestServer(t, "", scheduler.Status{StartedAt: nowForTest(), TotalTicks: 1, LastTickFinishedAt: nowForTest()})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestReadyzReadyAfterSuccess(t *testing.T) {
	srv, _ := newTestServer(t, "", scheduler.Status{StartedAt: nowForTest(), TotalTicks: 1, SuccessfulTicks: 1, LastSuccessfulTickAt: nowForTest()})
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStateRequiresTokenWhenConfigured(t *testing.T) {
	srv, _ := newTestServer(t, "secret", scheduler.Status{})
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStateAcceptsTokenViaHeader(t *testing.T) {
	srv, _ := newTestServer(t, "secret", scheduler.Status{})
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("X-Bot-Status-Token", "secret")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestStateAcceptsTokenViaQueryParam(t *testing.T) {
	srv, _ := newTestServer(t, "secret", scheduler.Status{})
	req := httptest.NewRequest(http.MethodGet, "/state?token=secret", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestControlsRotateRejectsMissingPoolID(t *testing.T) {
	srv, _ := newTestServer(t, "", scheduler.Status{})
	req := httptest.NewRequest(http.MethodPost, "/controls/rotate", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestControlsRotateEnqueuesPendingAction(t *testing.T) {
	srv, op := newTestServer(t, "", scheduler.Status{})
	req := httptest.NewRequest(http.MethodPost, "/controls/rotate", strings.NewReader(`{"poolId":"A"}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	action, poolID := op.ConsumePendingAction()
	require.NotNil(t, action)
	assert.Equal(t, "rotate", *action)
	require.NotNil(t, poolID)
	assert.Equal(t, "A", *poolID)
}

func TestControlsPauseThenResume(t *testing.T) {
	srv, op := newTestServer(t, "", scheduler.Status{})

	w1 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w1, httptest.NewRequest(http.MethodPost, "/controls/pause", nil))
	assert.Equal(t, http.StatusOK, w1.Code)
	assert.True(t, op.IsPaused())

	w2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(w2, httptest.NewRequest(http.MethodPost, "/controls/resume", nil))
	assert.Equal(t, http.StatusOK, w2.Code)
	assert.False(t, op.IsPaused())
}

func TestMetricsEndpointHasNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, "secret", scheduler.Status{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
