package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoseg/masktrace/internal/config"
	"github.com/videoseg/masktrace/internal/modules/modulemanager"
)

var setupOnce sync.Once

// testRouter loads modules once against a scratch data directory and
// builds the full router.
func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	setupOnce.Do(func() {
		dir, err := os.MkdirTemp("", "masktrace-test-")
		require.NoError(t, err)
		os.Setenv("MASKTRACE_DATA_DIR", dir)
		require.NoError(t, config.Load(""))
		require.NoError(t, modulemanager.LoadAll(nil))
	})

	return SetupRouter(config.Get())
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestSystemStatusEndpoint(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "goroutines")
	assert.Contains(t, w.Body.String(), "go_version")
}

func TestModulesEndpoint(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system/modules", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "system.tracking")
}

func TestTrackingRoutesRegistered(t *testing.T) {
	router := testRouter(t)

	// An empty upload hits the tracking handler, not a 404
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tracking/upload", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSHeaders(t *testing.T) {
	router := testRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/health", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
