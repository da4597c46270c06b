package trackingmodule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, h *testHarness) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.module.RegisterRoutes(router)
	return router
}

func multipartVideo(t *testing.T, field, filename string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake video bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doJSON(router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewBuffer(data)
	} else {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestUploadHandler(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	body, contentType := multipartVideo(t, uploadFormField, "holiday.mp4")
	req := httptest.NewRequest(http.MethodPost, "/api/tracking/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "holiday.mp4", resp.Filename)

	session, err := h.registry.Get(resp.SessionID)
	require.NoError(t, err)
	view := session.Snapshot()
	assert.Equal(t, StageUploaded, view.Status)
	assert.FileExists(t, view.VideoPath)
}

func TestUploadRejectsMissingFile(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	body, contentType := multipartVideo(t, "wrong_field", "clip.mp4")
	req := httptest.NewRequest(http.MethodPost, "/api/tracking/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, h.registry.Count())
}

func TestUploadRejectsUnsupportedExtension(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	for _, filename := range []string{"document.pdf", "archive.zip", "noextension"} {
		body, contentType := multipartVideo(t, uploadFormField, filename)
		req := httptest.NewRequest(http.MethodPost, "/api/tracking/upload", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code, filename)
	}
	assert.Zero(t, h.registry.Count())
}

func TestUnknownSessionIs404(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/tracking/sessions/missing/status"},
		{http.MethodGet, "/api/tracking/sessions/missing/frames"},
		{http.MethodPost, "/api/tracking/sessions/missing/extract"},
		{http.MethodPost, "/api/tracking/sessions/missing/track"},
		{http.MethodGet, "/api/tracking/sessions/missing/download"},
		{http.MethodDelete, "/api/tracking/sessions/missing/task"},
	}
	for _, p := range paths {
		w := doJSON(router, p.method, p.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", p.method, p.path)
	}
}

func TestFramesBeforeReadyIsConflict(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.uploadedSession(t)

	w := doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/frames", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestExtractThenFrames(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 25})
	router := newTestRouter(t, h)
	session := h.uploadedSession(t)

	w := doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/extract", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	waitForStage(t, session, StageFramesReady)

	// Re-triggering a finished stage is acknowledged, not restarted
	w = doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/extract", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/frames", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp FrameListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 25, resp.TotalFrames)
	assert.Len(t, resp.PreviewFrames, previewFrameLimit)
	assert.Equal(t, "00000.jpg", resp.PreviewFrames[0].Filename)
	assert.Contains(t, resp.PreviewFrames[0].URL, session.ID())
}

func TestExtractAfterPointsSelectedIsConflict(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 1, Y: 1, Label: 1}}))

	w := doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/extract", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	completed := h.completedSession(t)
	w = doJSON(router, http.MethodPost, "/api/tracking/sessions/"+completed.ID()+"/extract", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestFrameImageHandler(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 3})
	router := newTestRouter(t, h)
	session := h.readySession(t)

	w := doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/frames/1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "frame", w.Body.String())

	for _, index := range []string{"99", "-1", "abc"} {
		w = doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/frames/"+index, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, index)
	}
}

func TestSelectPointsHandler(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)
	url := "/api/tracking/sessions/" + session.ID() + "/points"

	w := doJSON(router, http.MethodPost, url, SelectPointsRequest{
		Points: []Point{{X: 10, Y: 20, Label: 1}, {X: 30, Y: 40, Label: 0}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	view := session.Snapshot()
	assert.Equal(t, StagePointsSelected, view.Status)
	assert.Len(t, view.Points, 2)
}

func TestSelectPointsRejectsEmptySet(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)
	url := "/api/tracking/sessions/" + session.ID() + "/points"

	w := doJSON(router, http.MethodPost, url, map[string]interface{}{"points": []Point{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The failed selection leaves the session untouched
	assert.Equal(t, StageFramesReady, session.Snapshot().Status)
}

func TestSelectPointsRejectsLegacyPairShape(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)
	url := "/api/tracking/sessions/" + session.ID() + "/points"

	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader(`{"points": [[10, 20], [30, 40]]}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, StageFramesReady, session.Snapshot().Status)
}

func TestTrackBeforePointsIsConflict(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)

	w := doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/track", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrackRejectsUnknownModel(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 1, Y: 1, Label: 1}}))

	w := doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/track",
		StartTrackingRequest{ModelSize: "colossal"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrackAndStatusFlow(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 5})
	router := newTestRouter(t, h)
	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 100, Y: 100, Label: 1}}))

	w := doJSON(router, http.MethodPost, "/api/tracking/sessions/"+session.ID()+"/track", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	waitForStage(t, session, StageCompleted)

	w = doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, StageCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 5, status.FrameCount)
	require.NotNil(t, status.TrackingResults)
	assert.Equal(t, "tiny", status.TrackingResults.ModelSize)
}

func TestDownloadBeforeCompletionIsConflict(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.readySession(t)

	w := doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/download", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDownloadCompletedSession(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.completedSession(t)

	w := doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/download", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "tracking_results_")
	// Zip magic bytes
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))
}

func TestCancelHandler(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 3, delay: 10 * time.Second})
	router := newTestRouter(t, h)
	session := h.uploadedSession(t)

	// Nothing running yet
	w := doJSON(router, http.MethodDelete, "/api/tracking/sessions/"+session.ID()+"/task", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":false`)

	_, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)

	w = doJSON(router, http.MethodDelete, "/api/tracking/sessions/"+session.ID()+"/task", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"cancelled":true`)

	view := waitForError(t, session)
	assert.Contains(t, view.Error, ErrCancelled.Error())
}

func TestCleanupHandler(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	session := h.completedSession(t)

	w := doJSON(router, http.MethodDelete, "/api/tracking/sessions/"+session.ID(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodGet, "/api/tracking/sessions/"+session.ID()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Cleanup of an unknown session stays quiet
	w = doJSON(router, http.MethodDelete, "/api/tracking/sessions/"+session.ID(), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListSessionsHandler(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)
	h.uploadedSession(t)
	h.uploadedSession(t)

	w := doJSON(router, http.MethodGet, "/api/tracking/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count    int              `json:"count"`
		Sessions []StatusResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Sessions, 2)
}

func TestListModelsHandler(t *testing.T) {
	h := newTestHarness(t, nil)
	router := newTestRouter(t, h)

	w := doJSON(router, http.MethodGet, "/api/tracking/models", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Models  []string `json:"models"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Models, "tiny")
	assert.Contains(t, resp.Models, "large")
	assert.Equal(t, "tiny", resp.Default)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"holiday.mp4", "holiday.mp4"},
		{"../../etc/passwd", "passwd"},
		{"my video (1).mp4", "my_video__1_.mp4"},
		{"", "upload"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), fmt.Sprintf("input %q", tt.in))
	}
}
