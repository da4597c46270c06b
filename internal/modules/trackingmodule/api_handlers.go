package trackingmodule

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/videoseg/masktrace/internal/segmentation"
)

// previewFrameLimit caps the frame preview payload
const previewFrameLimit = 20

// uploadFormField is the multipart field carrying the video
const uploadFormField = "video"

// abortWithError maps domain errors onto HTTP status codes. Unknown
// errors are treated as internal.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidUpload), errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrNotReady):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// handleUpload accepts a video file and creates a session for it
func (m *Module) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, m.maxUploadSize)

	file, err := c.FormFile(uploadFormField)
	if err != nil {
		abortWithError(c, fmt.Errorf("%w: missing %q file field", ErrInvalidUpload, uploadFormField))
		return
	}
	if file.Filename == "" {
		abortWithError(c, fmt.Errorf("%w: empty filename", ErrInvalidUpload))
		return
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	if !m.allowedExtensions[ext] {
		abortWithError(c, fmt.Errorf("%w: unsupported file type %q", ErrInvalidUpload, ext))
		return
	}

	session, err := m.registry.Create()
	if err != nil {
		abortWithError(c, err)
		return
	}

	storedName := time.Now().Format("20060102_150405") + "_" + sanitizeFilename(file.Filename)
	videoPath := filepath.Join(m.uploadDir, storedName)

	if err := c.SaveUploadedFile(file, videoPath); err != nil {
		m.cleaner.CleanupSession(session.ID())
		abortWithError(c, fmt.Errorf("failed to store upload: %w", err))
		return
	}

	if err := session.MarkUploaded(videoPath, file.Filename); err != nil {
		abortWithError(c, err)
		return
	}
	m.registry.persist(session.Snapshot())

	m.logger.Info("video uploaded",
		"session_id", session.ID(),
		"filename", file.Filename,
		"size", file.Size)

	c.JSON(http.StatusOK, UploadResponse{
		SessionID: session.ID(),
		Filename:  file.Filename,
		Message:   "video uploaded successfully",
	})
}

// handleExtract starts frame extraction in the background
func (m *Module) handleExtract(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	started, err := m.pipeline.StartExtraction(session)
	if err != nil {
		abortWithError(c, err)
		return
	}

	view := session.Snapshot()
	if !started {
		c.JSON(http.StatusOK, gin.H{
			"message": "extraction already " + progressWord(view.Status, StageFramesReady),
			"status":  view.Status,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "frame extraction started",
		"status":  view.Status,
	})
}

// handleFrames returns the bounded frame preview once frames exist
func (m *Module) handleFrames(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	session.Touch()

	view := session.Snapshot()
	if !view.Status.AtLeast(StageFramesReady) || view.Status == StageError {
		abortWithError(c, fmt.Errorf("%w: frames not ready, session is %s", ErrInvalidState, view.Status))
		return
	}

	limit := len(view.FrameList)
	if limit > previewFrameLimit {
		limit = previewFrameLimit
	}

	preview := make([]FramePreview, 0, limit)
	for i, name := range view.FrameList[:limit] {
		preview = append(preview, FramePreview{
			Index:    i,
			Filename: name,
			URL:      fmt.Sprintf("/api/tracking/sessions/%s/frames/%d", view.ID, i),
		})
	}

	c.JSON(http.StatusOK, FrameListResponse{
		TotalFrames:   view.FrameCount,
		PreviewFrames: preview,
		Status:        view.Status,
	})
}

// handleFrameImage serves one extracted frame
func (m *Module) handleFrameImage(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	view := session.Snapshot()
	if !view.Status.AtLeast(StageFramesReady) || view.Status == StageError {
		abortWithError(c, fmt.Errorf("%w: frames not ready, session is %s", ErrInvalidState, view.Status))
		return
	}

	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 || index >= len(view.FrameList) {
		abortWithError(c, fmt.Errorf("%w: frame index %q out of range", ErrInvalidInput, c.Param("index")))
		return
	}

	c.File(filepath.Join(view.FramesDir, view.FrameList[index]))
}

// handleSelectPoints stores the seed point set
func (m *Module) handleSelectPoints(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req SelectPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}

	if err := session.SelectPoints(req.Points); err != nil {
		abortWithError(c, err)
		return
	}
	m.registry.persist(session.Snapshot())

	c.JSON(http.StatusOK, SelectPointsResponse{
		Message: fmt.Sprintf("%d points selected", len(req.Points)),
		Points:  req.Points,
	})
}

// handleTrack starts mask propagation in the background
func (m *Module) handleTrack(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	var req StartTrackingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
			return
		}
	}
	if req.ModelSize == "" {
		req.ModelSize = m.defaultModel
	}

	started, err := m.pipeline.StartTracking(session, req.ModelSize)
	if err != nil {
		abortWithError(c, err)
		return
	}

	view := session.Snapshot()
	if !started {
		c.JSON(http.StatusOK, gin.H{
			"message": "tracking already " + progressWord(view.Status, StageCompleted),
			"status":  view.Status,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "tracking started",
		"status":     view.Status,
		"model_size": req.ModelSize,
	})
}

// handleStatus returns the polling snapshot
func (m *Module) handleStatus(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	session.Touch()

	c.JSON(http.StatusOK, statusResponseFrom(session.Snapshot()))
}

// handleDownload streams the result archive
func (m *Module) handleDownload(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	session.Touch()

	archivePath, err := m.packager.BuildArchive(session.Snapshot())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.FileAttachment(archivePath, filepath.Base(archivePath))
}

// handleCancel cancels the in-flight stage, if any
func (m *Module) handleCancel(c *gin.Context) {
	session, err := m.registry.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	cancelled := session.CancelInFlight()
	c.JSON(http.StatusOK, gin.H{
		"cancelled": cancelled,
		"status":    session.Snapshot().Status,
	})
}

// handleCleanup removes a session and its artifacts. Unknown ids are
// cleaned without complaint so retries and stale clients stay quiet.
func (m *Module) handleCleanup(c *gin.Context) {
	id := c.Param("id")
	if err := m.cleaner.CleanupSession(id); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "session cleaned up",
		"session_id": id,
	})
}

// handleListSessions returns a status snapshot of every live session
func (m *Module) handleListSessions(c *gin.Context) {
	views := m.registry.List()
	statuses := make([]StatusResponse, 0, len(views))
	for _, view := range views {
		statuses = append(statuses, statusResponseFrom(view))
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(statuses),
		"sessions": statuses,
	})
}

// handleListModels returns the supported model sizes
func (m *Module) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":  segmentation.ModelSizes(),
		"default": m.defaultModel,
	})
}

// progressWord describes an idempotent launch acknowledgement
func progressWord(status, done Stage) string {
	if status.AtLeast(done) {
		return "completed"
	}
	return "in progress"
}

// sanitizeFilename strips path components and shell-hostile characters
// from a client-supplied filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}
