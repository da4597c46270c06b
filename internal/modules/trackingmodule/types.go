package trackingmodule

import (
	"errors"
	"time"
)

// Stage is one phase of the tracking pipeline. A session only ever
// moves forward along the stage graph, or into StageError.
type Stage string

const (
	StageInitialized    Stage = "initialized"
	StageUploaded       Stage = "uploaded"
	StageExtracting     Stage = "extracting"
	StageFramesReady    Stage = "frames_ready"
	StagePointsSelected Stage = "points_selected"
	StageTracking       Stage = "tracking"
	StageCompleted      Stage = "completed"
	StageError          Stage = "error"
)

// stageOrder defines forward progress through the pipeline; StageError
// is absorbing and sits outside the ordering.
var stageOrder = map[Stage]int{
	StageInitialized:    0,
	StageUploaded:       1,
	StageExtracting:     2,
	StageFramesReady:    3,
	StagePointsSelected: 4,
	StageTracking:       5,
	StageCompleted:      6,
}

// Terminal reports whether no further stage can run
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageError
}

// AtLeast reports whether the stage is at or past other on the graph
func (s Stage) AtLeast(other Stage) bool {
	a, okA := stageOrder[s]
	b, okB := stageOrder[other]
	return okA && okB && a >= b
}

// Domain error taxonomy. Synchronous validation failures surface
// directly to the caller; background failures are captured on the
// session and only observable through status polling.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidUpload   = errors.New("invalid upload")
	ErrInvalidState    = errors.New("operation not permitted in current session state")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotReady        = errors.New("session results not ready")
	ErrCancelled       = errors.New("stage cancelled")
)

// Point is one client-supplied seed coordinate with its include (1)
// or exclude (0) label
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Label int     `json:"label"`
}

// TrackingSummary is the analysis produced by propagation
type TrackingSummary struct {
	TotalFrames     int                     `json:"total_frames"`
	ProcessedFrames int                     `json:"processed_frames"`
	ObjectsDetected map[int]int             `json:"objects_detected"`
	MaskCoverage    map[int]map[int]float64 `json:"mask_coverage"`
	ProcessingTime  string                  `json:"processing_time"`
	FramesPerSecond float64                 `json:"frames_per_second"`
	ModelSize       string                  `json:"model_size"`
	Engine          string                  `json:"engine,omitempty"`
}

// SessionView is a consistent read-only snapshot of a session, safe to
// hand to HTTP handlers and the packager while background stages keep
// mutating the live record.
type SessionView struct {
	ID         string           `json:"session_id"`
	Status     Stage            `json:"status"`
	Progress   int              `json:"progress"`
	Message    string           `json:"message"`
	Filename   string           `json:"filename,omitempty"`
	VideoPath  string           `json:"-"`
	SessionDir string           `json:"-"`
	FramesDir  string           `json:"-"`
	ResultDir  string           `json:"-"`
	FrameCount int              `json:"frame_count"`
	FrameList  []string         `json:"-"`
	Points     []Point          `json:"-"`
	ModelSize  string           `json:"model_size,omitempty"`
	Summary    *TrackingSummary `json:"tracking_results,omitempty"`
	Error      string           `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	LastAccess time.Time        `json:"-"`
	Running    bool             `json:"-"`
}

// API request/response types

// UploadResponse acknowledges an accepted video
type UploadResponse struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Message   string `json:"message"`
}

// SelectPointsRequest is the canonical point-selection payload. The
// legacy list-of-pairs shape is intentionally rejected.
type SelectPointsRequest struct {
	Points []Point `json:"points" binding:"required"`
}

// SelectPointsResponse echoes the stored points
type SelectPointsResponse struct {
	Message string  `json:"message"`
	Points  []Point `json:"points"`
}

// StartTrackingRequest selects the model used for tracking
type StartTrackingRequest struct {
	ModelSize string `json:"model_size"`
}

// FramePreview references one extracted frame
type FramePreview struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// FrameListResponse is the bounded frame preview
type FrameListResponse struct {
	TotalFrames   int            `json:"total_frames"`
	PreviewFrames []FramePreview `json:"preview_frames"`
	Status        Stage          `json:"status"`
}

// StatusResponse is the polling payload
type StatusResponse struct {
	SessionID       string           `json:"session_id"`
	Status          Stage            `json:"status"`
	Progress        int              `json:"progress"`
	Message         string           `json:"message"`
	FrameCount      int              `json:"frame_count"`
	Error           string           `json:"error,omitempty"`
	TrackingResults *TrackingSummary `json:"tracking_results,omitempty"`
}

// statusResponseFrom builds the polling payload from a snapshot
func statusResponseFrom(view SessionView) StatusResponse {
	return StatusResponse{
		SessionID:       view.ID,
		Status:          view.Status,
		Progress:        view.Progress,
		Message:         view.Message,
		FrameCount:      view.FrameCount,
		Error:           view.Error,
		TrackingResults: view.Summary,
	}
}
