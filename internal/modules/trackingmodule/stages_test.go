package trackingmodule

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractionStage(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 7})
	session := h.uploadedSession(t)

	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)

	waitForStage(t, session, StageFramesReady)

	view := session.Snapshot()
	assert.Equal(t, 7, view.FrameCount)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, "00000.jpg", view.FrameList[0])
	assert.Equal(t, "00006.jpg", view.FrameList[6])
	assert.DirExists(t, view.FramesDir)
}

func TestExtractionRequiresUpload(t *testing.T) {
	h := newTestHarness(t, nil)
	session, err := h.registry.Create()
	require.NoError(t, err)

	started, err := h.pipeline.StartExtraction(session)
	assert.False(t, started)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExtractionFailureMovesSessionToError(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{err: errors.New("corrupt container")})
	session := h.uploadedSession(t)

	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)

	view := waitForError(t, session)
	assert.Contains(t, view.Error, "corrupt container")
}

func TestExtractionWithZeroFramesFails(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 0})
	session := h.uploadedSession(t)

	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)

	view := waitForError(t, session)
	assert.Contains(t, view.Error, "no frames")
}

func TestTrackingStage(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 10})
	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 200, Y: 150, Label: 1}}))

	started, err := h.pipeline.StartTracking(session, "small")
	require.NoError(t, err)
	require.True(t, started)

	waitForStage(t, session, StageCompleted)

	view := session.Snapshot()
	require.NotNil(t, view.Summary)
	assert.Equal(t, 10, view.Summary.TotalFrames)
	assert.Equal(t, 10, view.Summary.ProcessedFrames)
	assert.Equal(t, "small", view.Summary.ModelSize)
	assert.Equal(t, "small", view.ModelSize)
	assert.Contains(t, view.Summary.ObjectsDetected, seedObjectID)
	assert.Len(t, view.Summary.MaskCoverage, 10)
	assert.Greater(t, view.Summary.MaskCoverage[0][seedObjectID], 0.0)

	// The analysis summary lands on disk alongside the mask artifacts
	data, err := os.ReadFile(filepath.Join(view.ResultDir, analysisResultFile))
	require.NoError(t, err)
	var onDisk TrackingSummary
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, view.Summary.ProcessedFrames, onDisk.ProcessedFrames)

	artifacts, err := filepath.Glob(filepath.Join(view.ResultDir, "mask_*.webp"))
	require.NoError(t, err)
	assert.Len(t, artifacts, maskArtifactFrames)
}

func TestTrackingRequiresPoints(t *testing.T) {
	h := newTestHarness(t, nil)
	session := h.readySession(t)

	started, err := h.pipeline.StartTracking(session, "tiny")
	assert.False(t, started)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestTrackingRejectsUnknownModel(t *testing.T) {
	h := newTestHarness(t, nil)
	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 1, Y: 1, Label: 1}}))

	started, err := h.pipeline.StartTracking(session, "gigantic")
	assert.False(t, started)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTrackingIsIdempotentAfterCompletion(t *testing.T) {
	h := newTestHarness(t, nil)
	session := h.completedSession(t)

	started, err := h.pipeline.StartTracking(session, "tiny")
	assert.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, StageCompleted, session.Snapshot().Status)
}

func TestFullPipeline(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 10})
	session := h.completedSession(t)

	view := session.Snapshot()
	assert.Equal(t, StageCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
	assert.Equal(t, 10, view.FrameCount)
	require.NotNil(t, view.Summary)
	assert.Positive(t, view.Summary.FramesPerSecond)
	assert.NotEmpty(t, view.Summary.ProcessingTime)
}
