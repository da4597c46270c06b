package trackingmodule

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/videoseg/masktrace/internal/events"
	"github.com/videoseg/masktrace/internal/segmentation"
)

// fakeExtractor writes a fixed number of placeholder frames instead of
// shelling out to ffmpeg.
type fakeExtractor struct {
	frames int
	err    error
	delay  time.Duration
}

func (f *fakeExtractor) Extract(ctx context.Context, videoPath, outputDir string, quality int) (int, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if f.err != nil {
		return 0, f.err
	}
	for i := 0; i < f.frames; i++ {
		name := filepath.Join(outputDir, fmt.Sprintf("%05d.jpg", i))
		if err := os.WriteFile(name, []byte("frame"), 0o644); err != nil {
			return 0, err
		}
	}
	return f.frames, nil
}

func demoEngineFactory(t *testing.T) EngineFactory {
	t.Helper()
	return func(model string) (segmentation.Engine, func(), error) {
		engine, err := segmentation.NewDemoEngine(model, hclog.NewNullLogger())
		if err != nil {
			return nil, nil, err
		}
		return engine, func() { engine.Close() }, nil
	}
}

// testHarness bundles the module wiring used by most tests
type testHarness struct {
	module   *Module
	registry *Registry
	pipeline *Pipeline
	cleaner  *Cleaner
	bus      events.EventBus
}

func newTestHarness(t *testing.T, ext *fakeExtractor) *testHarness {
	t.Helper()

	root := t.TempDir()
	sessionRoot := filepath.Join(root, "sessions")
	uploadDir := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(sessionRoot, 0o755))
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))

	log := hclog.NewNullLogger()
	bus := events.NewBus(log)
	t.Cleanup(bus.Close)

	registry := NewRegistry(sessionRoot, log, bus, nil)
	runner := NewStageRunner(context.Background(), log, bus, registry.persist)

	if ext == nil {
		ext = &fakeExtractor{frames: 5}
	}

	pipeline := NewPipeline(runner, ext, demoEngineFactory(t), log, 95, time.Minute, time.Minute)
	cleaner := NewCleaner(registry, sessionRoot, uploadDir, time.Hour, time.Hour, log)

	m := &Module{
		logger:   log,
		registry: registry,
		pipeline: pipeline,
		packager: NewPackager(log),
		cleaner:  cleaner,
		bus:      bus,
		allowedExtensions: map[string]bool{
			"mp4": true, "mov": true, "avi": true, "wmv": true, "mkv": true,
		},
		maxUploadSize: 10 * 1024 * 1024,
		uploadDir:     uploadDir,
		defaultModel:  "tiny",
	}

	return &testHarness{
		module:   m,
		registry: registry,
		pipeline: pipeline,
		cleaner:  cleaner,
		bus:      bus,
	}
}

// uploadedSession creates a session that already has a video on disk
func (h *testHarness) uploadedSession(t *testing.T) *Session {
	t.Helper()

	session, err := h.registry.Create()
	require.NoError(t, err)

	videoPath := filepath.Join(h.module.uploadDir, "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("video bytes"), 0o644))
	require.NoError(t, session.MarkUploaded(videoPath, "clip.mp4"))

	return session
}

// readySession runs extraction to completion
func (h *testHarness) readySession(t *testing.T) *Session {
	t.Helper()

	session := h.uploadedSession(t)
	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)
	waitForStage(t, session, StageFramesReady)
	return session
}

// completedSession runs the full pipeline
func (h *testHarness) completedSession(t *testing.T) *Session {
	t.Helper()

	session := h.readySession(t)
	require.NoError(t, session.SelectPoints([]Point{{X: 100, Y: 100, Label: 1}}))

	started, err := h.pipeline.StartTracking(session, "tiny")
	require.NoError(t, err)
	require.True(t, started)
	waitForStage(t, session, StageCompleted)
	return session
}

func waitForStage(t *testing.T, session *Session, want Stage) {
	t.Helper()
	require.Eventually(t, func() bool {
		view := session.Snapshot()
		return view.Status == want || view.Status == StageError
	}, 10*time.Second, 10*time.Millisecond)

	view := session.Snapshot()
	require.Equal(t, want, view.Status, "session error: %s", view.Error)
}

func waitForError(t *testing.T, session *Session) SessionView {
	t.Helper()
	require.Eventually(t, func() bool {
		return session.Snapshot().Status == StageError
	}, 10*time.Second, 10*time.Millisecond)
	return session.Snapshot()
}
