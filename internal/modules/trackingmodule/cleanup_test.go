package trackingmodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupSessionRemovesEverything(t *testing.T) {
	h := newTestHarness(t, nil)
	session := h.completedSession(t)
	view := session.Snapshot()

	require.NoError(t, h.cleaner.CleanupSession(session.ID()))

	_, err := h.registry.Get(session.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoDirExists(t, view.SessionDir)
	assert.NoFileExists(t, view.VideoPath)
}

func TestCleanupSessionIsIdempotent(t *testing.T) {
	h := newTestHarness(t, nil)
	session := h.uploadedSession(t)

	require.NoError(t, h.cleaner.CleanupSession(session.ID()))
	require.NoError(t, h.cleaner.CleanupSession(session.ID()))
	require.NoError(t, h.cleaner.CleanupSession("never-existed"))
}

func TestCleanupCancelsInFlightStage(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 3, delay: 10 * time.Second})
	session := h.uploadedSession(t)

	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, h.cleaner.CleanupSession(session.ID()))

	// The stage observes the cancellation and records it
	view := waitForError(t, session)
	assert.Contains(t, view.Error, ErrCancelled.Error())
}

func TestCleanupLeavesVideosOutsideUploadDirAlone(t *testing.T) {
	h := newTestHarness(t, nil)

	session, err := h.registry.Create()
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "elsewhere.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("video"), 0o644))
	require.NoError(t, session.MarkUploaded(outside, "elsewhere.mp4"))

	require.NoError(t, h.cleaner.CleanupSession(session.ID()))
	assert.FileExists(t, outside)
}

func TestSweepRemovesIdleSessions(t *testing.T) {
	h := newTestHarness(t, nil)
	idle := h.readySession(t)
	fresh := h.readySession(t)

	// Push one session past the cutoff
	idle.mu.Lock()
	idle.lastAccess = time.Now().Add(-2 * time.Hour)
	idle.mu.Unlock()

	cleaner := NewCleaner(h.registry, h.cleaner.sessionRoot, h.cleaner.uploadDir,
		time.Hour, time.Hour, hclog.NewNullLogger())
	cleaner.sweep()

	_, err := h.registry.Get(idle.ID())
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = h.registry.Get(fresh.ID())
	assert.NoError(t, err)
}

func TestSweepSkipsRunningSessions(t *testing.T) {
	h := newTestHarness(t, &fakeExtractor{frames: 3, delay: 5 * time.Second})
	session := h.uploadedSession(t)

	started, err := h.pipeline.StartExtraction(session)
	require.NoError(t, err)
	require.True(t, started)

	session.mu.Lock()
	session.lastAccess = time.Now().Add(-2 * time.Hour)
	session.mu.Unlock()

	h.cleaner.sweep()

	_, err = h.registry.Get(session.ID())
	assert.NoError(t, err)
	session.CancelInFlight()
}

func TestCleanerStartStopsOnContextCancel(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewCleaner(h.registry, h.cleaner.sessionRoot, h.cleaner.uploadDir,
			time.Hour, 10*time.Millisecond, hclog.NewNullLogger()).Start(ctx)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleaner did not stop")
	}
}
