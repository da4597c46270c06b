package trackingmodule

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Session is the unit of work for one video. A single mutex guards all
// mutable fields so a poll never observes a torn update; background
// stages are the only writers and at most one is in flight per session.
type Session struct {
	mu sync.Mutex

	id         string
	status     Stage
	progress   int
	message    string
	filename   string
	videoPath  string
	sessionDir string
	framesDir  string
	resultDir  string
	frameList  []string
	points     []Point
	modelSize  string
	summary    *TrackingSummary
	err        string
	createdAt  time.Time
	lastAccess time.Time

	running bool
	cancel  context.CancelFunc
}

func newSession(id, sessionDir string) *Session {
	now := time.Now()
	return &Session{
		id:         id,
		status:     StageInitialized,
		message:    "session created",
		sessionDir: sessionDir,
		createdAt:  now,
		lastAccess: now,
	}
}

// ID returns the immutable session identifier
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns a consistent copy of the session for readers
func (s *Session) Snapshot() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() SessionView {
	view := SessionView{
		ID:         s.id,
		Status:     s.status,
		Progress:   s.progress,
		Message:    s.message,
		Filename:   s.filename,
		VideoPath:  s.videoPath,
		SessionDir: s.sessionDir,
		FramesDir:  s.framesDir,
		ResultDir:  s.resultDir,
		FrameCount: len(s.frameList),
		ModelSize:  s.modelSize,
		Error:      s.err,
		CreatedAt:  s.createdAt,
		LastAccess: s.lastAccess,
		Running:    s.running,
	}
	view.FrameList = append([]string(nil), s.frameList...)
	view.Points = append([]Point(nil), s.points...)
	if s.summary != nil {
		summary := *s.summary
		view.Summary = &summary
	}
	return view
}

// Touch refreshes the retention clock
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = time.Now()
}

// MarkUploaded records the accepted video file and advances the
// session out of its initial state.
func (s *Session) MarkUploaded(videoPath, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StageInitialized {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, s.status)
	}

	s.videoPath = videoPath
	s.filename = filename
	s.status = StageUploaded
	s.message = "video uploaded: " + filename
	s.lastAccess = time.Now()
	return nil
}

// SelectPoints stores the seed point set and advances the session.
// Re-selection before tracking starts replaces the previous set.
func (s *Session) SelectPoints(points []Point) error {
	if len(points) == 0 {
		return fmt.Errorf("%w: empty point set", ErrInvalidInput)
	}
	for i, p := range points {
		if p.Label != 0 && p.Label != 1 {
			return fmt.Errorf("%w: point %d has label %d, want 0 or 1", ErrInvalidInput, i, p.Label)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StageFramesReady && s.status != StagePointsSelected {
		return fmt.Errorf("%w: session is %s, frames must be ready first", ErrInvalidState, s.status)
	}

	s.points = append([]Point(nil), points...)
	s.status = StagePointsSelected
	s.message = fmt.Sprintf("%d seed points selected", len(points))
	s.lastAccess = time.Now()
	return nil
}

// begin attempts to put the session into the given running stage.
// started is false with a nil error when the stage is already in
// flight or exactly at its target status, which callers treat as an
// idempotent acknowledgement rather than spawning a duplicate worker.
// Any other status, including later stages, is rejected.
func (s *Session) begin(running, from, done Stage, message string, cancel context.CancelFunc) (started bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.status == running && s.running:
		return false, nil
	case s.status == StageError:
		return false, fmt.Errorf("%w: session failed: %s", ErrInvalidState, s.err)
	case s.status == done:
		return false, nil
	case s.status != from:
		return false, fmt.Errorf("%w: session is %s, expected %s", ErrInvalidState, s.status, from)
	case s.running:
		return false, fmt.Errorf("%w: another stage is in flight", ErrInvalidState)
	}

	s.status = running
	s.progress = 0
	s.message = message
	s.running = true
	s.cancel = cancel
	s.lastAccess = time.Now()
	return true, nil
}

// setProgress updates the advisory progress/message pair
func (s *Session) setProgress(progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = progress
	s.message = message
	s.lastAccess = time.Now()
}

// complete finalizes a successful stage: apply is invoked under the
// session lock so the stage's results land together with the status
// write and pollers never see a completed status without its result.
func (s *Session) complete(to Stage, message string, apply func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if apply != nil {
		apply(s)
	}
	s.status = to
	s.progress = 100
	s.message = message
	s.running = false
	s.cancel = nil
	s.lastAccess = time.Now()
}

// fail moves the session into the absorbing error state
func (s *Session) fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = StageError
	s.err = cause.Error()
	s.message = "error: " + cause.Error()
	s.running = false
	s.cancel = nil
	s.lastAccess = time.Now()
}

// CancelInFlight signals the currently running stage, if any. The
// stage observes the cancellation and performs the error transition
// itself; callers must not assume the session is terminal on return.
func (s *Session) CancelInFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) setDirs(framesDir, resultDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if framesDir != "" {
		s.framesDir = framesDir
	}
	if resultDir != "" {
		s.resultDir = resultDir
	}
}
