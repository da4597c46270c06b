package trackingmodule

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/videoseg/masktrace/internal/database"
	"github.com/videoseg/masktrace/internal/events"
)

// Registry owns every live session. The in-memory map is the source of
// truth for pipeline state; database rows are an advisory mirror kept
// for statistics and restart forensics.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	sessionRoot string
	logger      hclog.Logger
	bus         events.EventBus
	db          *gorm.DB
}

// NewRegistry creates a session registry rooted at sessionRoot. A nil
// db falls back to the global handle once, at construction; registries
// built before the database initializes stay memory-only.
func NewRegistry(sessionRoot string, logger hclog.Logger, bus events.EventBus, db *gorm.DB) *Registry {
	if db == nil {
		db = database.GetDB()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		sessionRoot: sessionRoot,
		logger:      logger.Named("session-registry"),
		bus:         bus,
		db:          db,
	}
}

// Create allocates a new session with a fresh identifier and its own
// working directory under the session root.
func (r *Registry) Create() (*Session, error) {
	id := uuid.New().String()
	dir := filepath.Join(r.sessionRoot, id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	session := newSession(id, dir)

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", id, "dir", dir)
	if r.bus != nil {
		r.bus.Publish(events.NewEventWithData(events.EventSessionCreated, "tracking", "session created",
			map[string]interface{}{"session_id": id}))
	}
	r.persist(session.Snapshot())

	return session, nil
}

// Get returns the session for id or ErrSessionNotFound
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	session, ok := r.sessions[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// Remove drops a session from the registry. It returns the removed
// session, or nil when the id was already gone, so removal is
// idempotent for callers.
func (r *Registry) Remove(id string) *Session {
	r.mu.Lock()
	session, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	r.logger.Info("session removed", "session_id", id)
	if r.bus != nil {
		r.bus.Publish(events.NewEventWithData(events.EventSessionDeleted, "tracking", "session removed",
			map[string]interface{}{"session_id": id}))
	}
	return session
}

// List returns a snapshot of every live session
func (r *Registry) List() []SessionView {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	views := make([]SessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, s.Snapshot())
	}
	return views
}

// Count reports the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// persist mirrors a session snapshot into the database. Persistence is
// best effort: a nil handle or a write failure never interferes with
// the pipeline.
func (r *Registry) persist(view SessionView) {
	if r.db == nil {
		return
	}

	record := database.TrackingSessionRecord{
		ID:         view.ID,
		Status:     string(view.Status),
		Filename:   view.Filename,
		FrameCount: view.FrameCount,
		PointCount: len(view.Points),
		ModelSize:  view.ModelSize,
		Error:      view.Error,
		VideoPath:  view.VideoPath,
		SessionDir: filepath.Join(r.sessionRoot, view.ID),
		CreatedAt:  view.CreatedAt,
		UpdatedAt:  time.Now(),
	}
	if view.Status == StageCompleted {
		now := time.Now()
		record.CompletedAt = &now
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&record).Error
	if err != nil {
		r.logger.Warn("failed to persist session record", "session_id", view.ID, "error", err)
	}
}

// markDeleted updates the mirror row after cleanup
func (r *Registry) markDeleted(id string) {
	if r.db == nil {
		return
	}

	err := r.db.Model(&database.TrackingSessionRecord{}).
		Where("id = ?", id).
		Update("status", "deleted").Error
	if err != nil {
		r.logger.Warn("failed to mark session record deleted", "session_id", id, "error", err)
	}
}
