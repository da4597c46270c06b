package trackingmodule

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Cleaner removes sessions and their on-disk artifacts, both on demand
// and through a periodic retention sweep.
type Cleaner struct {
	registry    *Registry
	sessionRoot string
	uploadDir   string
	logger      hclog.Logger

	ttl      time.Duration
	interval time.Duration
}

// NewCleaner creates a cleaner over the registry and storage roots
func NewCleaner(registry *Registry, sessionRoot, uploadDir string, ttl, interval time.Duration, logger hclog.Logger) *Cleaner {
	return &Cleaner{
		registry:    registry,
		sessionRoot: sessionRoot,
		uploadDir:   uploadDir,
		logger:      logger.Named("session-cleanup"),
		ttl:         ttl,
		interval:    interval,
	}
}

// Start runs the retention sweep until ctx is cancelled
func (c *Cleaner) Start(ctx context.Context) {
	if c.interval <= 0 || c.ttl <= 0 {
		c.logger.Info("retention sweep disabled")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("retention sweep started", "ttl", c.ttl, "interval", c.interval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("retention sweep stopped")
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep removes every session idle past the TTL. Sessions with a stage
// in flight are skipped; they get picked up on a later pass once the
// stage settles.
func (c *Cleaner) sweep() {
	cutoff := time.Now().Add(-c.ttl)
	removed := 0

	for _, view := range c.registry.List() {
		if view.Running {
			continue
		}
		if view.LastAccess.After(cutoff) {
			continue
		}
		if err := c.CleanupSession(view.ID); err != nil {
			c.logger.Warn("sweep failed to clean session", "session_id", view.ID, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("retention sweep removed sessions", "count", removed)
	}
}

// CleanupSession removes one session and its artifacts. Cleaning a
// session that is already gone is a no-op, so repeated cleanup calls
// are safe.
func (c *Cleaner) CleanupSession(id string) error {
	session := c.registry.Remove(id)

	var videoPath string
	if session != nil {
		session.CancelInFlight()
		view := session.Snapshot()
		videoPath = view.VideoPath
	}

	dir := filepath.Join(c.sessionRoot, id)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}

	if videoPath != "" && insideDir(videoPath, c.uploadDir) {
		if err := os.Remove(videoPath); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("failed to remove uploaded video", "path", videoPath, "error", err)
		}
	}

	if session != nil {
		c.registry.markDeleted(id)
		c.logger.Info("session cleaned up", "session_id", id)
	}
	return nil
}

// insideDir reports whether path sits under dir after normalization
func insideDir(path, dir string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
