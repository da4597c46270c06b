// Package trackingmodule implements the video object tracking pipeline:
// upload a video, extract frames, select seed points, propagate masks
// across the video, and download the packaged results. Long stages run
// in the background; clients observe them through status polling or the
// websocket progress stream.
package trackingmodule

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/videoseg/masktrace/internal/config"
	"github.com/videoseg/masktrace/internal/database"
	"github.com/videoseg/masktrace/internal/events"
	"github.com/videoseg/masktrace/internal/extractor"
	"github.com/videoseg/masktrace/internal/logger"
	"github.com/videoseg/masktrace/internal/modules/modulemanager"
	"github.com/videoseg/masktrace/internal/segmentation"
)

// Auto-register the module when the package is imported
func init() {
	modulemanager.Register(&Module{})
}

// Module is the tracking pipeline module
type Module struct {
	logger hclog.Logger

	registry *Registry
	pipeline *Pipeline
	packager *Packager
	cleaner  *Cleaner
	runner   *StageRunner
	bus      events.EventBus

	allowedExtensions map[string]bool
	maxUploadSize     int64
	uploadDir         string
	defaultModel      string

	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the module identifier
func (m *Module) ID() string {
	return "system.tracking"
}

// Name returns the module display name
func (m *Module) Name() string {
	return "Object Tracking"
}

// Core reports that this module cannot be disabled
func (m *Module) Core() bool {
	return true
}

// Migrate creates the session mirror table
func (m *Module) Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&database.TrackingSessionRecord{})
}

// Init wires the module from global configuration
func (m *Module) Init() error {
	cfg := config.Get()
	m.logger = logger.New("tracking")
	m.bus = events.GetGlobalBus()
	m.ctx, m.cancel = context.WithCancel(context.Background())

	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.SessionDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}

	m.allowedExtensions = make(map[string]bool, len(cfg.Storage.AllowedExtensions))
	for _, ext := range cfg.Storage.AllowedExtensions {
		m.allowedExtensions[ext] = true
	}
	m.maxUploadSize = cfg.Storage.MaxUploadSize
	m.uploadDir = cfg.Storage.UploadDir
	m.defaultModel = cfg.Segmentation.DefaultModel

	m.registry = NewRegistry(cfg.Storage.SessionDir, m.logger, m.bus, database.GetDB())

	m.runner = NewStageRunner(m.ctx, m.logger, m.bus, m.registry.persist)
	ext := extractor.NewFFmpegExtractor(cfg.Extraction.FFmpegPath, m.logger)
	engines := engineFactory(&cfg.Segmentation, m.logger)

	m.pipeline = NewPipeline(m.runner, ext, engines, m.logger,
		cfg.Extraction.JPEGQuality, cfg.Extraction.Timeout, cfg.Segmentation.CallTimeout)
	m.packager = NewPackager(m.logger)
	m.cleaner = NewCleaner(m.registry, cfg.Storage.SessionDir, cfg.Storage.UploadDir,
		cfg.Cleanup.SessionTTL, cfg.Cleanup.SweepInterval, m.logger)

	if cfg.Cleanup.Enabled {
		go m.cleaner.Start(m.ctx)
	}

	m.logger.Info("tracking module initialized",
		"engine", cfg.Segmentation.EngineKind,
		"default_model", m.defaultModel,
		"session_ttl", cfg.Cleanup.SessionTTL)
	return nil
}

// Shutdown cancels background work and waits for in-flight stage
// workers to observe the cancellation before returning.
func (m *Module) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.runner != nil {
		m.runner.Wait()
	}
}

// engineFactory builds engines per tracking run so each run gets a
// fresh process when the plugin transport is configured.
func engineFactory(cfg *config.SegmentationConfig, log hclog.Logger) EngineFactory {
	kind := cfg.EngineKind
	pluginPath := cfg.PluginPath

	return func(model string) (segmentation.Engine, func(), error) {
		switch kind {
		case "plugin":
			if pluginPath == "" {
				return nil, nil, fmt.Errorf("%w: no engine plugin configured", segmentation.ErrModelUnavailable)
			}
			return segmentation.Dial(pluginPath, model, log)
		default:
			engine, err := segmentation.NewDemoEngine(model, log)
			if err != nil {
				return nil, nil, err
			}
			return engine, func() { engine.Close() }, nil
		}
	}
}

// RegisterRoutes registers the tracking API
func (m *Module) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/tracking")
	{
		api.POST("/upload", m.handleUpload)
		api.GET("/models", m.handleListModels)
		api.GET("/sessions", m.handleListSessions)

		sessions := api.Group("/sessions/:id")
		{
			sessions.POST("/extract", m.handleExtract)
			sessions.GET("/frames", m.handleFrames)
			sessions.GET("/frames/:index", m.handleFrameImage)
			sessions.POST("/points", m.handleSelectPoints)
			sessions.POST("/track", m.handleTrack)
			sessions.GET("/status", m.handleStatus)
			sessions.GET("/download", m.handleDownload)
			sessions.DELETE("/task", m.handleCancel)
			sessions.DELETE("", m.handleCleanup)
		}
	}

	router.GET("/ws/tracking/:id", m.handleProgressStream)

	m.logger.Info("tracking routes registered")
}
