package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server" json:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Storage configuration (uploads, session data)
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Frame extraction configuration
	Extraction ExtractionConfig `yaml:"extraction" json:"extraction"`

	// Segmentation engine configuration
	Segmentation SegmentationConfig `yaml:"segmentation" json:"segmentation"`

	// Session cleanup configuration
	Cleanup CleanupConfig `yaml:"cleanup" json:"cleanup"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"MASKTRACE_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"MASKTRACE_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"MASKTRACE_READ_TIMEOUT" default:"30s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"MASKTRACE_WRITE_TIMEOUT" default:"30s"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"MASKTRACE_MAX_HEADER_BYTES" default:"1048576"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"MASKTRACE_ENABLE_CORS" default:"true"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	Host         string `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port         int    `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username     string `yaml:"username" json:"username" env:"POSTGRES_USER" default:"masktrace"`
	Password     string `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database     string `yaml:"database" json:"database" env:"POSTGRES_DB" default:"masktrace"`
	DatabasePath string `yaml:"database_path" json:"database_path" env:"MASKTRACE_DATABASE_PATH"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// StorageConfig holds upload and session data configuration
type StorageConfig struct {
	DataDir           string   `yaml:"data_dir" json:"data_dir" env:"MASKTRACE_DATA_DIR" default:"./masktrace-data"`
	UploadDir         string   `yaml:"upload_dir" json:"upload_dir" env:"MASKTRACE_UPLOAD_DIR"`
	SessionDir        string   `yaml:"session_dir" json:"session_dir" env:"MASKTRACE_SESSION_DIR"`
	MaxUploadSize     int64    `yaml:"max_upload_size" json:"max_upload_size" env:"MASKTRACE_MAX_UPLOAD_SIZE" default:"104857600"`
	AllowedExtensions []string `yaml:"allowed_extensions" json:"allowed_extensions" env:"MASKTRACE_ALLOWED_EXTENSIONS" default:"mp4,mov,avi,wmv,mkv"`
}

// ExtractionConfig holds frame extraction configuration
type ExtractionConfig struct {
	FFmpegPath  string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"MASKTRACE_FFMPEG_PATH" default:"ffmpeg"`
	JPEGQuality int           `yaml:"jpeg_quality" json:"jpeg_quality" env:"MASKTRACE_JPEG_QUALITY" default:"95"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout" env:"MASKTRACE_EXTRACTION_TIMEOUT" default:"10m"`
}

// SegmentationConfig holds segmentation engine configuration
type SegmentationConfig struct {
	EngineKind    string        `yaml:"engine_kind" json:"engine_kind" env:"MASKTRACE_ENGINE" default:"demo"`
	PluginPath    string        `yaml:"plugin_path" json:"plugin_path" env:"MASKTRACE_ENGINE_PLUGIN"`
	CheckpointDir string        `yaml:"checkpoint_dir" json:"checkpoint_dir" env:"MASKTRACE_CHECKPOINT_DIR" default:"./checkpoints"`
	DefaultModel  string        `yaml:"default_model" json:"default_model" env:"MASKTRACE_DEFAULT_MODEL" default:"tiny"`
	CallTimeout   time.Duration `yaml:"call_timeout" json:"call_timeout" env:"MASKTRACE_ENGINE_TIMEOUT" default:"2m"`
}

// CleanupConfig holds session cleanup configuration
type CleanupConfig struct {
	SessionTTL    time.Duration `yaml:"session_ttl" json:"session_ttl" env:"MASKTRACE_SESSION_TTL" default:"4h"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" env:"MASKTRACE_SWEEP_INTERVAL" default:"10m"`
	Enabled       bool          `yaml:"enabled" json:"enabled" env:"MASKTRACE_CLEANUP_ENABLED" default:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" env:"MASKTRACE_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" json:"format" env:"MASKTRACE_LOG_FORMAT" default:"text"`
}

// Manager manages application configuration with hot-reload support
type Manager struct {
	config     *Config
	configPath string
	watchers   []Watcher
	mu         sync.RWMutex
}

// Watcher is called when configuration changes
type Watcher func(oldConfig, newConfig *Config)

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global configuration manager instance
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager()
	})
	return globalManager
}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{
		config:   DefaultConfig(),
		watchers: make([]Watcher, 0),
	}
}

// DefaultConfig builds the default configuration from the default
// struct tags, so a field's default lives next to its declaration.
func DefaultConfig() *Config {
	config := &Config{}
	if err := loadStructDefaults(reflect.ValueOf(config).Elem()); err != nil {
		panic(fmt.Sprintf("invalid default tag: %v", err))
	}
	return config
}

// LoadConfig loads configuration from file and environment variables
func (m *Manager) LoadConfig(configPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldConfig := *m.config
	m.configPath = configPath

	newConfig := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := m.loadFromFile(configPath, newConfig); err != nil {
			return fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadStructFromEnv(reflect.ValueOf(newConfig).Elem()); err != nil {
		return fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := m.validate(newConfig); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	m.applyDerived(newConfig)

	m.config = newConfig

	for _, watcher := range m.watchers {
		go watcher(&oldConfig, newConfig)
	}

	return nil
}

// GetConfig returns the current configuration (thread-safe copy)
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	configCopy := *m.config
	return &configCopy
}

// AddWatcher adds a configuration change watcher
func (m *Manager) AddWatcher(watcher Watcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, watcher)
}

// Reload re-reads the configuration from the last loaded path
func (m *Manager) Reload() error {
	m.mu.RLock()
	path := m.configPath
	m.mu.RUnlock()
	return m.LoadConfig(path)
}

// Helper methods

func (m *Manager) loadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, config)
	case ".json":
		return json.Unmarshal(data, config)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

func loadStructDefaults(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructDefaults(field); err != nil {
				return err
			}
			continue
		}

		defaultTag := fieldType.Tag.Get("default")
		if defaultTag == "" {
			continue
		}

		if err := setFieldValue(field, defaultTag); err != nil {
			return fmt.Errorf("failed to default field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func loadStructFromEnv(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set field %s: %w", fieldType.Name, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(intVal)
		}
	case reflect.Float32, reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatVal)
	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolVal)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			values := strings.Split(value, ",")
			for i, v := range values {
				values[i] = strings.TrimSpace(v)
			}
			field.Set(reflect.ValueOf(values))
		}
	default:
		return fmt.Errorf("unsupported field type: %v", field.Kind())
	}

	return nil
}

func (m *Manager) validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("invalid max upload size: %d", config.Storage.MaxUploadSize)
	}

	if config.Extraction.JPEGQuality < 1 || config.Extraction.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality: %d", config.Extraction.JPEGQuality)
	}

	if config.Cleanup.SessionTTL <= 0 {
		return fmt.Errorf("invalid session TTL: %s", config.Cleanup.SessionTTL)
	}

	return nil
}

func (m *Manager) applyDerived(config *Config) {
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Storage.DataDir, "masktrace.db")
	}

	if config.Storage.UploadDir == "" {
		config.Storage.UploadDir = filepath.Join(config.Storage.DataDir, "uploads")
	}

	if config.Storage.SessionDir == "" {
		config.Storage.SessionDir = filepath.Join(config.Storage.DataDir, "sessions")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Global convenience functions

// Get returns the current global configuration
func Get() *Config {
	return GetManager().GetConfig()
}

// Load loads configuration from the specified path
func Load(configPath string) error {
	return GetManager().LoadConfig(configPath)
}

// AddWatcher adds a global configuration watcher
func AddWatcher(watcher Watcher) {
	GetManager().AddWatcher(watcher)
}
