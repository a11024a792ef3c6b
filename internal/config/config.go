package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
// Supports environment variables with sensible defaults.
//
// Environment Variables:
// Rendering:
// - FFMPEG_PATH: ffmpeg binary (default: ffmpeg, resolved via PATH)
// - FFPROBE_PATH: ffprobe binary (default: ffprobe)
// - FFMPEG_TIMEOUT_SECONDS: per-invocation timeout (default: 300)
// - SCRATCH_ROOT: per-job scratch directories (default: /tmp/shadowclip)
// - OUTPUT_ROOT: dated output tree (default: /output)
// - TEMPLATE_CATALOG: optional JSON file overriding/extending the template catalog
//
// TTS:
// - TTS_COMMAND: narration CLI (default: edge-tts; empty disables TTS templates)
// - TTS_DEFAULT_VOICE: fallback voice when no language match (optional)
//
// Jobs:
// - MAX_WORKERS: worker pool size (default: 4)
// - RENDER_SLOTS: concurrently rendering jobs (default: 3)
// - DB_PATH: sqlite job store (default: /data/shadowclip.db)
// - RESUME_ENABLED: checkpoint resume after restart (default: false)
// - MIN_FREE_DISK_GB: free-disk floor before delaying work (default: 5)
// - MAX_MEMORY_PERCENT: memory ceiling before delaying work (default: 85)
//
// Housekeeping:
// - SCRATCH_SWEEP_CRON: orphaned-scratch sweep schedule (default: 0 * * * *)
// - SCRATCH_TTL_HOURS: scratch age before sweeping (default: 24)
//
// System:
// - LOG_LEVEL: debug/info/warn/error (default: info)

type Config struct {
	Render RenderConfig `json:"render"`
	TTS    TTSConfig    `json:"tts"`
	Jobs   JobsConfig   `json:"jobs"`
	Sweep  SweepConfig  `json:"sweep"`
	System SystemConfig `json:"system"`
}

// RenderConfig holds the encoder tool and filesystem layout settings.
type RenderConfig struct {
	FfmpegPath      string `json:"ffmpeg_path"`
	FfprobePath     string `json:"ffprobe_path"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
	ScratchRoot     string `json:"scratch_root"`
	OutputRoot      string `json:"output_root"`
	TemplateCatalog string `json:"template_catalog"`
}

// Timeout returns the encoder invocation timeout.
func (c RenderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TTSConfig holds the narration synthesizer settings.
type TTSConfig struct {
	Command      string `json:"command"`
	DefaultVoice string `json:"default_voice"`
}

// JobsConfig holds the coordinator and resource monitor settings.
type JobsConfig struct {
	MaxWorkers       int    `json:"max_workers"`
	RenderSlots      int    `json:"render_slots"`
	DBPath           string `json:"db_path"`
	ResumeEnabled    bool   `json:"resume_enabled"`
	MinFreeDiskGB    int    `json:"min_free_disk_gb"`
	MaxMemoryPercent int    `json:"max_memory_percent"`
}

// SweepConfig holds the scratch housekeeping schedule.
type SweepConfig struct {
	CronExpr string `json:"cron_expr"`
	TTLHours int    `json:"ttl_hours"`
}

// TTL returns the scratch retention window.
func (c SweepConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// SystemConfig holds the system configuration.
type SystemConfig struct {
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Render: RenderConfig{
			FfmpegPath:      getEnvString("FFMPEG_PATH", "ffmpeg"),
			FfprobePath:     getEnvString("FFPROBE_PATH", "ffprobe"),
			TimeoutSeconds:  getEnvInt("FFMPEG_TIMEOUT_SECONDS", 300),
			ScratchRoot:     getEnvString("SCRATCH_ROOT", "/tmp/shadowclip"),
			OutputRoot:      getEnvString("OUTPUT_ROOT", "/output"),
			TemplateCatalog: getEnvString("TEMPLATE_CATALOG", ""),
		},
		TTS: TTSConfig{
			Command:      getEnvString("TTS_COMMAND", "edge-tts"),
			DefaultVoice: getEnvString("TTS_DEFAULT_VOICE", ""),
		},
		Jobs: JobsConfig{
			MaxWorkers:       getEnvInt("MAX_WORKERS", 4),
			RenderSlots:      getEnvInt("RENDER_SLOTS", 3),
			DBPath:           getEnvString("DB_PATH", "/data/shadowclip.db"),
			ResumeEnabled:    getEnvBool("RESUME_ENABLED", false),
			MinFreeDiskGB:    getEnvInt("MIN_FREE_DISK_GB", 5),
			MaxMemoryPercent: getEnvInt("MAX_MEMORY_PERCENT", 85),
		},
		Sweep: SweepConfig{
			CronExpr: getEnvString("SCRATCH_SWEEP_CRON", "0 * * * *"),
			TTLHours: getEnvInt("SCRATCH_TTL_HOURS", 24),
		},
		System: SystemConfig{
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Render.ScratchRoot == "" {
		return fmt.Errorf("SCRATCH_ROOT is required")
	}
	if c.Render.OutputRoot == "" {
		return fmt.Errorf("OUTPUT_ROOT is required")
	}
	if c.Render.TimeoutSeconds <= 0 {
		return fmt.Errorf("FFMPEG_TIMEOUT_SECONDS must be positive")
	}
	if c.Jobs.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive")
	}
	if c.Jobs.RenderSlots <= 0 {
		return fmt.Errorf("RENDER_SLOTS must be positive")
	}
	if c.Jobs.MaxMemoryPercent <= 0 || c.Jobs.MaxMemoryPercent > 100 {
		return fmt.Errorf("MAX_MEMORY_PERCENT must be in (0, 100]")
	}
	if c.Sweep.TTLHours <= 0 {
		return fmt.Errorf("SCRATCH_TTL_HOURS must be positive")
	}
	if _, err := cron.ParseStandard(c.Sweep.CronExpr); err != nil {
		return fmt.Errorf("SCRATCH_SWEEP_CRON %q: %w", c.Sweep.CronExpr, err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
