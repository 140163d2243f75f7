package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/news-video-assembler/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration.
// Values come from environment variables with sensible defaults.
//
// Environment Variables:
// Avatar provider:
// - TAVUS_API_KEY: API key for the avatar rendering provider (required)
// - TAVUS_API_URL: API base URL (default: https://tavusapi.com/v2)
// - AVATAR_TIMEOUT: per-request timeout (default: 30s)
//
// Transcription:
// - TRANSCRIBE_API_KEY: API key for the speech-to-text provider (required)
// - TRANSCRIBE_API_URL: API base URL (default: https://api.openai.com/v1)
// - TRANSCRIBE_MODEL: model name (default: whisper-1)
// - TRANSCRIBE_LANGUAGE: optional BCP-47 language hint, e.g. "en"
// - TRANSCRIBE_TIMEOUT: per-request timeout (default: 5m)
//
// Object storage:
// - S3_BUCKET (default: didvideoupload), AWS_REGION (default: us-east-1)
// - AWS_ACCESS_KEY, AWS_SECRET_ACCESS_KEY: static credentials (optional, falls back to the default chain)
// - S3_ENDPOINT: custom S3-compatible endpoint (optional)
// - S3_PATH_STYLE: use path-style addressing (default: false)
// - S3_KEY_PREFIX: object key prefix (default: videos/)
// - S3_PUBLIC_BASE_URL: base URL used to build hosted locations (optional)
//
// Sinks:
// - BILLING_URL: credit balance endpoint (optional, billing is logged only when empty)
// - BATCH_METADATA_URL: course/news update endpoint (required)
// - SINK_TIMEOUT: per-request timeout (default: 30s)
//
// Pipeline:
// - POLL_INTERVAL (default: 10s), POLL_MAX_ATTEMPTS (default: 360), POLL_MAX_WAIT (default: 1h)
// - RESOLVE_CONCURRENCY (default: 4)
// - TARGET_WIDTH (default: 1920), TARGET_HEIGHT (default: 1080), TARGET_FPS (default: 30)
// - WORK_DIR: temporary media directory (default: os.TempDir())
// - FFMPEG_PATH (default: ffmpeg), FFPROBE_PATH (default: ffprobe)
//
// Billing:
// - AVATAR_RATE_PER_SECOND (default: 0.0208)
// - TRANSCRIBE_RATE_PER_MINUTE (default: 0.006)
//
// System:
// - HTTP_ADDR (default: :5007)
// - DATA_DIR (default: /app/data)
// - JOB_WORKERS (default: 1)
// - CLEANUP_CRON (default: "0 * * * *"), CLEANUP_RETENTION (default: 24h)
// - LOG_LEVEL (default: info), LOG_FILE (optional)
type Config struct {
	Avatar     AvatarConfig     `json:"avatar"`
	Transcribe TranscribeConfig `json:"transcribe"`
	Storage    StorageConfig    `json:"storage"`
	Sinks      SinksConfig      `json:"sinks"`
	Pipeline   PipelineConfig   `json:"pipeline"`
	Billing    BillingConfig    `json:"billing"`
	Janitor    JanitorConfig    `json:"janitor"`
	HTTP       HTTPConfig       `json:"http"`
	System     SystemConfig     `json:"system"`
	Log        LogConfig        `json:"log"`
}

type AvatarConfig struct {
	APIKey  string        `json:"-"`
	APIURL  string        `json:"api_url"`
	Timeout time.Duration `json:"timeout"`
}

type TranscribeConfig struct {
	APIKey   string        `json:"-"`
	APIURL   string        `json:"api_url"`
	Model    string        `json:"model"`
	Language language.Tag  `json:"language"`
	Timeout  time.Duration `json:"timeout"`
}

// StorageConfig describes the S3-compatible bucket merged videos are hosted in.
type StorageConfig struct {
	Bucket        string `json:"bucket"`
	Region        string `json:"region"`
	AccessKey     string `json:"-"`
	SecretKey     string `json:"-"`
	Endpoint      string `json:"endpoint"`
	PathStyle     bool   `json:"path_style"`
	KeyPrefix     string `json:"key_prefix"`
	PublicBaseURL string `json:"public_base_url"`
}

type SinksConfig struct {
	BillingURL       string        `json:"billing_url"`
	BatchMetadataURL string        `json:"batch_metadata_url"`
	Timeout          time.Duration `json:"timeout"`
}

type PipelineConfig struct {
	PollInterval       time.Duration `json:"poll_interval"`
	PollMaxAttempts    int           `json:"poll_max_attempts"`
	PollMaxWait        time.Duration `json:"poll_max_wait"`
	ResolveConcurrency int           `json:"resolve_concurrency"`
	TargetWidth        int           `json:"target_width"`
	TargetHeight       int           `json:"target_height"`
	TargetFPS          int           `json:"target_fps"`
	WorkDir            string        `json:"work_dir"`
	FFmpegPath         string        `json:"ffmpeg_path"`
	FFprobePath        string        `json:"ffprobe_path"`
}

// BillingConfig holds the per-unit cost multipliers for each resolution path.
type BillingConfig struct {
	AvatarRatePerSecond     float64 `json:"avatar_rate_per_second"`
	TranscribeRatePerMinute float64 `json:"transcribe_rate_per_minute"`
}

type JanitorConfig struct {
	CronExpr  string        `json:"cron_expr"`
	Retention time.Duration `json:"retention"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type SystemConfig struct {
	DataDir    string `json:"data_dir"`
	JobWorkers int    `json:"job_workers"`
}

type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// DBPath is the SQLite file backing the async job queue.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "assembler.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		Avatar: AvatarConfig{
			APIKey:  getEnvString("TAVUS_API_KEY", ""),
			APIURL:  getEnvString("TAVUS_API_URL", "https://tavusapi.com/v2"),
			Timeout: getEnvDuration("AVATAR_TIMEOUT", 30*time.Second),
		},
		Transcribe: TranscribeConfig{
			APIKey:   getEnvString("TRANSCRIBE_API_KEY", ""),
			APIURL:   getEnvString("TRANSCRIBE_API_URL", "https://api.openai.com/v1"),
			Model:    getEnvString("TRANSCRIBE_MODEL", "whisper-1"),
			Language: getEnvLanguage("TRANSCRIBE_LANGUAGE", language.Und),
			Timeout:  getEnvDuration("TRANSCRIBE_TIMEOUT", 5*time.Minute),
		},
		Storage: StorageConfig{
			Bucket:        getEnvString("S3_BUCKET", "didvideoupload"),
			Region:        getEnvString("AWS_REGION", "us-east-1"),
			AccessKey:     getEnvString("AWS_ACCESS_KEY", ""),
			SecretKey:     getEnvString("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:      getEnvString("S3_ENDPOINT", ""),
			PathStyle:     getEnvBool("S3_PATH_STYLE", false),
			KeyPrefix:     getEnvString("S3_KEY_PREFIX", "videos/"),
			PublicBaseURL: getEnvString("S3_PUBLIC_BASE_URL", ""),
		},
		Sinks: SinksConfig{
			BillingURL:       getEnvString("BILLING_URL", ""),
			BatchMetadataURL: getEnvString("BATCH_METADATA_URL", ""),
			Timeout:          getEnvDuration("SINK_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			PollInterval:       getEnvDuration("POLL_INTERVAL", 10*time.Second),
			PollMaxAttempts:    getEnvInt("POLL_MAX_ATTEMPTS", 360),
			PollMaxWait:        getEnvDuration("POLL_MAX_WAIT", time.Hour),
			ResolveConcurrency: getEnvInt("RESOLVE_CONCURRENCY", 4),
			TargetWidth:        getEnvInt("TARGET_WIDTH", 1920),
			TargetHeight:       getEnvInt("TARGET_HEIGHT", 1080),
			TargetFPS:          getEnvInt("TARGET_FPS", 30),
			WorkDir:            getEnvString("WORK_DIR", os.TempDir()),
			FFmpegPath:         getEnvString("FFMPEG_PATH", "ffmpeg"),
			FFprobePath:        getEnvString("FFPROBE_PATH", "ffprobe"),
		},
		Billing: BillingConfig{
			AvatarRatePerSecond:     getEnvFloat("AVATAR_RATE_PER_SECOND", 0.0208),
			TranscribeRatePerMinute: getEnvFloat("TRANSCRIBE_RATE_PER_MINUTE", 0.006),
		},
		Janitor: JanitorConfig{
			CronExpr:  getEnvString("CLEANUP_CRON", "0 * * * *"),
			Retention: getEnvDuration("CLEANUP_RETENTION", 24*time.Hour),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":5007"),
		},
		System: SystemConfig{
			DataDir:    getEnvString("DATA_DIR", "/app/data"),
			JobWorkers: getEnvInt("JOB_WORKERS", 1),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", "info"),
			File:  getEnvString("LOG_FILE", ""),
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

	log.Info("Config: http=%s bucket=%s poll=%s/%d workdir=%s",
		config.HTTP.Addr, config.Storage.Bucket, config.Pipeline.PollInterval,
		config.Pipeline.PollMaxAttempts, config.Pipeline.WorkDir)

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Avatar.APIKey == "" {
		return fmt.Errorf("TAVUS_API_KEY is required")
	}
	if c.Transcribe.APIKey == "" {
		return fmt.Errorf("TRANSCRIBE_API_KEY is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if c.Sinks.BatchMetadataURL == "" {
		return fmt.Errorf("BATCH_METADATA_URL is required")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Pipeline.PollMaxAttempts <= 0 && c.Pipeline.PollMaxWait <= 0 {
		return fmt.Errorf("one of POLL_MAX_ATTEMPTS or POLL_MAX_WAIT must be positive")
	}
	if c.Pipeline.TargetWidth <= 0 || c.Pipeline.TargetHeight <= 0 || c.Pipeline.TargetFPS <= 0 {
		return fmt.Errorf("target resolution and frame rate must be positive")
	}
	if c.Billing.AvatarRatePerSecond < 0 || c.Billing.TranscribeRatePerMinute < 0 {
		return fmt.Errorf("billing rates must not be negative")
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

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("10s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}
