package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/news-video-assembler/pkg/icron"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the knobs operators may change without a restart.
type RuntimeSettings struct {
	AvatarRatePerSecond     float64 `json:"avatar_rate_per_second"`
	TranscribeRatePerMinute float64 `json:"transcribe_rate_per_minute"`
	CleanupCronExpr         string  `json:"cleanup_cron_expr"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

// Validate reports every invalid field at once.
func (s RuntimeSettings) Validate() error {
	var errs []error
	if s.AvatarRatePerSecond <= 0 {
		errs = append(errs, fmt.Errorf("avatar_rate_per_second must be positive"))
	}
	if s.TranscribeRatePerMinute <= 0 {
		errs = append(errs, fmt.Errorf("transcribe_rate_per_minute must be positive"))
	}
	if _, err := icron.Parse(s.CleanupCronExpr); err != nil {
		errs = append(errs, fmt.Errorf("cleanup_cron_expr: %w", err))
	}
	return errors.Join(errs...)
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		AvatarRatePerSecond:     c.Billing.AvatarRatePerSecond,
		TranscribeRatePerMinute: c.Billing.TranscribeRatePerMinute,
		CleanupCronExpr:         c.Janitor.CronExpr,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if settings.AvatarRatePerSecond > 0 {
			c.Billing.AvatarRatePerSecond = settings.AvatarRatePerSecond
		}
		if settings.TranscribeRatePerMinute > 0 {
			c.Billing.TranscribeRatePerMinute = settings.TranscribeRatePerMinute
		}
		if _, err := icron.Parse(settings.CleanupCronExpr); err == nil {
			c.Janitor.CronExpr = settings.CleanupCronExpr
		}
	}
}

// LoadRuntimeSettingsFile reads a settings file. Fields it omits stay zero
// and are ignored by WithRuntimeSettings.
func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file %s: %w", path, err)
	}
	settings.CleanupCronExpr = strings.TrimSpace(settings.CleanupCronExpr)
	return settings, nil
}

// WriteRuntimeSettingsFile replaces the file atomically so a crash never
// leaves a half-written settings file behind.
func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}
	s.current = next
	return next, nil
}
