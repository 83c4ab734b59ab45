package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SimplyPrint/srix-agent/internal/srix"
)

// Settings holds user preferences that persist across restarts.
type Settings struct {
	CrashReporting   bool   `json:"crashReporting"`   // Whether to send crash reports to Sentry
	DefaultTagType   string `json:"defaultTagType"`   // "x4k" or "512", used when -t is not given
	FixReadDirection bool   `json:"fixReadDirection"` // Show block bytes reversed by default
}

var (
	current  *Settings
	mu       sync.RWMutex
	filePath string
)

// DefaultSettings returns the default settings.
func DefaultSettings() *Settings {
	return &Settings{
		CrashReporting: false, // Opt-in, disabled by default
		DefaultTagType: string(srix.TagSRIX4K),
	}
}

// getSettingsPath returns the path to the settings file.
// SRIX_AGENT_SETTINGS overrides the platform location.
func getSettingsPath() (string, error) {
	if p := os.Getenv("SRIX_AGENT_SETTINGS"); p != "" {
		return p, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "srix-agent", "settings.json"), nil
}

// Path returns the settings file location used by the last Load.
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return filePath
}

// Load reads settings from disk, or returns defaults if file doesn't exist.
func Load() (*Settings, error) {
	mu.Lock()
	defer mu.Unlock()

	path, err := getSettingsPath()
	if err != nil {
		current = DefaultSettings()
		return current, err
	}
	filePath = path

	data, err := os.ReadFile(path)
	if err != nil {
		current = DefaultSettings()
		if os.IsNotExist(err) {
			return current, nil
		}
		return current, err
	}

	s := DefaultSettings()
	if err := json.Unmarshal(data, s); err != nil {
		current = DefaultSettings()
		return current, err
	}

	current = s
	return current, nil
}

// Save writes the current settings to disk, replacing the file atomically.
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return saveLocked()
}

func saveLocked() error {
	if current == nil {
		current = DefaultSettings()
	}

	path, err := getSettingsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	filePath = path
	return nil
}

// Get returns a copy of the current settings, loading them on first use.
func Get() *Settings {
	mu.RLock()
	if current != nil {
		s := *current
		mu.RUnlock()
		return &s
	}
	mu.RUnlock()

	s, _ := Load()
	copied := *s
	return &copied
}

// Patch changes the fields that are set and leaves the rest alone.
type Patch struct {
	CrashReporting   *bool   `json:"crashReporting"`
	DefaultTagType   *string `json:"defaultTagType"`
	FixReadDirection *bool   `json:"fixReadDirection"`
}

// Apply validates p, applies it and saves once. Nothing changes when the
// tag type is not recognized.
func Apply(p Patch) (*Settings, error) {
	var tagType srix.TagType
	if p.DefaultTagType != nil {
		t, err := srix.ParseTagType(*p.DefaultTagType)
		if err != nil {
			return nil, err
		}
		tagType = t
	}

	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		current = DefaultSettings()
	}
	if p.CrashReporting != nil {
		current.CrashReporting = *p.CrashReporting
	}
	if p.DefaultTagType != nil {
		current.DefaultTagType = string(tagType)
	}
	if p.FixReadDirection != nil {
		current.FixReadDirection = *p.FixReadDirection
	}

	if err := saveLocked(); err != nil {
		return nil, err
	}
	s := *current
	return &s, nil
}

// SetCrashReporting updates the crash reporting preference and saves.
func SetCrashReporting(enabled bool) error {
	_, err := Apply(Patch{CrashReporting: &enabled})
	return err
}

// SetDefaultTagType validates and stores the default tag type.
func SetDefaultTagType(value string) error {
	_, err := Apply(Patch{DefaultTagType: &value})
	return err
}

// SetFixReadDirection updates the reversed display preference and saves.
func SetFixReadDirection(enabled bool) error {
	_, err := Apply(Patch{FixReadDirection: &enabled})
	return err
}

// IsCrashReportingEnabled returns whether crash reporting is enabled.
func IsCrashReportingEnabled() bool {
	return Get().CrashReporting
}

// TagType returns the stored default tag type, or SRIX4K when the stored
// value is not recognized.
func TagType() srix.TagType {
	t, err := srix.ParseTagType(Get().DefaultTagType)
	if err != nil {
		return srix.TagSRIX4K
	}
	return t
}
