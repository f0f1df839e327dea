package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/gofrs/flock"
)

const appDir = "peeplink"

// UserSettings holds persistable user preferences
type UserSettings struct {
	Username       string `json:"username"`
	MicEnabled     bool   `json:"micEnabled"`
	CursorsEnabled bool   `json:"cursorsEnabled"`
	CursorColor    string `json:"cursorColor"`

	// STUNServers replaces the default STUN list when non-nil.
	STUNServers []string `json:"stunServers,omitempty"`
	TURNServer  string   `json:"turnServer,omitempty"`
	TURNUser    string   `json:"turnUser,omitempty"`
	TURNPass    string   `json:"turnPass,omitempty"`
	ForceRelay  bool     `json:"forceRelay"`

	GatherTimeoutMS int `json:"gatherTimeoutMs"`
	// RecordDir is where watchers write .webm recordings; empty disables it.
	RecordDir string `json:"recordDir,omitempty"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		MicEnabled:      true,
		CursorsEnabled:  true,
		CursorColor:     "#4ECDC4",
		GatherTimeoutMS: 5000,
	}
}

// GatherTimeout returns the ICE gathering bound.
func (s UserSettings) GatherTimeout() time.Duration {
	if s.GatherTimeoutMS <= 0 {
		return 0
	}
	return time.Duration(s.GatherTimeoutMS) * time.Millisecond
}

// DisplayName returns the configured username or a generated one.
func (s UserSettings) DisplayName() string {
	if s.Username != "" {
		return s.Username
	}
	return petname.Generate(2, "-")
}

// ConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS config dir.
func ConfigPath() (string, error) {
	var configDir string

	// Check for XDG override (for power users)
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, appDir)
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, appDir)
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads settings from the default config file.
func Load() (UserSettings, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultSettings(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from path.
// Returns default settings if file doesn't exist or is invalid.
func LoadFrom(path string) (UserSettings, error) {
	settings := DefaultSettings()

	lock := flock.New(path + ".lock")
	if locked, err := lock.TryRLock(); err == nil && locked {
		defer lock.Unlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist - use defaults, not an error
			return settings, nil
		}
		return settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := json.Unmarshal(data, &settings); err != nil {
		// Invalid JSON - use defaults
		return DefaultSettings(), nil
	}

	return settings, nil
}

// Save writes settings to the default config file.
func Save(settings UserSettings) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, settings)
}

// SaveTo writes settings to path while holding the config lock, replacing
// the file atomically.
func SaveTo(path string, settings UserSettings) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock settings: %w", err)
	}
	defer lock.Unlock()

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// the TURN password lives here
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
