// Package config holds the flat key→string settings map consumed at
// startup. The scheduler and engine client read their port, retry and
// timeout values from here; everything else is carried as an opaque
// string for the front end.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Keys the core itself consumes. The remaining defaults are UI
// preferences stored on behalf of the front end.
const (
	KeyRPCPort          = "rpc-port"
	KeyConnections      = "connections"
	KeyMaxTries         = "max-tries"
	KeyRetryWait        = "retry-wait"
	KeyTimeout          = "timeout"
	KeyDownloadPath     = "download_path"
	KeyDownloadPathTemp = "download_path_temp"
	KeySubfolder        = "subfolder"
	KeyAria2Path        = "aria2_path"
)

// DefaultDir returns the per-user configuration directory.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(base, "ghermez_download_manager"), nil
}

// Defaults returns the default settings map.
func Defaults() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return map[string]string{
		KeyRPCPort:          "6801",
		KeyConnections:      "16",
		KeyMaxTries:         "5",
		KeyRetryWait:        "0",
		KeyTimeout:          "60",
		KeyDownloadPath:     filepath.Join(home, "Downloads", "Ghermez"),
		KeyDownloadPathTemp: filepath.Join(home, ".ghermez"),
		KeySubfolder:        "yes",
		KeyAria2Path:        "",

		"locale":                 "en_US",
		"awake":                  "no",
		"startup":                "no",
		"show-progress":          "yes",
		"notification":           "Native notification",
		"after-dialog":           "yes",
		"tray-icon":              "yes",
		"hide-window":            "yes",
		"sound":                  "yes",
		"sound-volume":           "100",
		"video_finder/max_links": "3",
		"dont-check-certificate": "no",
	}
}

// Settings is the mutable settings store. All access is goroutine-safe.
type Settings struct {
	fs   afero.Fs
	path string

	mu     sync.RWMutex
	values map[string]string
}

// Load reads the settings file at path, merging it over the defaults.
// A missing file yields the defaults unchanged.
func Load(fs afero.Fs, path string) (*Settings, error) {
	s := &Settings{
		fs:     fs,
		path:   path,
		values: Defaults(),
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}
	for k, v := range stored {
		s.values[k] = v
	}
	return s, nil
}

// Get returns the value for key, or "" when unset.
func (s *Settings) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Int returns the value for key parsed as an integer, or fallback when
// the value is missing or unparsable.
func (s *Settings) Int(key string, fallback int) int {
	v := s.Get(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Seconds returns the value for key interpreted as a duration in
// seconds, or fallback when missing or unparsable.
func (s *Settings) Seconds(key string, fallback time.Duration) time.Duration {
	v := s.Get(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// Bool reports whether the value for key is the literal "yes".
func (s *Settings) Bool(key string) bool {
	return s.Get(key) == "yes"
}

// Set stores a value. Call Save to persist.
func (s *Settings) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Keys returns all setting keys in sorted order.
func (s *Settings) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the settings file, creating parent directories as needed.
func (s *Settings) Save() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create settings dir: %w", err)
		}
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
