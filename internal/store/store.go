// Package store persists what yee remembers between runs: the devices seen by
// the last scan, saved presets and paired Hue bridges.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"yee/internal/lights"
)

// Preset is a named light state. Nil fields are left untouched when applied.
type Preset struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Power      *bool  `json:"power,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Kelvin     *int   `json:"kelvin,omitempty"`
	// RGB is a hex color such as "ff6a00".
	RGB string `json:"rgb,omitempty"`
}

type HueBridge struct {
	ID       string `json:"id"`
	IP       string `json:"ip"`
	Username string `json:"username"`
}

type State struct {
	Devices    []lights.Device `json:"devices"`
	Presets    []Preset        `json:"presets"`
	HueBridges []HueBridge     `json:"hueBridges,omitempty"`
	// PresetsSeeded is set once the default presets were written, so that
	// deleting them all does not bring them back.
	PresetsSeeded bool `json:"presetsSeeded"`
}

type Store struct {
	mu       sync.Mutex
	state    State
	filePath string
}

// New opens the state file at path, or at DefaultPath when path is empty.
// A missing file yields an empty store.
func New(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	s := &Store{filePath: path}
	if err := s.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load state %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) GetDevices() []lights.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lights.Device(nil), s.state.Devices...)
}

// SetDevices records the result of a full scan.
func (s *Store) SetDevices(devices []lights.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Devices = append([]lights.Device(nil), devices...)
	return s.saveLocked()
}

// KnownCount is the number of devices the last scan found.
func (s *Store) KnownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Devices)
}

func (s *Store) GetPresets() []Preset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Preset(nil), s.state.Presets...)
}

func (s *Store) PresetsSeeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PresetsSeeded
}

// SeedPresets appends presets and marks the store as seeded.
func (s *Store) SeedPresets(presets []Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Presets = append(s.state.Presets, presets...)
	s.state.PresetsSeeded = true
	return s.saveLocked()
}

func (s *Store) UpsertPreset(p Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.state.Presets {
		if existing.ID == p.ID {
			s.state.Presets[i] = p
			return s.saveLocked()
		}
	}
	s.state.Presets = append(s.state.Presets, p)
	return s.saveLocked()
}

// DeletePreset removes the preset with id. It reports whether one existed.
func (s *Store) DeletePreset(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.state.Presets {
		if p.ID == id {
			s.state.Presets = append(s.state.Presets[:i], s.state.Presets[i+1:]...)
			return true, s.saveLocked()
		}
	}
	return false, nil
}

func (s *Store) GetHueBridges() []HueBridge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HueBridge(nil), s.state.HueBridges...)
}

// AddHueBridge stores the credentials for ip, replacing any earlier pairing
// with the same bridge.
func (s *Store) AddHueBridge(ip, username string) (HueBridge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.state.HueBridges {
		if b.IP == ip {
			s.state.HueBridges[i].Username = username
			return s.state.HueBridges[i], s.saveLocked()
		}
	}
	b := HueBridge{ID: uuid.New().String(), IP: ip, Username: username}
	s.state.HueBridges = append(s.state.HueBridges, b)
	return b, s.saveLocked()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, &s.state)
}

// saveLocked marshals state and writes atomically. Caller must hold s.mu.
func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.filePath)
}

// DefaultPath returns the per-user state file location.
func DefaultPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.json"), nil
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configDir() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			dir = xdg
			break
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "yee"), nil
}
