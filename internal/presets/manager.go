// Package presets manages named light states and expands them into
// command operations.
package presets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"yee/internal/command"
	"yee/internal/lights"
	"yee/internal/store"
)

var (
	ErrNotFound = errors.New("preset not found")
	ErrExists   = errors.New("preset already exists")
)

func ptr[T any](v T) *T { return &v }

// Defaults are written on first use.
func Defaults() []store.Preset {
	return []store.Preset{
		{Name: "day", Power: ptr(true), Brightness: ptr(100), Kelvin: ptr(5000)},
		{Name: "evening", Power: ptr(true), Brightness: ptr(60), Kelvin: ptr(2700)},
		{Name: "night", Power: ptr(true), Brightness: ptr(10), RGB: "ff6a00"},
		{Name: "off", Power: ptr(false)},
	}
}

type Manager struct {
	mu    sync.Mutex
	store *store.Store
}

func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// EnsureDefaults seeds the default presets unless that already happened.
func (m *Manager) EnsureDefaults() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store.PresetsSeeded() {
		return nil
	}
	defaults := Defaults()
	existing := m.store.GetPresets()
	var add []store.Preset
	for _, d := range defaults {
		if indexByName(existing, d.Name) >= 0 {
			continue
		}
		d.ID = uuid.New().String()
		add = append(add, d)
	}
	return m.store.SeedPresets(add)
}

// List returns all presets ordered by name.
func (m *Manager) List() []store.Preset {
	presets := m.store.GetPresets()
	sort.Slice(presets, func(i, j int) bool { return presets[i].Name < presets[j].Name })
	return presets
}

func (m *Manager) Get(id string) (store.Preset, error) {
	for _, p := range m.store.GetPresets() {
		if p.ID == id {
			return p, nil
		}
	}
	return store.Preset{}, fmt.Errorf("%w: id %s", ErrNotFound, id)
}

// Find looks a preset up by name, ignoring case.
func (m *Manager) Find(name string) (store.Preset, error) {
	presets := m.store.GetPresets()
	if i := indexByName(presets, name); i >= 0 {
		return presets[i], nil
	}
	return store.Preset{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}

func (m *Manager) Create(name string, p store.Preset) (store.Preset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Preset{}, errors.New("preset name must not be empty")
	}
	p.Name = name
	if err := Validate(p); err != nil {
		return store.Preset{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if indexByName(m.store.GetPresets(), name) >= 0 {
		return store.Preset{}, fmt.Errorf("%w: %q", ErrExists, name)
	}
	p.ID = uuid.New().String()
	if err := m.store.UpsertPreset(p); err != nil {
		return store.Preset{}, err
	}
	return p, nil
}

// Delete removes the preset with the given name.
func (m *Manager) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.Find(name)
	if err != nil {
		return err
	}
	_, err = m.store.DeletePreset(p.ID)
	return err
}

// Validate rejects presets that would send nothing or conflicting colors.
func Validate(p store.Preset) error {
	if p.Power == nil && p.Brightness == nil && p.Kelvin == nil && p.RGB == "" {
		return fmt.Errorf("preset %q sets nothing", p.Name)
	}
	if p.Kelvin != nil && p.RGB != "" {
		return fmt.Errorf("preset %q sets both kelvin and rgb", p.Name)
	}
	ops, err := Operations(p, lights.Sudden)
	if err != nil {
		return err
	}
	for _, op := range ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("preset %q: %w", p.Name, err)
		}
	}
	return nil
}

// Operations expands a preset into the per-device operation list. Power off
// short-circuits the rest; power on goes first so the other values land on a
// lit device.
func Operations(p store.Preset, mode lights.PowerMode) ([]command.Operation, error) {
	if p.Power != nil && !*p.Power {
		return []command.Operation{command.Power(false, mode)}, nil
	}

	var ops []command.Operation
	if p.Power != nil {
		ops = append(ops, command.Power(true, mode))
	}
	if p.Brightness != nil {
		ops = append(ops, command.Brightness(*p.Brightness))
	}
	if p.Kelvin != nil {
		ops = append(ops, command.ColorTemperature(*p.Kelvin))
	}
	if p.RGB != "" {
		c, err := lights.ParseRGB(p.RGB)
		if err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		ops = append(ops, command.Color(c))
	}
	return ops, nil
}

// Describe renders a preset as a short one-line summary.
func Describe(p store.Preset) string {
	var parts []string
	if p.Power != nil {
		if *p.Power {
			parts = append(parts, "on")
		} else {
			parts = append(parts, "off")
		}
	}
	if p.Brightness != nil {
		parts = append(parts, fmt.Sprintf("%d%%", *p.Brightness))
	}
	if p.Kelvin != nil {
		parts = append(parts, fmt.Sprintf("%dK", *p.Kelvin))
	}
	if p.RGB != "" {
		parts = append(parts, "#"+strings.TrimPrefix(strings.ToLower(p.RGB), "#"))
	}
	return strings.Join(parts, " ")
}

func indexByName(presets []store.Preset, name string) int {
	for i, p := range presets {
		if strings.EqualFold(p.Name, name) {
			return i
		}
	}
	return -1
}
