// Package config implements the two user-visible controls of spec.md
// §6: replay_parallelism and nonreplayable_threshold. Grounded in the
// teacher's core/config/manager.go: an atomically-swapped *Config
// pointer, YAML on disk, environment overrides, and a watcher list
// notified on reload.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"gopkg.in/yaml.v3"
)

// Config holds every runtime-tunable knob of the trace/replay
// subsystem.
type Config struct {
	// ReplayParallelism is the slice count used by a template's
	// parallel interpreter (spec §4.D.4 execute_all). Zero means
	// "use the number of runtime worker threads", matching spec §6's
	// stated default.
	ReplayParallelism int `yaml:"replay_parallelism"`

	// NonreplayableThreshold is the number of consecutive
	// non-replayable finalizations at which a physical trace's
	// ExceedsThreshold starts reporting true (spec §6, §9 Open
	// Question, resolved to 2 in DESIGN.md). Nothing in this module
	// stops recording or proposing templates on its own when that
	// happens.
	NonreplayableThreshold int `yaml:"nonreplayable_threshold"`
}

// DefaultConfig returns the defaults spec.md and DESIGN.md settled on.
func DefaultConfig() *Config {
	return &Config{
		ReplayParallelism:      runtime.NumCPU(),
		NonreplayableThreshold: 2,
	}
}

// ResolvedReplayParallelism returns cfg.ReplayParallelism, falling
// back to runtime.NumCPU() if unset or non-positive.
func (c *Config) ResolvedReplayParallelism() int {
	if c == nil || c.ReplayParallelism <= 0 {
		return runtime.NumCPU()
	}
	return c.ReplayParallelism
}

// ResolvedNonreplayableThreshold returns cfg.NonreplayableThreshold,
// falling back to the package default of 2 if unset.
func (c *Config) ResolvedNonreplayableThreshold() int {
	if c == nil || c.NonreplayableThreshold <= 0 {
		return 2
	}
	return c.NonreplayableThreshold
}

// Manager owns the live Config, swapped atomically so readers never
// observe a torn struct mid-reload.
type Manager struct {
	configPtr unsafe.Pointer

	watchersMu sync.RWMutex
	watchers   []func(*Config)

	path string
}

// NewManager returns a Manager seeded with DefaultConfig, optionally
// backed by a YAML file at path (loaded lazily by Load).
func NewManager(path string) *Manager {
	m := &Manager{path: path}
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(DefaultConfig()))
	return m
}

// Get returns the currently active config.
func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// Load reads the YAML file (if any), applies environment overrides,
// swaps the active config, and notifies watchers.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if m.path != "" {
		if err := m.loadYAMLFile(m.path, cfg); err != nil {
			return fmt.Errorf("retrace config: %w", err)
		}
	}

	m.applyEnvironment(cfg)

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)
	return nil
}

func (m *Manager) loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvironment lets RETRACE_REPLAY_PARALLELISM and
// RETRACE_NONREPLAYABLE_THRESHOLD override the loaded values, matching
// the teacher's SYLK_* env-override convention.
func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("RETRACE_REPLAY_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.ReplayParallelism = n
		}
	}
	if v := os.Getenv("RETRACE_NONREPLAYABLE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.NonreplayableThreshold = n
		}
	}
}

// OnChange registers fn to be called with the new config every time
// Load/Reload swaps it in.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watchersMu.Lock()
	defer m.watchersMu.Unlock()
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watchersMu.RLock()
	watchers := append([]func(*Config){}, m.watchers...)
	m.watchersMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

// Reload re-reads the file and re-applies environment overrides.
func (m *Manager) Reload() error {
	return m.Load()
}
