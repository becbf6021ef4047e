package capability

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/storyloom/internal/constants"
	slerrors "github.com/mrz1836/storyloom/internal/errors"
)

type registration struct {
	capability Capability
	priority   int
	enabled    bool
	seq        int
}

// Info describes a registered capability.
type Info struct {
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Enabled  bool     `json:"enabled"`
	Hooks    []string `json:"hooks"`
}

// Registry holds the process-wide capability list and enabled flags.
// It is safe for concurrent use; sessions never read it directly but take
// an immutable Snapshot at start.
type Registry struct {
	mu      sync.RWMutex
	entries []*registration
	byName  map[string]*registration
	logger  zerolog.Logger
}

// NewRegistry creates an empty capability registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]*registration),
		logger: logger,
	}
}

// Register adds an enabled capability. Names must be unique.
func (r *Registry) Register(c Capability) error {
	if c == nil || c.Name() == "" {
		return fmt.Errorf("capability name: %w", slerrors.ErrEmptyValue)
	}
	if err := checkPriority(c.Name(), c.Priority()); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[c.Name()]; exists {
		return fmt.Errorf("%w: %s", slerrors.ErrCapabilityExists, c.Name())
	}
	reg := &registration{
		capability: c,
		priority:   c.Priority(),
		enabled:    true,
		seq:        len(r.entries),
	}
	r.entries = append(r.entries, reg)
	r.byName[c.Name()] = reg
	return nil
}

// Enable turns a capability on for sessions started afterwards.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable turns a capability off for sessions started afterwards.
// Running sessions keep the snapshot they started with.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrCapabilityNotFound, name)
	}
	if reg.enabled != enabled {
		r.logger.Info().Str("capability", name).Bool("enabled", enabled).Msg("capability toggled")
	}
	reg.enabled = enabled
	return nil
}

// SetPriority overrides a capability's priority.
func (r *Registry) SetPriority(name string, priority int) error {
	if err := checkPriority(name, priority); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", slerrors.ErrCapabilityNotFound, name)
	}
	reg.priority = priority
	return nil
}

// List returns every registered capability in execution order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sorted := r.sortedLocked()
	infos := make([]Info, 0, len(sorted))
	for _, reg := range sorted {
		infos = append(infos, Info{
			Name:     reg.capability.Name(),
			Priority: reg.priority,
			Enabled:  reg.enabled,
			Hooks:    hookNames(reg.capability),
		})
	}
	return infos
}

// Snapshot returns an immutable pipeline of the currently enabled
// capabilities in execution order.
func (r *Registry) Snapshot() *Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var entries []entry
	for _, reg := range r.sortedLocked() {
		if !reg.enabled {
			continue
		}
		entries = append(entries, entry{
			name:       reg.capability.Name(),
			priority:   reg.priority,
			capability: reg.capability,
		})
	}
	return &Pipeline{entries: entries, logger: r.logger}
}

// sortedLocked orders registrations by descending priority, then
// registration order. Callers hold r.mu.
func (r *Registry) sortedLocked() []*registration {
	sorted := make([]*registration, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(a, b int) bool {
		if sorted[a].priority != sorted[b].priority {
			return sorted[a].priority > sorted[b].priority
		}
		return sorted[a].seq < sorted[b].seq
	})
	return sorted
}

func checkPriority(name string, priority int) error {
	if priority < constants.MinPriority || priority > constants.MaxPriority {
		return fmt.Errorf("%w: capability %s priority %d not in [%d,%d]",
			slerrors.ErrValueOutOfRange, name, priority, constants.MinPriority, constants.MaxPriority)
	}
	return nil
}
