package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Health is the coarse availability state of a provider.
type Health int

const (
	// Healthy means the provider has not failed since its last success.
	Healthy Health = iota
	// Degraded means the provider has failed at least once but is still
	// below its failure threshold and remains selectable.
	Degraded
	// Disabled means the provider reached its failure threshold and is
	// skipped until re-enabled by cooldown or an explicit reset.
	Disabled
)

// String returns the lowercase name of the health state.
func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("health(%d)", int(h))
	}
}

// MarshalText renders the health state as its string name in JSON.
func (h Health) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText parses a health name produced by MarshalText.
func (h *Health) UnmarshalText(text []byte) error {
	switch string(text) {
	case "healthy":
		*h = Healthy
	case "degraded":
		*h = Degraded
	case "disabled":
		*h = Disabled
	default:
		return fmt.Errorf("provider: unknown health %q", text)
	}
	return nil
}

// ErrUnknown is returned when an operation names a provider that was never
// registered with the table.
var ErrUnknown = errors.New("provider: unknown provider")

// Spec describes a provider at registration time.
type Spec struct {
	Name        string
	Priority    int
	MaxFailures int
	// Configured reports whether an underlying client exists for the
	// provider. Unconfigured providers are tracked but never selected.
	Configured bool
}

// State is a point-in-time view of one provider's health record.
type State struct {
	Name                string    `json:"name"`
	Priority            int       `json:"priority"`
	Health              Health    `json:"health"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	MaxFailures         int       `json:"max_failures"`
	Configured          bool      `json:"configured"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	DisabledAt          time.Time `json:"disabled_at,omitzero"`
	LastError           string    `json:"last_error,omitempty"`

	order int
}

// Eligible reports whether the provider may be selected.
func (s State) Eligible() bool {
	return s.Configured && s.ConsecutiveFailures < s.MaxFailures
}

func (s *State) refreshHealth() {
	switch {
	case s.ConsecutiveFailures >= s.MaxFailures:
		s.Health = Disabled
	case s.ConsecutiveFailures > 0:
		s.Health = Degraded
	default:
		s.Health = Healthy
	}
}

// Option configures a Table.
type Option func(*Table)

// WithClock overrides the time source. Tests use it to move past cooldown
// windows without sleeping.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		if now != nil {
			t.now = now
		}
	}
}

// Table is a thread-safe health table keyed by provider name. Both the
// generation router and the search aggregator keep one.
type Table struct {
	mu     sync.Mutex
	states map[string]*State
	next   int
	now    func() time.Time
}

// NewTable creates an empty health table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		states: make(map[string]*State),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a provider. A MaxFailures below 1 is treated as 1.
// Registering a name twice is an error.
func (t *Table) Register(spec Spec) error {
	if spec.Name == "" {
		return errors.New("provider: name must not be empty")
	}
	if spec.MaxFailures < 1 {
		spec.MaxFailures = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.states[spec.Name]; exists {
		return fmt.Errorf("provider: %q already registered", spec.Name)
	}
	t.states[spec.Name] = &State{
		Name:        spec.Name,
		Priority:    spec.Priority,
		Health:      Healthy,
		MaxFailures: spec.MaxFailures,
		Configured:  spec.Configured,
		order:       t.next,
	}
	t.next++
	return nil
}

// RecordSuccess clears the failure count, stamps the success time and
// returns the provider to Healthy.
func (t *Table) RecordSuccess(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	s.ConsecutiveFailures = 0
	s.LastSuccess = t.now()
	s.DisabledAt = time.Time{}
	s.LastError = ""
	s.refreshHealth()
	return nil
}

// RecordFailure increments the consecutive failure count and returns the
// resulting health. Reaching MaxFailures disables the provider.
func (t *Table) RecordFailure(name string, cause error) (Health, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[name]
	if !ok {
		return Disabled, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	s.ConsecutiveFailures++
	if cause != nil {
		s.LastError = cause.Error()
	}
	wasDisabled := s.Health == Disabled
	s.refreshHealth()
	if s.Health == Disabled && !wasDisabled {
		s.DisabledAt = t.now()
	}
	return s.Health, nil
}

// Reenable gives disabled providers another trial once their last success
// is older than the cooldown. Providers that never succeeded are measured
// from the moment they were disabled. A re-enabled provider sits one failure below its threshold, so
// a failed trial disables it again immediately. Unconfigured providers are
// never re-enabled. A non-positive cooldown turns this off. The names of
// re-enabled providers are returned.
func (t *Table) Reenable(cooldown time.Duration) []string {
	if cooldown <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var names []string
	for _, s := range t.sortedLocked() {
		if s.Health != Disabled || !s.Configured {
			continue
		}
		ref := s.LastSuccess
		if ref.IsZero() {
			ref = s.DisabledAt
		}
		if now.Sub(ref) < cooldown {
			continue
		}
		s.ConsecutiveFailures = s.MaxFailures - 1
		s.DisabledAt = time.Time{}
		s.refreshHealth()
		names = append(names, s.Name)
	}
	return names
}

// Reset clears the failure count of a single provider.
func (t *Table) Reset(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	s.ConsecutiveFailures = 0
	s.DisabledAt = time.Time{}
	s.refreshHealth()
	return nil
}

// ResetAll clears every failure counter in the table.
func (t *Table) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.states {
		s.ConsecutiveFailures = 0
		s.DisabledAt = time.Time{}
		s.refreshHealth()
	}
}

// Candidates returns the eligible providers ordered by priority, then by
// consecutive failures, then by registration order. Names present in
// exclude are left out.
func (t *Table) Candidates(exclude map[string]bool) []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []State
	for _, s := range t.states {
		if exclude[s.Name] || !s.Eligible() {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].ConsecutiveFailures != out[j].ConsecutiveFailures {
			return out[i].ConsecutiveFailures < out[j].ConsecutiveFailures
		}
		return out[i].order < out[j].order
	})
	return out
}

// AnyConfigured reports whether at least one registered provider has a
// client behind it.
func (t *Table) AnyConfigured() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.states {
		if s.Configured {
			return true
		}
	}
	return false
}

// Get returns a copy of the named provider's state.
func (t *Table) Get(name string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[name]
	if !ok {
		return State{}, false
	}
	return *s, true
}

// Snapshot returns copies of all states ordered by priority and then
// registration order.
func (t *Table) Snapshot() []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	sorted := t.sortedLocked()
	out := make([]State, len(sorted))
	for i, s := range sorted {
		out[i] = *s
	}
	return out
}

// Len returns the number of registered providers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// sortedLocked returns the live state pointers in (priority, order) order.
// The caller must hold t.mu.
func (t *Table) sortedLocked() []*State {
	out := make([]*State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].order < out[j].order
	})
	return out
}
