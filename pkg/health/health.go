// Package health tracks the reachability of the stores behind a cache manager
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/objectfs/cachemgr/pkg/errors"
)

// HealthState represents the health of a store
type HealthState int

const (
	// StateHealthy indicates the store answers reads and writes
	StateHealthy HealthState = iota

	// StateDegraded indicates repeated failures below the unavailable threshold
	StateDegraded

	// StateReadOnly indicates writes fail (for example a full quota) while
	// reads still work
	StateReadOnly

	// StateUnavailable indicates the store is not reachable
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText
func (s *HealthState) UnmarshalText(text []byte) error {
	for _, state := range []HealthState{StateHealthy, StateDegraded, StateReadOnly, StateUnavailable} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown health state %q", text)
}

// ComponentHealth tracks the health of one store
type ComponentHealth struct {
	Name              string      `json:"name"`
	State             HealthState `json:"state"`
	LastStateChange   time.Time   `json:"last_state_change"`
	LastHealthCheck   time.Time   `json:"last_health_check"`
	ConsecutiveErrors int         `json:"consecutive_errors"`
	LastErrorMessage  string      `json:"last_error_message,omitempty"`
}

// Tracker tracks the health of registered stores
type Tracker struct {
	mu             sync.RWMutex
	components     map[string]*ComponentHealth
	config         TrackerConfig
	stateCallbacks []StateChangeCallback
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before a store is degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a store is unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval between automatic checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// StateChangeCallback is called when a store's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// CheckFunc probes one component
type CheckFunc func(ctx context.Context, component string) error

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       2,
		UnavailableThreshold: 5,
		HealthCheckInterval:  15 * time.Second,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	defaults := DefaultConfig()
	if config.ErrorThreshold <= 0 {
		config.ErrorThreshold = defaults.ErrorThreshold
	}
	if config.UnavailableThreshold < config.ErrorThreshold {
		config.UnavailableThreshold = config.ErrorThreshold
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = defaults.HealthCheckInterval
	}
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		config:     config,
	}
}

// RegisterComponent starts tracking a store. Registering twice is a no-op.
func (t *Tracker) RegisterComponent(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := time.Now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
		}
	}
}

// RecordSuccess records a successful check. One success restores a store to
// healthy.
func (t *Tracker) RecordSuccess(component string) {
	t.record(component, nil)
}

// RecordError records a failed check
func (t *Tracker) RecordError(component string, err error) {
	if err == nil {
		err = fmt.Errorf("unknown failure")
	}
	t.record(component, err)
}

func (t *Tracker) record(component string, err error) {
	t.mu.Lock()
	health, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := health.State
	health.LastHealthCheck = time.Now()

	newState := StateHealthy
	if err != nil {
		health.ConsecutiveErrors++
		health.LastErrorMessage = err.Error()
		newState = t.stateFor(health, err)
	} else {
		health.ConsecutiveErrors = 0
		health.LastErrorMessage = ""
	}

	if newState != oldState {
		health.State = newState
		health.LastStateChange = health.LastHealthCheck
	}
	callbacks := t.stateCallbacks
	t.mu.Unlock()

	if newState != oldState {
		for _, callback := range callbacks {
			callback(component, oldState, newState, err)
		}
	}
}

// stateFor returns the state after a failure. Must hold t.mu.
func (t *Tracker) stateFor(health *ComponentHealth, err error) HealthState {
	switch {
	case health.ConsecutiveErrors >= t.config.UnavailableThreshold:
		return StateUnavailable
	case isWriteError(err):
		return StateReadOnly
	case health.ConsecutiveErrors >= t.config.ErrorThreshold:
		return StateDegraded
	default:
		return health.State
	}
}

// GetState returns the current state of a component. Unknown components
// are unavailable.
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if health, exists := t.components[component]; exists {
		return health.State
	}
	return StateUnavailable
}

// GetComponentHealth returns a copy of a component's health
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	health, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	cp := *health
	return &cp, nil
}

// GetAllComponents returns copies of every component's health, sorted by name
func (t *Tracker) GetAllComponents() []ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(t.components))
	for _, health := range t.components {
		result = append(result, *health)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetOverallHealth returns the worst state among all components
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overallState := StateHealthy
	for _, health := range t.components {
		if health.State > overallState {
			overallState = health.State
		}
	}
	return overallState
}

// IsHealthy returns true if the component is healthy
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanRead returns true if the component serves reads
func (t *Tracker) CanRead(component string) bool {
	return t.GetState(component) != StateUnavailable
}

// CanWrite returns true if the component accepts writes
func (t *Tracker) CanWrite(component string) bool {
	state := t.GetState(component)
	return state == StateHealthy || state == StateDegraded
}

// AddStateChangeCallback registers a callback for every state change.
// Callbacks run synchronously after the tracker's lock is released.
func (t *Tracker) AddStateChangeCallback(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateCallbacks = append(t.stateCallbacks, callback)
}

// isWriteError reports failures that leave reads working
func isWriteError(err error) bool {
	code, ok := errors.CodeOf(err)
	if !ok {
		return false
	}
	return code == errors.ErrCodeQuotaExceeded || code == errors.ErrCodeStorageWrite
}

// StartHealthChecks runs checkFn for every component on each interval
// until ctx is cancelled. A check is also run immediately.
func (t *Tracker) StartHealthChecks(ctx context.Context, checkFn CheckFunc) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	t.CheckNow(ctx, checkFn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx, checkFn)
		}
	}
}

// CheckNow runs checkFn once for every component
func (t *Tracker) CheckNow(ctx context.Context, checkFn CheckFunc) {
	t.mu.RLock()
	components := make([]string, 0, len(t.components))
	for name := range t.components {
		components = append(components, name)
	}
	t.mu.RUnlock()

	for _, component := range components {
		if err := checkFn(ctx, component); err != nil {
			t.RecordError(component, err)
		} else {
			t.RecordSuccess(component)
		}
	}
}
