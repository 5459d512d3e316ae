// Package state holds the single authoritative parameter store shared by the
// issuing side and the controller.
package state

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Snapshot is a full copy of all parameter values.
type Snapshot map[string]any

func (s Snapshot) String(key string) string {
	v, _ := s[key].(string)
	return v
}

func (s Snapshot) Float(key string) float64 {
	f, _ := ToFloat(s[key])
	return f
}

type Rejection struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Err   error  `json:"-"`
}

func (r Rejection) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Result reports the per-key outcome of a change request.
type Result struct {
	Accepted map[string]any
	Rejected []Rejection
}

// Listener receives the full mapping after every batch that changed at least
// one key. Listeners are called in mutation order and must not call back
// into the Model.
type Listener func(Snapshot)

type Model struct {
	logger *zap.Logger
	schema Schema

	// notifyMu orders notifications the same way as the mutations
	notifyMu sync.Mutex

	mu     sync.RWMutex
	values map[string]any

	listenersMu sync.RWMutex
	listeners   []Listener
}

// NewModel validates the startup values against the schema. Every schema key
// must have a valid initial value.
func NewModel(schema Schema, initial map[string]any, logger *zap.Logger) (*Model, error) {
	values := make(map[string]any, len(schema))
	for key, param := range schema {
		raw, ok := initial[key]
		if !ok {
			return nil, fmt.Errorf("missing startup value for %q", key)
		}
		v, err := param.Coerce(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid startup value: %w", err)
		}
		values[key] = v
	}

	return &Model{
		logger: logger,
		schema: schema,
		values: values,
	}, nil
}

// Get returns the current value of key.
func (m *Model) Get(key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v, nil
}

// Snapshot returns a consistent copy of all values.
func (m *Model) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.values)
}

// Param returns the schema entry for key.
func (m *Model) Param(key string) (Param, bool) {
	p, ok := m.schema[key]
	return p, ok
}

// Validate checks a single value without applying it.
func (m *Model) Validate(key string, value any) error {
	p, ok := m.schema[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	_, err := p.Coerce(value)
	return err
}

// OnChange registers a listener for state-changed notifications.
func (m *Model) OnChange(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RequestChange applies every valid key of changes independently. Read-only
// keys are rejected.
func (m *Model) RequestChange(changes map[string]any) Result {
	return m.apply(changes, false)
}

// Assign is the controller's write path; it may set read-only keys but is
// otherwise validated like RequestChange.
func (m *Model) Assign(changes map[string]any) Result {
	return m.apply(changes, true)
}

func (m *Model) apply(changes map[string]any, internal bool) Result {
	res := Result{Accepted: make(map[string]any, len(changes))}

	// deterministic order for logs and rejections
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	for _, key := range keys {
		raw := changes[key]
		param, ok := m.schema[key]
		if !ok {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Value: raw, Err: fmt.Errorf("%w: %s", ErrUnknownKey, key)})
			continue
		}
		if param.ReadOnly && !internal {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Value: raw, Err: fmt.Errorf("%w: %s", ErrReadOnly, key)})
			continue
		}
		v, err := param.Coerce(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Key: key, Value: raw, Err: err})
			continue
		}
		m.values[key] = v
		res.Accepted[key] = v
	}
	var snap Snapshot
	if len(res.Accepted) > 0 {
		snap = maps.Clone(m.values)
	}
	m.mu.Unlock()

	for _, r := range res.Rejected {
		m.logger.Warn("State change rejected",
			zap.String("key", r.Key),
			zap.Any("value", r.Value),
			zap.Error(r.Err))
	}

	if snap != nil {
		m.listenersMu.RLock()
		for _, l := range m.listeners {
			l(snap)
		}
		m.listenersMu.RUnlock()
	}

	return res
}
