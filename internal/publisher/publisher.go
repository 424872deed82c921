// Package publisher is the object-path tree the gateway exposes on the
// host bus: a mapping of string paths to typed values. The control
// engine is the only writer of outbound paths; external agents mutate
// writable paths through Write, whose callback must only enqueue work
// for the control loop.
package publisher

import (
	"fmt"
	"sort"
	"sync"
)

// Type is the value type carried by a path.
type Type int

const (
	TypeInt Type = iota
	TypeFloat
	TypeString
)

// OnChange is invoked when an external agent writes a writable path.
// It runs on the caller's goroutine and must only enqueue work; the
// returned bool is the synchronous accept/reject answer to the caller.
type OnChange func(path string, value any) bool

// Subscriber observes every value change, e.g. to mirror the tree onto
// MQTT.
type Subscriber func(path string, value any)

type entry struct {
	typ      Type
	value    any
	writable bool
	onChange OnChange
}

// Service is the path registry. All methods are safe for concurrent
// use.
type Service struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	subscribers []Subscriber
}

func New() *Service {
	return &Service{entries: make(map[string]*entry)}
}

// Register adds a path. Writable paths require a callback.
func (s *Service) Register(path string, typ Type, initial any, writable bool, cb OnChange) error {
	coerced, err := coerce(typ, initial)
	if err != nil {
		return fmt.Errorf("register %s: %w", path, err)
	}
	if writable && cb == nil {
		return fmt.Errorf("register %s: writable path needs a callback", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[path]; exists {
		return fmt.Errorf("register %s: path already registered", path)
	}
	s.entries[path] = &entry{typ: typ, value: coerced, writable: writable, onChange: cb}
	return nil
}

// Set updates a path's value from the core. Unknown paths and type
// mismatches are errors (reported, not fatal to the caller's loop).
func (s *Service) Set(path string, value any) error {
	s.mu.Lock()
	e, ok := s.entries[path]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("set %s: unknown path", path)
	}
	coerced, err := coerce(e.typ, value)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("set %s: %w", path, err)
	}
	changed := e.value != coerced
	e.value = coerced
	subs := s.subscribers
	s.mu.Unlock()

	if changed {
		for _, fn := range subs {
			fn(path, coerced)
		}
	}
	return nil
}

// Get returns a path's current value.
func (s *Service) Get(path string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetFloat returns a float path's value, zero if absent.
func (s *Service) GetFloat(path string) float64 {
	v, ok := s.Get(path)
	if !ok {
		return 0
	}
	f, _ := v.(float64)
	return f
}

// GetInt returns an int path's value, zero if absent.
func (s *Service) GetInt(path string) int {
	v, ok := s.Get(path)
	if !ok {
		return 0
	}
	i, _ := v.(int)
	return i
}

// Write is the external mutation entry point. It validates the path,
// coerces the value, and defers the decision to the path's callback.
func (s *Service) Write(path string, value any) bool {
	s.mu.RLock()
	e, ok := s.entries[path]
	s.mu.RUnlock()

	if !ok || !e.writable {
		return false
	}
	coerced, err := coerce(e.typ, value)
	if err != nil {
		return false
	}
	return e.onChange(path, coerced)
}

// Writable reports whether a path accepts external writes.
func (s *Service) Writable(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[path]
	return ok && e.writable
}

// Subscribe registers an observer for every value change. Must be
// called during setup, before values start flowing.
func (s *Service) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Snapshot returns a copy of the whole tree, for the HTTP surface.
func (s *Service) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.entries))
	for path, e := range s.entries {
		out[path] = e.value
	}
	return out
}

// Paths returns all registered paths, sorted.
func (s *Service) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for path := range s.entries {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// coerce converts value to the path's declared type. JSON decoding and
// MQTT payloads deliver numbers as float64; both int and float paths
// accept them.
func coerce(typ Type, value any) (any, error) {
	switch typ {
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case float32:
			return int(v), nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("value %v (%T) does not match declared type", value, value)
}
