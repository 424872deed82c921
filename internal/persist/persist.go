// Package persist stores the operator intent and session counters that
// must survive a restart. Writes are atomic: the document is written to
// a temporary file and renamed over the target, so a crash never leaves
// a partial file behind.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// ActiveSession is a charging session in progress at snapshot time.
type ActiveSession struct {
	StartTime        string  `json:"start_time"`
	StartEnergyKWh   float64 `json:"start_energy_kwh"`
	CurrentEnergyKWh float64 `json:"current_energy_kwh"`
}

// SessionState is the session tracker's persisted section.
type SessionState struct {
	TotalSessions  int            `json:"total_sessions"`
	TotalEnergyKWh float64        `json:"total_energy_kWh"`
	LastEnergyKWh  float64        `json:"last_energy_kWh"`
	ActiveSession  *ActiveSession `json:"active_session,omitempty"`
}

// Document is the single JSON object on disk.
type Document struct {
	Mode                   int          `json:"mode"`
	StartStop              int          `json:"start_stop"`
	SetCurrent             float64      `json:"set_current"`
	ChargingStartTime      float64      `json:"charging_start_time"`
	InsufficientSolarStart float64      `json:"insufficient_solar_start"`
	Session                SessionState `json:"session"`
}

// Store reads and writes the snapshot file. Writes are serialized by an
// in-process mutex; a later write supersedes an earlier one.
type Store struct {
	path string
	log  *zap.Logger
	mu   sync.Mutex
}

func NewStore(path string, log *zap.Logger) *Store {
	return &Store{path: path, log: log}
}

// Load reads the document. A missing or unparsable file yields an
// empty document with defaults, never an error: persistence problems
// must not stop the gateway.
func (s *Store) Load() Document {
	doc := Document{
		StartStop:  1,
		SetCurrent: 6.0,
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read state file", zap.String("path", s.path), zap.Error(err))
		} else {
			s.log.Info("no existing state file", zap.String("path", s.path))
		}
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		s.log.Warn("state file is not valid JSON, starting fresh",
			zap.String("path", s.path), zap.Error(err))
		return Document{StartStop: 1, SetCurrent: 6.0}
	}
	s.log.Info("loaded state", zap.String("path", s.path))
	return doc
}

// Save writes the document atomically, creating the parent directory
// if needed.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	s.log.Debug("saved state", zap.String("path", s.path))
	return nil
}
