// Package api is the HTTP control and observation surface: status
// snapshot, config read/update, and the three mutation endpoints. All
// mutations go through the publisher's writable paths, so the control
// loop stays the single owner of charger state.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/config"
	"github.com/edgxcloud/chargegate/internal/health"
	"github.com/edgxcloud/chargegate/internal/metrics"
	"github.com/edgxcloud/chargegate/internal/publisher"
)

// Service handles business logic for the API
type Service struct {
	cfg        *config.Config
	configPath string
	pub        *publisher.Service
	metrics    *metrics.Metrics
	health     *health.Checker
	log        *zap.Logger
}

// NewService creates a new API service
func NewService(cfg *config.Config, configPath string, pub *publisher.Service,
	m *metrics.Metrics, h *health.Checker, log *zap.Logger) *Service {
	return &Service{
		cfg:        cfg,
		configPath: configPath,
		pub:        pub,
		metrics:    m,
		health:     h,
		log:        log,
	}
}

// Status returns the full object tree as a JSON-ready map.
func (s *Service) Status() map[string]any {
	return s.pub.Snapshot()
}

// Metrics returns the operational counters.
func (s *Service) Metrics() map[string]any {
	s.metrics.UpdateSystemMetrics()
	return s.metrics.GetMetrics()
}

// Health runs the registered checks.
func (s *Service) Health(ctx context.Context) (health.Status, map[string]*health.Check) {
	checks := s.health.RunChecks(ctx)
	return s.health.OverallStatus(), checks
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// SaveConfig writes a new configuration document to the config path.
// The running process keeps its loaded configuration; a restart picks
// the new file up.
func (s *Service) SaveConfig(doc map[string]any) error {
	if s.configPath == "" {
		return fmt.Errorf("no config path configured")
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp := s.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, s.configPath); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	s.log.Info("configuration file updated, restart required",
		zap.String("path", s.configPath))
	return nil
}

// SetMode requests a mode change through the host-bus path.
func (s *Service) SetMode(mode int) bool {
	return s.pub.Write("/Mode", mode)
}

// SetStartStop requests an enable change through the host-bus path.
func (s *Service) SetStartStop(value int) bool {
	return s.pub.Write("/StartStop", value)
}

// SetCurrent requests a set-current change through the host-bus path.
func (s *Service) SetCurrent(amps float64) bool {
	return s.pub.Write("/SetCurrent", amps)
}
