package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Metrics holds the gateway's operational counters
type Metrics struct {
	// Poll loop metrics
	TotalPolls   int64 `json:"total_polls"`
	FailedPolls  int64 `json:"failed_polls"`
	PartialReads int64 `json:"partial_reads"`
	Reconnects   int64 `json:"reconnects"`
	LastPollUnix int64 `json:"last_poll_unix"`

	// Set-point metrics
	SetPointWrites    int64 `json:"set_point_writes"`
	WatchdogRefreshes int64 `json:"watchdog_refreshes"`
	VerifyFailures    int64 `json:"verify_failures"`

	// Session metrics
	SessionsStarted int64   `json:"sessions_started"`
	EnergyTotalKWh  float64 `json:"energy_total_kwh"`

	// System metrics
	Uptime         int64  `json:"uptime_seconds"`
	MemoryUsed     uint64 `json:"memory_used_bytes"`
	MemoryTotal    uint64 `json:"memory_total_bytes"`
	GoroutineCount int    `json:"goroutine_count"`

	mu        sync.RWMutex
	startTime time.Time
}

// NewMetrics creates a Metrics
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordPoll counts one completed tick
func (m *Metrics) RecordPoll(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalPolls++
	if !ok {
		m.FailedPolls++
	}
	m.LastPollUnix = time.Now().Unix()
}

// RecordPartialRead counts a tick where some register blocks failed
func (m *Metrics) RecordPartialRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PartialReads++
}

// RecordReconnect counts a completed reconnect
func (m *Metrics) RecordReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reconnects++
}

// RecordSetPointWrite counts a set-point write, watchdog or not
func (m *Metrics) RecordSetPointWrite(watchdog bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetPointWrites++
	if watchdog {
		m.WatchdogRefreshes++
	}
}

// RecordVerifyFailure counts a read-back mismatch
func (m *Metrics) RecordVerifyFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VerifyFailures++
}

// RecordSessionStart counts a confirmed charging session
func (m *Metrics) RecordSessionStart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsStarted++
}

// SetEnergyTotal mirrors the lifetime delivered energy
func (m *Metrics) SetEnergyTotal(kwh float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnergyTotalKWh = kwh
}

// UpdateSystemMetrics refreshes uptime and runtime stats
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Uptime = int64(time.Since(m.startTime).Seconds())

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	m.MemoryUsed = memStats.Alloc
	m.MemoryTotal = memStats.Sys

	m.GoroutineCount = runtime.NumGoroutine()
}

// GetMetrics returns a snapshot for the HTTP surface
func (m *Metrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"polls": map[string]interface{}{
			"total":          m.TotalPolls,
			"failed":         m.FailedPolls,
			"partial_reads":  m.PartialReads,
			"reconnects":     m.Reconnects,
			"last_poll_unix": m.LastPollUnix,
		},
		"set_point": map[string]interface{}{
			"writes":             m.SetPointWrites,
			"watchdog_refreshes": m.WatchdogRefreshes,
			"verify_failures":    m.VerifyFailures,
		},
		"sessions": map[string]interface{}{
			"started":          m.SessionsStarted,
			"energy_total_kwh": m.EnergyTotalKWh,
		},
		"system": map[string]interface{}{
			"uptime_seconds": m.Uptime,
			"memory_used":    m.MemoryUsed,
			"memory_total":   m.MemoryTotal,
			"goroutines":     m.GoroutineCount,
		},
	}
}

// LastPollAge returns the time since the last completed tick
func (m *Metrics) LastPollAge() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LastPollUnix == 0 {
		return -1
	}
	return time.Since(time.Unix(m.LastPollUnix, 0))
}
