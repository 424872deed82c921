// Package session tracks charging sessions from power and energy
// samples. Session boundaries are debounced: a start needs either an
// energy delta or a confirmation period, and an end needs a grace
// period without power, so meter noise never flaps a session.
package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/persist"
)

const (
	// ChargingThresholdW separates real charging from standby draw.
	ChargingThresholdW = 100.0
	// EnergyThresholdKWh confirms a candidate start by delivered energy.
	EnergyThresholdKWh = 0.01
	// DefaultStartConfirmation confirms a candidate start by elapsed time.
	DefaultStartConfirmation = 60 * time.Second
	// DefaultEndDelay is the grace period before a session ends.
	DefaultEndDelay = 30 * time.Second
)

// Session is one charging session.
type Session struct {
	StartTime        time.Time
	StartEnergyKWh   float64
	CurrentEnergyKWh float64
	EndTime          time.Time
	EndEnergyKWh     float64
	ended            bool
}

// EnergyDeliveredKWh returns the energy delivered so far, final for an
// ended session.
func (s *Session) EnergyDeliveredKWh() float64 {
	if s.ended {
		return s.EndEnergyKWh - s.StartEnergyKWh
	}
	d := s.CurrentEnergyKWh - s.StartEnergyKWh
	if d < 0 {
		return 0
	}
	return d
}

// Duration returns the session length at now, final for an ended session.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.ended {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}

// Ended reports whether the session has finished.
func (s *Session) Ended() bool { return s.ended }

// Tracker consumes (power, energy) samples and maintains session state
// and lifetime counters. It is driven by the control loop only and is
// not safe for concurrent use.
type Tracker struct {
	log *zap.Logger

	StartConfirmation time.Duration
	EndDelay          time.Duration

	current        *Session
	last           *Session
	totalSessions  int
	totalEnergyKWh float64
	lastEnergyKWh  float64

	candidateTime    time.Time
	candidateEnergy  float64
	hasCandidate     bool
	notChargingSince time.Time
}

func NewTracker(log *zap.Logger) *Tracker {
	return &Tracker{
		log:               log,
		StartConfirmation: DefaultStartConfirmation,
		EndDelay:          DefaultEndDelay,
	}
}

// Update consumes one sample. Timestamps must be monotonic.
func (t *Tracker) Update(now time.Time, powerW, totalEnergyKWh float64) {
	charging := powerW > ChargingThresholdW

	if charging {
		t.notChargingSince = time.Time{}

		if t.current == nil {
			if !t.hasCandidate {
				t.hasCandidate = true
				t.candidateTime = now
				t.candidateEnergy = totalEnergyKWh
			}
			energySince := totalEnergyKWh - t.candidateEnergy
			timeSince := now.Sub(t.candidateTime)
			// The small tolerance keeps a delta of exactly 0.01 kWh from
			// missing the threshold through float rounding.
			if energySince >= EnergyThresholdKWh-1e-9 || timeSince >= t.StartConfirmation {
				t.start(now, totalEnergyKWh)
			}
		}
	} else {
		t.hasCandidate = false

		if t.current != nil {
			if t.notChargingSince.IsZero() {
				t.notChargingSince = now
			} else if now.Sub(t.notChargingSince) >= t.EndDelay {
				t.end(totalEnergyKWh)
				t.notChargingSince = time.Time{}
			}
		}
	}

	if t.current != nil {
		t.current.CurrentEnergyKWh = totalEnergyKWh
	}
	t.lastEnergyKWh = totalEnergyKWh
}

func (t *Tracker) start(now time.Time, totalEnergyKWh float64) {
	t.log.Info("charging session started",
		zap.Float64("start_energy_kwh", t.candidateEnergy))
	t.current = &Session{
		StartTime:        t.candidateTime,
		StartEnergyKWh:   t.candidateEnergy,
		CurrentEnergyKWh: totalEnergyKWh,
	}
	t.totalSessions++
	t.hasCandidate = false
}

func (t *Tracker) end(totalEnergyKWh float64) {
	s := t.current
	s.EndTime = t.notChargingSince
	s.EndEnergyKWh = totalEnergyKWh
	s.ended = true

	delivered := s.EnergyDeliveredKWh()
	t.totalEnergyKWh += delivered
	t.log.Info("charging session ended",
		zap.Float64("energy_delivered_kwh", delivered),
		zap.Duration("duration", s.EndTime.Sub(s.StartTime)))

	t.last = s
	t.current = nil
}

// Current returns the active session, or nil.
func (t *Tracker) Current() *Session { return t.current }

// Last returns the most recently ended session, or nil.
func (t *Tracker) Last() *Session { return t.last }

// TotalSessions returns the lifetime session count.
func (t *Tracker) TotalSessions() int { return t.totalSessions }

// TotalEnergyKWh returns the lifetime delivered energy.
func (t *Tracker) TotalEnergyKWh() float64 { return t.totalEnergyKWh }

// ChargingSeconds returns the active session's duration at now, zero
// when idle.
func (t *Tracker) ChargingSeconds(now time.Time) int {
	if t.current == nil {
		return 0
	}
	return int(t.current.Duration(now).Seconds())
}

// Snapshot exports the tracker state for persistence.
func (t *Tracker) Snapshot() persist.SessionState {
	state := persist.SessionState{
		TotalSessions:  t.totalSessions,
		TotalEnergyKWh: t.totalEnergyKWh,
		LastEnergyKWh:  t.lastEnergyKWh,
	}
	if t.current != nil {
		state.ActiveSession = &persist.ActiveSession{
			StartTime:        t.current.StartTime.Format(time.RFC3339),
			StartEnergyKWh:   t.current.StartEnergyKWh,
			CurrentEnergyKWh: t.current.CurrentEnergyKWh,
		}
	}
	return state
}

// Restore loads persisted tracker state, resuming an active session if
// one was recorded.
func (t *Tracker) Restore(state persist.SessionState) {
	t.totalSessions = state.TotalSessions
	t.totalEnergyKWh = state.TotalEnergyKWh
	t.lastEnergyKWh = state.LastEnergyKWh

	if state.ActiveSession == nil {
		return
	}
	startTime, err := time.Parse(time.RFC3339, state.ActiveSession.StartTime)
	if err != nil {
		t.log.Warn("persisted session has invalid start time, dropping it",
			zap.String("start_time", state.ActiveSession.StartTime), zap.Error(err))
		return
	}
	t.current = &Session{
		StartTime:        startTime,
		StartEnergyKWh:   state.ActiveSession.StartEnergyKWh,
		CurrentEnergyKWh: state.ActiveSession.CurrentEnergyKWh,
	}
	t.log.Info("restored active charging session",
		zap.Time("start_time", startTime),
		zap.Float64("energy_delivered_kwh", t.current.EnergyDeliveredKWh()))
}
