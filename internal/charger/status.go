package charger

import (
	"strings"

	"go.uber.org/zap"
)

// MinChargingCurrent is the lowest current (A) at which an EV will
// actually charge, per IEC 61851.
const MinChargingCurrent = 6.0

// Overlay is the control context folded over the raw device status.
type Overlay struct {
	Mode          Mode
	StartStop     StartStop
	EffectiveAmps float64
	InSchedule    bool
	LowSOC        bool
}

// Mapper turns the charger's IEC 61851 mode-3 state string into the
// published status, tracking the previous raw status so a completed
// charge can be reported as Charged.
type Mapper struct {
	log     *zap.Logger
	prevRaw Status
}

func NewMapper(log *zap.Logger) *Mapper {
	return &Mapper{log: log}
}

// MapRaw maps the mode-3 state string to the raw device status. Unknown
// states map to Disconnected with a warning.
func (m *Mapper) MapRaw(state string) Status {
	s := strings.ToUpper(strings.TrimSpace(state))
	switch {
	case s == "C2" || s == "D2":
		return StatusCharging
	case s == "B1" || s == "B2" || s == "C1" || s == "D1":
		return StatusConnected
	case strings.HasPrefix(s, "A"):
		return StatusDisconnected
	default:
		m.log.Warn("unknown mode-3 state, treating as disconnected", zap.String("state", state))
		return StatusDisconnected
	}
}

// Map maps the mode-3 state string plus control context to the
// published status.
func (m *Mapper) Map(state string, ov Overlay) Status {
	raw := m.MapRaw(state)
	prev := m.prevRaw
	m.prevRaw = raw

	if raw == StatusDisconnected {
		return raw
	}

	// The charge completed: the device left the charging state without
	// the vehicle disconnecting.
	if prev == StatusCharging && raw == StatusConnected && m.finished(state) {
		return m.overlay(StatusCharged, ov)
	}
	return m.overlay(raw, ov)
}

// finished reports whether the state string indicates the vehicle is
// still connected after charging (B* or D1).
func (m *Mapper) finished(state string) bool {
	s := strings.ToUpper(strings.TrimSpace(state))
	return strings.HasPrefix(s, "B") || s == "D1"
}

func (m *Mapper) overlay(raw Status, ov Overlay) Status {
	switch {
	case ov.StartStop == ChargeDisabled:
		return StatusWaitStart
	case ov.Mode == ModeAuto && ov.EffectiveAmps < MinChargingCurrent:
		return StatusWaitSun
	case ov.Mode == ModeScheduled && !ov.InSchedule:
		return StatusWaitStart
	case ov.LowSOC:
		return StatusLowSOC
	default:
		return raw
	}
}
