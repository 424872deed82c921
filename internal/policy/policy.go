// Package policy derives the effective charging current from operator
// intent, schedules, solar excess, and price signals. It is pure: all
// observables are passed in and the hysteresis state flows through the
// inputs and result.
package policy

import (
	"fmt"
	"math"
	"time"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/config"
)

// NominalVoltage is the per-phase grid voltage used to convert excess
// power into current.
const NominalVoltage = 230.0

// Hysteresis is the minimum-charge state threaded through successive
// policy evaluations.
type Hysteresis struct {
	InsufficientSolarSince time.Time
	LastPositiveSendTime   time.Time
}

// SiteReadings are the energy-manager observables used for the
// solar-excess calculation. Battery power is positive when charging.
type SiteReadings struct {
	DCPVPowerW    float64
	ACPVPowerW    [3]float64
	ConsumptionW  [3]float64
	BatteryPowerW float64
}

// TotalPV returns the summed PV production.
func (r SiteReadings) TotalPV() float64 {
	return r.DCPVPowerW + r.ACPVPowerW[0] + r.ACPVPowerW[1] + r.ACPVPowerW[2]
}

// TotalConsumption returns the summed AC consumption.
func (r SiteReadings) TotalConsumption() float64 {
	return r.ConsumptionW[0] + r.ConsumptionW[1] + r.ConsumptionW[2]
}

// Inputs is everything the derivation depends on.
type Inputs struct {
	Mode           charger.Mode
	StartStop      charger.StartStop
	IntendedAmps   float64
	StationMaxAmps float64
	MaxSetCurrent  float64
	Now            time.Time
	Location       *time.Location
	Schedules      []config.ScheduleItem
	EVPowerW       float64
	Strategy       charger.ESSStrategy
	// PriceOK is nil when no price provider is configured.
	PriceOK           *bool
	LowSOC            bool
	ActivePhases      int
	Site              SiteReadings
	MinChargeDuration time.Duration
	Hysteresis        Hysteresis
}

// Result is the derived set-point with its explanation and the next
// hysteresis snapshot.
type Result struct {
	EffectiveAmps float64
	Explanation   string
	Hysteresis    Hysteresis
}

// Compute derives the effective current. The output is always within
// [0, min(station max, configured max)] and is zero whenever charging
// is disabled or the house battery is low.
func Compute(in Inputs) Result {
	hyst := in.Hysteresis

	if in.StartStop == charger.ChargeDisabled {
		return Result{0, "charging disabled", hyst}
	}
	if in.LowSOC {
		return Result{0, "low battery SOC", hyst}
	}

	var candidate float64
	var explanation string

	switch in.Mode {
	case charger.ModeManual:
		candidate = in.IntendedAmps
		explanation = fmt.Sprintf("manual set-point %.1fA", in.IntendedAmps)

	case charger.ModeScheduled:
		if InAnySchedule(in.Schedules, in.Now, in.Location) {
			candidate = in.IntendedAmps
			explanation = fmt.Sprintf("inside charging window, set-point %.1fA", in.IntendedAmps)
		} else {
			candidate = 0
			explanation = "outside all charging windows"
		}

	case charger.ModeAuto:
		candidate, explanation = autoCandidate(in)
		if in.PriceOK != nil && !*in.PriceOK {
			candidate = 0
			explanation = "price level too high"
		}
		candidate, explanation, hyst = applyMinChargeHysteresis(candidate, explanation, in, hyst)
	}

	limit := math.Min(in.StationMaxAmps, in.MaxSetCurrent)
	clamped := clamp(candidate, 0, limit)
	if clamped != candidate {
		explanation = fmt.Sprintf("%s (clamped to %.1fA)", explanation, clamped)
	}
	return Result{clamped, explanation, hyst}
}

func autoCandidate(in Inputs) (float64, string) {
	switch in.Strategy {
	case charger.ESSBuying:
		return in.StationMaxAmps, "grid import active, charging at station maximum"
	case charger.ESSSelling:
		return 0, "exporting to grid, preserving export"
	default:
		return excessSolarCurrent(in)
	}
}

// excessSolarCurrent converts surplus PV power into charging current.
// The charger's own draw is added back to consumption so a running
// session does not hide its own excess.
func excessSolarCurrent(in Inputs) (float64, string) {
	phases := in.ActivePhases
	if phases != 1 && phases != 3 {
		phases = 3
	}
	adjusted := in.Site.TotalConsumption() - in.EVPowerW
	excess := math.Max(0, in.Site.TotalPV()-adjusted-math.Max(0, in.Site.BatteryPowerW))
	current := excess / (float64(phases) * NominalVoltage)
	return current, fmt.Sprintf(
		"solar excess %.0fW (pv %.0fW, consumption %.0fW, battery %.0fW) -> %.2fA on %d phases",
		excess, in.Site.TotalPV(), adjusted, in.Site.BatteryPowerW, current, phases)
}

// applyMinChargeHysteresis enforces the 6 A charging floor: a recent
// positive send holds the floor for the minimum charge duration, after
// that the candidate drops to zero and the insufficient-solar instant
// is recorded.
func applyMinChargeHysteresis(candidate float64, explanation string, in Inputs, hyst Hysteresis) (float64, string, Hysteresis) {
	if candidate >= charger.MinChargingCurrent {
		hyst.InsufficientSolarSince = time.Time{}
		return candidate, explanation, hyst
	}

	if !hyst.LastPositiveSendTime.IsZero() &&
		in.Now.Sub(hyst.LastPositiveSendTime) < in.MinChargeDuration {
		return charger.MinChargingCurrent, "holding minimum charge duration", hyst
	}

	if hyst.InsufficientSolarSince.IsZero() {
		hyst.InsufficientSolarSince = in.Now
	}
	return 0, explanation, hyst
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
