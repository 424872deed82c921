// Package engine runs the control loop: it polls the charger, tracks
// sessions, publishes state, and drives the set-point from the active
// policy. The loop is the single owner of the transport and all
// mutable control state; callbacks and jobs reach it through an event
// queue only.
package engine

import (
	"context"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/config"
	"github.com/edgxcloud/chargegate/internal/metrics"
	"github.com/edgxcloud/chargegate/internal/modbus"
	"github.com/edgxcloud/chargegate/internal/persist"
	"github.com/edgxcloud/chargegate/internal/policy"
	"github.com/edgxcloud/chargegate/internal/publisher"
	"github.com/edgxcloud/chargegate/internal/session"
	"github.com/edgxcloud/chargegate/internal/wire"
)

const (
	productName     = "Alfen EV Charger"
	productID       = 0xC024
	persistInterval = 60 * time.Second
	callbackTimeout = 5 * time.Second
)

// ErrAllReadsFailed is surfaced when a full tick produced no data; the
// next tick will reconnect first.
var ErrAllReadsFailed = errors.New("failed to read any modbus data")

// Engine is the control engine.
type Engine struct {
	cfg       *config.Config
	log       *zap.Logger
	transport Transport
	pub       *publisher.Service
	store     *persist.Store
	tracker   *session.Tracker
	mapper    *charger.Mapper
	site      SiteSource
	price     PriceSource
	metrics   *metrics.Metrics
	loc       *time.Location

	// injectable for tests
	now   func() time.Time
	sleep func(time.Duration)

	events chan event

	// intent, mutated only by events and the persisted snapshot
	mode         charger.Mode
	startStop    charger.StartStop
	intendedAmps float64
	autoStart    int

	// derived, refreshed from the device
	stationMaxAmps float64
	activePhases   int
	firmware       string
	serial         string
	manufacturer   string

	// telemetry carried between ticks
	evPowerW       float64
	totalEnergyKWh float64

	// control
	lastSentAmps float64
	lastSendTime time.Time
	hysteresis   policy.Hysteresis
	lastStatus   charger.Status
	lastPersist  time.Time
}

// New assembles an engine. The site source is required; price may be
// nil when no provider is configured.
func New(cfg *config.Config, transport Transport, pub *publisher.Service,
	store *persist.Store, site SiteSource, price PriceSource,
	m *metrics.Metrics, log *zap.Logger) *Engine {

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	return &Engine{
		cfg:            cfg,
		log:            log,
		transport:      transport,
		pub:            pub,
		store:          store,
		tracker:        session.NewTracker(log),
		mapper:         charger.NewMapper(log),
		site:           site,
		price:          price,
		metrics:        m,
		loc:            loc,
		now:            time.Now,
		sleep:          time.Sleep,
		events:         make(chan event, 16),
		startStop:      charger.ChargeEnabled,
		intendedAmps:   cfg.Defaults.IntendedSetCurrent,
		stationMaxAmps: cfg.Defaults.StationMaxCurrent,
		activePhases:   3,
		firmware:       "Unknown",
		serial:         "Unknown",
		manufacturer:   "Unknown",
	}
}

// RegisterPaths publishes the full object tree and wires the writable
// callbacks. Must be called once before Run.
func (e *Engine) RegisterPaths() error {
	type out struct {
		path    string
		typ     publisher.Type
		initial any
	}
	outputs := []out{
		{"/ProductName", publisher.TypeString, productName},
		{"/FirmwareVersion", publisher.TypeString, e.firmware},
		{"/Serial", publisher.TypeString, e.serial},
		{"/ProductId", publisher.TypeInt, productID},
		{"/Connected", publisher.TypeInt, 0},
		{"/DeviceInstance", publisher.TypeInt, e.cfg.DeviceInstance},
		{"/Mgmt/ProcessName", publisher.TypeString, "chargegate"},
		{"/Mgmt/ProcessVersion", publisher.TypeString, Version},
		{"/Mgmt/Connection", publisher.TypeString, "Modbus TCP " + e.cfg.Modbus.Addr()},
		{"/Status", publisher.TypeInt, int(charger.StatusDisconnected)},
		{"/MaxCurrent", publisher.TypeFloat, e.stationMaxAmps},
		{"/Current", publisher.TypeFloat, 0.0},
		{"/Ac/Current", publisher.TypeFloat, 0.0},
		{"/Ac/Power", publisher.TypeFloat, 0.0},
		{"/Ac/Energy/Forward", publisher.TypeFloat, 0.0},
		{"/Ac/PhaseCount", publisher.TypeInt, e.activePhases},
		{"/ChargingTime", publisher.TypeInt, 0},
	}
	for _, phase := range []string{"L1", "L2", "L3"} {
		outputs = append(outputs,
			out{"/Ac/" + phase + "/Voltage", publisher.TypeFloat, 0.0},
			out{"/Ac/" + phase + "/Current", publisher.TypeFloat, 0.0},
			out{"/Ac/" + phase + "/Power", publisher.TypeFloat, 0.0},
		)
	}
	for _, o := range outputs {
		if err := e.pub.Register(o.path, o.typ, o.initial, false, nil); err != nil {
			return err
		}
	}

	writables := []struct {
		path    string
		typ     publisher.Type
		initial any
		cb      publisher.OnChange
	}{
		{"/Mode", publisher.TypeInt, int(e.mode), e.modeCallback},
		{"/StartStop", publisher.TypeInt, int(e.startStop), e.startStopCallback},
		{"/SetCurrent", publisher.TypeFloat, e.intendedAmps, e.setCurrentCallback},
		{"/AutoStart", publisher.TypeInt, e.autoStart, e.autoStartCallback},
	}
	for _, w := range writables {
		if err := e.pub.Register(w.path, w.typ, w.initial, true, w.cb); err != nil {
			return err
		}
	}
	return nil
}

// RestoreState loads the persisted intent and session counters.
func (e *Engine) RestoreState() {
	doc := e.store.Load()
	if charger.Mode(doc.Mode).Valid() {
		e.mode = charger.Mode(doc.Mode)
	}
	if doc.StartStop == 0 || doc.StartStop == 1 {
		e.startStop = charger.StartStop(doc.StartStop)
	}
	e.intendedAmps = clamp(doc.SetCurrent, 0, e.cfg.Controls.MaxSetCurrent)
	if doc.InsufficientSolarStart > 0 {
		e.hysteresis.InsufficientSolarSince = time.Unix(int64(doc.InsufficientSolarStart), 0)
	}
	e.tracker.Restore(doc.Session)

	_ = e.pub.Set("/Mode", int(e.mode))
	_ = e.pub.Set("/StartStop", int(e.startStop))
	_ = e.pub.Set("/SetCurrent", round1(e.intendedAmps))

	e.log.Info("restored persisted state",
		zap.String("mode", e.mode.String()),
		zap.String("start_stop", e.startStop.String()),
		zap.Float64("intended_amps", e.intendedAmps),
		zap.Int("total_sessions", e.tracker.TotalSessions()))
}

// Run executes the boot sequence and the control loop until ctx is
// cancelled. On shutdown it writes a zero set-point best effort,
// persists, and closes the transport.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transport.Connect(); err != nil {
		e.log.Warn("initial connect failed, will retry", zap.Error(err))
		if err := e.transport.Reconnect(ctx, e.cfg.Controls.RetryDelay()); err != nil {
			return err
		}
	}
	_ = e.pub.Set("/Connected", 1)
	e.readStaticInfo()
	e.logStartupSettings()

	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.tick(ctx)
		case ev := <-e.events:
			e.handleEvent(ev)
		}
	}
}

// enqueue submits an event and waits for the loop's answer. Used by
// the publisher callbacks; a saturated loop rejects the mutation
// rather than blocking its caller forever.
func (e *Engine) enqueue(ev event) bool {
	select {
	case e.events <- ev:
	case <-time.After(callbackTimeout):
		e.log.Warn("control loop busy, rejecting mutation")
		return false
	}
	select {
	case ok := <-ev.replyChan():
		return ok
	case <-time.After(callbackTimeout):
		e.log.Warn("control loop did not answer in time")
		return false
	}
}

func (e *Engine) modeCallback(_ string, value any) bool {
	return e.enqueue(setModeEvent{mode: value.(int), reply: make(chan bool, 1)})
}

func (e *Engine) startStopCallback(_ string, value any) bool {
	return e.enqueue(setStartStopEvent{value: value.(int), reply: make(chan bool, 1)})
}

func (e *Engine) setCurrentCallback(_ string, value any) bool {
	return e.enqueue(setCurrentEvent{amps: value.(float64), reply: make(chan bool, 1)})
}

func (e *Engine) autoStartCallback(_ string, value any) bool {
	return e.enqueue(setAutoStartEvent{value: value.(int), reply: make(chan bool, 1)})
}

// RequestPersist asks the loop to snapshot state now, outside the
// tick's own 60 s persistence cadence.
func (e *Engine) RequestPersist() bool {
	return e.enqueue(persistEvent{reply: make(chan bool, 1)})
}

// handleEvent runs an external mutation inside the loop: validate,
// update intent, persist, then immediately re-apply the policy with
// read-back verification.
func (e *Engine) handleEvent(ev event) {
	ok := false
	switch ev := ev.(type) {
	case setModeEvent:
		mode := charger.Mode(ev.mode)
		if !mode.Valid() {
			e.log.Warn("rejecting invalid mode", zap.Int("mode", ev.mode))
			break
		}
		e.mode = mode
		_ = e.pub.Set("/Mode", int(mode))
		e.persistState()
		e.applyCurrentChange("mode change")
		e.log.Info("mode changed", zap.String("mode", mode.String()))
		ok = true

	case setStartStopEvent:
		if ev.value != 0 && ev.value != 1 {
			e.log.Warn("rejecting invalid start/stop", zap.Int("value", ev.value))
			break
		}
		e.startStop = charger.StartStop(ev.value)
		_ = e.pub.Set("/StartStop", ev.value)
		e.persistState()
		e.applyCurrentChange("start/stop change")
		if ev.value == 1 {
			e.log.Info("charging enabled")
		} else {
			e.log.Info("charging disabled")
		}
		ok = true

	case setCurrentEvent:
		if ev.amps < 0 || math.IsNaN(ev.amps) {
			e.log.Warn("rejecting negative set current", zap.Float64("amps", ev.amps))
			break
		}
		requested := clamp(ev.amps, 0, e.cfg.Controls.MaxSetCurrent)
		e.refreshStationMax()
		e.intendedAmps = requested
		_ = e.pub.Set("/SetCurrent", round1(requested))
		e.persistState()
		e.applyCurrentChange("set-current change")
		e.log.Info("set current changed", zap.Float64("amps", requested))
		ok = true

	case setAutoStartEvent:
		if ev.value != 0 && ev.value != 1 {
			break
		}
		e.autoStart = ev.value
		_ = e.pub.Set("/AutoStart", ev.value)
		e.persistState()
		ok = true

	case persistEvent:
		e.persistState()
		ok = true
	}

	select {
	case ev.replyChan() <- ok:
	default:
	}
}

// tick is one poll cycle: reconnect if needed, read the register
// blocks, publish telemetry, update the session tracker, map the
// status, apply the write decision, and persist every 60 s.
func (e *Engine) tick(ctx context.Context) {
	if !e.transport.Connected() {
		_ = e.pub.Set("/Connected", 0)
		if err := e.transport.Reconnect(ctx, e.cfg.Controls.RetryDelay()); err != nil {
			return
		}
		e.metrics.RecordReconnect()
		_ = e.pub.Set("/Connected", 1)
		e.readStaticInfo()
	}

	now := e.now()

	raw, anyOK := e.fetchRawData()
	if !anyOK {
		e.log.Error("modbus read failed for every block", zap.Error(ErrAllReadsFailed))
		e.metrics.RecordPoll(false)
		// Drop the link so the next tick goes through reconnect.
		_ = e.transport.Close()
		return
	}

	e.publishTelemetry(raw)

	sessionsBefore := e.tracker.TotalSessions()
	e.tracker.Update(now, e.evPowerW, e.totalEnergyKWh)
	if e.tracker.TotalSessions() > sessionsBefore {
		e.metrics.RecordSessionStart()
	}
	_ = e.pub.Set("/ChargingTime", e.tracker.ChargingSeconds(now))
	e.metrics.SetEnergyTotal(e.tracker.TotalEnergyKWh())

	e.updateStatus(raw.socketState, now)

	e.applyControls(now, false, "poll")

	if now.Sub(e.lastPersist) >= persistInterval {
		e.persistState()
	}
	e.metrics.RecordPoll(true)
}

// rawData holds one tick's register blocks; nil means the block read
// failed and the previous published value stands.
type rawData struct {
	voltages    []uint16
	currents    []uint16
	power       []uint16
	energy      []uint16
	socketState []uint16
}

func (e *Engine) fetchRawData() (rawData, bool) {
	socketID := byte(e.cfg.Modbus.SocketUnitID)
	regs := e.cfg.Registers
	var raw rawData
	anyOK := false
	partial := false

	read := func(name string, block config.RegisterBlock, dst *[]uint16) {
		err := modbus.Retry(func() error {
			got, err := e.transport.ReadHolding(block.Address, block.Count, socketID)
			if err != nil {
				return err
			}
			*dst = got
			return nil
		}, e.cfg.Controls.MaxRetries, e.cfg.Controls.RetryDelay(), e.log)
		if err != nil {
			e.log.Debug("register block read failed", zap.String("block", name), zap.Error(err))
			partial = true
			return
		}
		anyOK = true
	}

	read("voltages", regs.Voltages, &raw.voltages)
	read("currents", regs.Currents, &raw.currents)
	read("power", regs.Power, &raw.power)
	read("energy", regs.Energy, &raw.energy)
	read("socket_state", regs.SocketState, &raw.socketState)

	if anyOK && partial {
		e.metrics.RecordPartialRead()
	}
	return raw, anyOK
}

// publishTelemetry decodes the blocks that were read and updates the
// object tree. Blocks that failed keep their previous values.
func (e *Engine) publishTelemetry(raw rawData) {
	phases := []string{"L1", "L2", "L3"}

	if raw.voltages != nil {
		for i, v := range wire.DecodeFloat32Array(raw.voltages, 3) {
			_ = e.pub.Set("/Ac/"+phases[i]+"/Voltage", round1(float64(v)))
		}
	}
	if raw.currents != nil {
		vals := wire.DecodeFloat32Array(raw.currents, 3)
		total := 0.0
		for i, v := range vals {
			_ = e.pub.Set("/Ac/"+phases[i]+"/Current", round2(float64(v)))
			total += float64(v)
		}
		_ = e.pub.Set("/Current", round2(total))
		_ = e.pub.Set("/Ac/Current", round2(total))
	}
	if raw.power != nil && len(raw.power) >= 8 {
		// Total active power is a 64-bit float; the three per-phase
		// values are 32-bit floats in the tail of the same block.
		totalW := wire.DecodeFloat64(raw.power[0:4])
		e.evPowerW = totalW
		_ = e.pub.Set("/Ac/Power", round0(totalW))
		_ = e.pub.Set("/Ac/L1/Power", round0(float64(wire.DecodeFloat32(raw.power[2:4]))))
		_ = e.pub.Set("/Ac/L2/Power", round0(float64(wire.DecodeFloat32(raw.power[4:6]))))
		_ = e.pub.Set("/Ac/L3/Power", round0(float64(wire.DecodeFloat32(raw.power[6:8]))))
	}
	if raw.energy != nil {
		e.totalEnergyKWh = wire.DecodeFloat64(raw.energy) / 1000.0
		_ = e.pub.Set("/Ac/Energy/Forward", round3(e.totalEnergyKWh))
	}
}

// updateStatus maps and publishes the charger status, logging
// transitions and applying auto-start on connect.
func (e *Engine) updateStatus(socketState []uint16, now time.Time) {
	if socketState == nil {
		return
	}
	stateStr := wire.DecodeString(socketState)

	effective := e.computePolicy(now).EffectiveAmps
	status := e.mapper.Map(stateStr, charger.Overlay{
		Mode:          e.mode,
		StartStop:     e.startStop,
		EffectiveAmps: effective,
		InSchedule:    policy.InAnySchedule(e.cfg.Schedule.Items, now, e.loc),
		LowSOC:        e.site.LowSOC(),
	})
	_ = e.pub.Set("/Status", int(status))

	if status != e.lastStatus {
		e.log.Info("charger status changed",
			zap.String("from", e.lastStatus.String()),
			zap.String("to", status.String()))
		e.logStatusContext(e.lastStatus, status)
		e.applyAutoStart(e.lastStatus, status)
		e.lastStatus = status
	}
}

func (e *Engine) logStatusContext(old, cur charger.Status) {
	switch {
	case old == charger.StatusDisconnected && cur != charger.StatusDisconnected:
		e.log.Info("car connected, waiting for charging to start")
	case old != charger.StatusDisconnected && cur == charger.StatusDisconnected:
		e.log.Info("car disconnected")
	case cur == charger.StatusCharging && old != charger.StatusCharging:
		e.log.Info("charging started")
	case old == charger.StatusCharging && cur != charger.StatusCharging:
		e.log.Info("charging stopped")
	}
}

// applyAutoStart flips the enable switch when the vehicle connects and
// auto-start is armed.
func (e *Engine) applyAutoStart(old, cur charger.Status) {
	if old != charger.StatusDisconnected || cur == charger.StatusDisconnected {
		return
	}
	if e.autoStart != 1 || e.startStop != charger.ChargeDisabled {
		return
	}
	e.startStop = charger.ChargeEnabled
	_ = e.pub.Set("/StartStop", int(charger.ChargeEnabled))
	e.persistState()
	e.log.Info("auto-start triggered", zap.String("mode", e.mode.String()))
	e.applyCurrentChange("auto-start")
}

// applyControls runs the write decision shared by the tick and the
// callback path: a write is issued when the watchdog expired or the
// derived current moved beyond the update threshold. Callback-origin
// writes are verified by read-back.
func (e *Engine) applyControls(now time.Time, verify bool, source string) {
	res := e.computePolicy(now)
	e.hysteresis = res.Hysteresis

	watchdog := now.Sub(e.lastSendTime) >= e.cfg.Controls.WatchdogInterval()
	change := math.Abs(res.EffectiveAmps-e.lastSentAmps) > e.cfg.Controls.UpdateDifferenceThreshold
	if !watchdog && !change {
		e.log.Debug("no set-point update needed",
			zap.String("source", source),
			zap.Float64("current", e.lastSentAmps),
			zap.Float64("proposed", res.EffectiveAmps),
			zap.String("explanation", res.Explanation))
		return
	}

	if err := e.writeSetPoint(res.EffectiveAmps, verify); err != nil {
		e.log.Warn("set-point write failed",
			zap.String("source", source), zap.Error(err))
		return
	}
	e.metrics.RecordSetPointWrite(watchdog && !change)
	e.log.Info("set-point updated",
		zap.String("source", source),
		zap.Float64("amps", res.EffectiveAmps),
		zap.String("mode", e.mode.String()),
		zap.String("explanation", res.Explanation),
		zap.Bool("watchdog", watchdog && !change))
}

// applyCurrentChange is the callback-path write: always verified.
func (e *Engine) applyCurrentChange(source string) {
	e.applyControls(e.now(), true, source)
}

func (e *Engine) computePolicy(now time.Time) policy.Result {
	in := policy.Inputs{
		Mode:              e.mode,
		StartStop:         e.startStop,
		IntendedAmps:      e.intendedAmps,
		StationMaxAmps:    e.stationMaxAmps,
		MaxSetCurrent:     e.cfg.Controls.MaxSetCurrent,
		Now:               now,
		Location:          e.loc,
		Schedules:         e.cfg.Schedule.Items,
		EVPowerW:          e.evPowerW,
		Strategy:          e.site.Strategy(),
		LowSOC:            e.site.LowSOC(),
		ActivePhases:      e.activePhases,
		Site:              e.site.Readings(),
		MinChargeDuration: e.cfg.Controls.MinChargeDuration(),
		Hysteresis:        e.hysteresis,
	}
	if e.price != nil && e.price.Enabled() {
		if ok, known := e.price.ShouldCharge(now); known {
			in.PriceOK = &ok
		}
	}
	return policy.Compute(in)
}

// persistState snapshots intent and session counters to disk.
func (e *Engine) persistState() {
	doc := persist.Document{
		Mode:       int(e.mode),
		StartStop:  int(e.startStop),
		SetCurrent: e.intendedAmps,
		Session:    e.tracker.Snapshot(),
	}
	if cur := e.tracker.Current(); cur != nil {
		doc.ChargingStartTime = float64(cur.StartTime.Unix())
	}
	if !e.hysteresis.InsufficientSolarSince.IsZero() {
		doc.InsufficientSolarStart = float64(e.hysteresis.InsufficientSolarSince.Unix())
	}
	if err := e.store.Save(doc); err != nil {
		e.log.Warn("failed to persist state", zap.Error(err))
	}
	e.lastPersist = e.now()
}

// readStaticInfo loads firmware, serial, manufacturer, the station
// current limit, and the active phase count from the station unit.
func (e *Engine) readStaticInfo() {
	stationID := byte(e.cfg.Modbus.StationUnitID)
	regs := e.cfg.Registers

	readString := func(block config.RegisterBlock) (string, bool) {
		got, err := e.transport.ReadHolding(block.Address, block.Count, stationID)
		if err != nil {
			return "", false
		}
		return wire.DecodeString(got), true
	}

	if fw, ok := readString(regs.Firmware); ok && fw != "" {
		e.firmware = fw
		_ = e.pub.Set("/FirmwareVersion", fw)
		e.log.Info("firmware version", zap.String("firmware", fw))
	}
	if serial, ok := readString(regs.Serial); ok && serial != "" {
		e.serial = serial
		_ = e.pub.Set("/Serial", serial)
		e.log.Info("serial number", zap.String("serial", serial))
	}
	if mfr, ok := readString(regs.Manufacturer); ok && mfr != "" {
		e.manufacturer = mfr
		_ = e.pub.Set("/ProductName", mfr+" EV Charger")
		e.log.Info("manufacturer", zap.String("manufacturer", mfr))
	}

	e.refreshStationMax()
	e.refreshActivePhases()
}

// refreshStationMax re-reads the station current limit, falling back
// to the configured default.
func (e *Engine) refreshStationMax() {
	stationID := byte(e.cfg.Modbus.StationUnitID)
	block := e.cfg.Registers.StationMax

	err := modbus.Retry(func() error {
		got, err := e.transport.ReadHolding(block.Address, block.Count, stationID)
		if err != nil {
			return err
		}
		maxC := float64(wire.DecodeFloat32(got))
		if maxC <= 0 {
			return &modbus.Error{Kind: modbus.KindProtocol, Op: "station max", Err: errors.New("non-positive value")}
		}
		e.stationMaxAmps = maxC
		return nil
	}, e.cfg.Controls.MaxRetries, e.cfg.Controls.RetryDelay(), e.log)

	if err != nil {
		e.log.Warn("failed to read station max current, using fallback",
			zap.Float64("fallback", e.cfg.Defaults.StationMaxCurrent), zap.Error(err))
		e.stationMaxAmps = e.cfg.Defaults.StationMaxCurrent
	}
	_ = e.pub.Set("/MaxCurrent", round1(e.stationMaxAmps))
}

func (e *Engine) refreshActivePhases() {
	stationID := byte(e.cfg.Modbus.StationUnitID)
	block := e.cfg.Registers.ActivePhases

	got, err := e.transport.ReadHolding(block.Address, block.Count, stationID)
	if err != nil || len(got) == 0 {
		e.log.Debug("failed to read active phases, keeping current value",
			zap.Int("active_phases", e.activePhases))
		return
	}
	if got[0] == 1 || got[0] == 3 {
		e.activePhases = int(got[0])
		_ = e.pub.Set("/Ac/PhaseCount", e.activePhases)
	}
}

func (e *Engine) logStartupSettings() {
	e.log.Info("startup settings",
		zap.String("mode", e.mode.String()),
		zap.String("charging", e.startStop.String()),
		zap.Float64("intended_amps", e.intendedAmps),
		zap.Float64("station_max_amps", e.stationMaxAmps),
		zap.Int("active_phases", e.activePhases),
		zap.String("modbus", e.cfg.Modbus.Addr()),
		zap.Int("device_instance", e.cfg.DeviceInstance),
		zap.Float64("min_charge_duration_s", e.cfg.Controls.MinChargeDurationSeconds),
		zap.Int("schedules", len(e.cfg.Schedule.Items)))
}

// shutdown performs the orderly exit: zero set-point best effort,
// persist, close.
func (e *Engine) shutdown() {
	e.log.Info("shutting down control loop")

	e.drainEvents()

	if e.transport.Connected() {
		if err := e.writeSetPoint(0, false); err != nil {
			e.log.Warn("failed to zero set-point on shutdown", zap.Error(err))
		}
	}
	e.persistState()
	_ = e.pub.Set("/Connected", 0)
	if err := e.transport.Close(); err != nil {
		e.log.Warn("failed to close transport", zap.Error(err))
	}
}

func (e *Engine) drainEvents() {
	for {
		select {
		case ev := <-e.events:
			e.handleEvent(ev)
		default:
			return
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func round0(v float64) float64 { return math.Round(v) }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
