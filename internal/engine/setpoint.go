package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/modbus"
	"github.com/edgxcloud/chargegate/internal/wire"
)

// ErrVerifyMismatch is returned when the read-back after a set-point
// write does not match the target within the configured tolerance.
var ErrVerifyMismatch = errors.New("set-point verification mismatch")

// writeSetPoint clamps the target, writes it to the charger, and
// optionally verifies it by reading back. Control state is only
// updated on success.
func (e *Engine) writeSetPoint(targetAmps float64, verify bool) error {
	target := clamp(targetAmps, 0, math.Min(e.stationMaxAmps, e.cfg.Controls.MaxSetCurrent))
	socketID := byte(e.cfg.Modbus.SocketUnitID)
	block := e.cfg.Registers.SetPoint
	regs := wire.EncodeFloat32(float32(target))

	op := func() error {
		if err := e.transport.WriteHolding(block.Address, regs, socketID); err != nil {
			return err
		}
		if !verify {
			return nil
		}
		e.sleep(e.cfg.Controls.VerificationDelay())
		got, err := e.transport.ReadHolding(block.Address, block.Count, socketID)
		if err != nil {
			return err
		}
		readback := float64(wire.DecodeFloat32(got))
		if math.Abs(readback-target) > e.cfg.Controls.CurrentTolerance {
			e.metrics.RecordVerifyFailure()
			return &modbus.Error{
				Kind: modbus.KindProtocol,
				Op:   fmt.Sprintf("verify @%d", block.Address),
				Err:  fmt.Errorf("%w: wrote %.2f, read %.2f", ErrVerifyMismatch, target, readback),
			}
		}
		return nil
	}

	if err := modbus.Retry(op, e.cfg.Controls.MaxRetries, e.cfg.Controls.RetryDelay(), e.log); err != nil {
		return err
	}

	now := e.now()
	e.lastSentAmps = target
	e.lastSendTime = now
	if target >= charger.MinChargingCurrent {
		e.hysteresis.LastPositiveSendTime = now
	}
	return nil
}
