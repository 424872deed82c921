package engine

import (
	"context"
	"time"

	"github.com/edgxcloud/chargegate/internal/charger"
	"github.com/edgxcloud/chargegate/internal/policy"
)

// Transport is the engine's view of the Modbus connection.
type Transport interface {
	Connect() error
	Close() error
	Connected() bool
	ReadHolding(address, count uint16, unitID byte) ([]uint16, error)
	WriteHolding(address uint16, regs []uint16, unitID byte) error
	Reconnect(ctx context.Context, delay time.Duration) error
}

// SiteSource supplies the energy-manager observables the AUTO policy
// needs. Implementations cache asynchronously; calls never block.
type SiteSource interface {
	Readings() policy.SiteReadings
	Strategy() charger.ESSStrategy
	LowSOC() bool
}

// PriceSource is the dynamic-price charge gate. Known is false when no
// provider is configured or the cache is stale.
type PriceSource interface {
	Enabled() bool
	ShouldCharge(now time.Time) (ok, known bool)
}
