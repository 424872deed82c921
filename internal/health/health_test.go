package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunChecks(t *testing.T) {
	h := NewChecker()
	h.RegisterCheck("modbus", func(context.Context) (Status, string) {
		return StatusHealthy, "connected"
	})
	h.RegisterCheck("poll", func(context.Context) (Status, string) {
		return StatusDegraded, "last poll 45s ago"
	})

	results := h.RunChecks(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusHealthy, results["modbus"].Status)
	assert.Equal(t, "connected", results["modbus"].Message)
	assert.Equal(t, StatusDegraded, results["poll"].Status)
	assert.False(t, results["modbus"].LastCheck.IsZero())
}

func TestOverallStatus(t *testing.T) {
	h := NewChecker()
	assert.Equal(t, StatusHealthy, h.OverallStatus())

	h.RegisterCheck("a", func(context.Context) (Status, string) { return StatusHealthy, "" })
	h.RegisterCheck("b", func(context.Context) (Status, string) { return StatusDegraded, "" })
	h.RunChecks(context.Background())
	assert.Equal(t, StatusDegraded, h.OverallStatus())

	h.RegisterCheck("c", func(context.Context) (Status, string) { return StatusUnhealthy, "" })
	h.RunChecks(context.Background())
	assert.Equal(t, StatusUnhealthy, h.OverallStatus())
}

func TestUncheckedDefaultsHealthy(t *testing.T) {
	h := NewChecker()
	h.RegisterCheck("modbus", func(context.Context) (Status, string) {
		return StatusUnhealthy, "down"
	})
	// Before RunChecks the registered check reports its initial state.
	assert.Equal(t, StatusHealthy, h.OverallStatus())
}
