// Package modbus owns the single Modbus/TCP connection to the charger.
//
// The client is not safe for concurrent use: the control engine is the
// only caller, per the single-writer contract. Two unit ids share the
// connection — the socket id for telemetry and the set-point, the
// station id for station-level limits and info strings.
package modbus

import (
	"context"
	"fmt"
	"net"
	"time"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"github.com/edgxcloud/chargegate/internal/wire"
)

// Client wraps a goburrow TCP handler with unit-id selection and the
// failure taxonomy the control engine recovers from.
type Client struct {
	handler   *mb.TCPClientHandler
	client    mb.Client
	log       *zap.Logger
	connected bool
}

// NewClient creates a client for the given "host:port" address. The
// timeout bounds every connect and per-operation wait.
func NewClient(addr string, timeout time.Duration, log *zap.Logger) *Client {
	handler := mb.NewTCPClientHandler(addr)
	handler.Timeout = timeout
	handler.SlaveId = 1

	return &Client{
		handler: handler,
		client:  mb.NewClient(handler),
		log:     log,
	}
}

// Connect opens the TCP connection.
func (c *Client) Connect() error {
	if err := c.handler.Connect(); err != nil {
		c.connected = false
		return &Error{Kind: KindConn, Op: "connect", Err: err}
	}
	c.connected = true
	return nil
}

// Close closes the TCP connection.
func (c *Client) Close() error {
	c.connected = false
	return c.handler.Close()
}

// Connected reports whether the last operation left the socket usable.
func (c *Client) Connected() bool {
	return c.connected
}

// ReadHolding reads count holding registers at address from the given
// unit id (function code 3).
func (c *Client) ReadHolding(address, count uint16, unitID byte) ([]uint16, error) {
	c.handler.SlaveId = unitID
	data, err := c.client.ReadHoldingRegisters(address, count)
	if err != nil {
		return nil, c.classify("read", address, err)
	}
	return wire.BytesToRegisters(data), nil
}

// WriteHolding writes the registers at address on the given unit id
// (function code 16).
func (c *Client) WriteHolding(address uint16, regs []uint16, unitID byte) error {
	c.handler.SlaveId = unitID
	_, err := c.client.WriteMultipleRegisters(address, uint16(len(regs)), wire.RegistersToBytes(regs))
	if err != nil {
		return c.classify("write", address, err)
	}
	return nil
}

// Reconnect closes the connection and retries Connect every delay until
// it succeeds or ctx is cancelled. Only the control loop may call this.
func (c *Client) Reconnect(ctx context.Context, delay time.Duration) error {
	_ = c.Close()
	for attempt := 1; ; attempt++ {
		c.log.Info("attempting modbus reconnect", zap.Int("attempt", attempt))
		if err := c.Connect(); err == nil {
			c.log.Info("modbus connection re-established")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("reconnect aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// classify converts a library error into the transport taxonomy and
// downgrades the connection state when the socket is implicated.
func (c *Client) classify(op string, address uint16, err error) error {
	kind := KindConn
	switch e := err.(type) {
	case *mb.ModbusError:
		kind = KindProtocol
	case net.Error:
		if e.Timeout() {
			kind = KindTimeout
		}
	}
	if kind != KindProtocol {
		c.connected = false
	}
	return &Error{Kind: kind, Op: fmt.Sprintf("%s @%d", op, address), Err: err}
}
