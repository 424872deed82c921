package modbus

import (
	"errors"
	"testing"
	"time"

	mb "github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newTestClient() *Client {
	return NewClient("127.0.0.1:1502", time.Second, zap.NewNop())
}

func TestClassifyProtocolError(t *testing.T) {
	c := newTestClient()
	c.connected = true

	err := c.classify("read", 306, &mb.ModbusError{FunctionCode: 0x83, ExceptionCode: 2})

	var me *Error
	assert.ErrorAs(t, err, &me)
	assert.Equal(t, KindProtocol, me.Kind)
	assert.True(t, c.Connected(), "exception responses keep the socket usable")
}

func TestClassifyTimeout(t *testing.T) {
	c := newTestClient()
	c.connected = true

	err := c.classify("read", 344, timeoutErr{})

	var me *Error
	assert.ErrorAs(t, err, &me)
	assert.Equal(t, KindTimeout, me.Kind)
	assert.False(t, c.Connected(), "a timeout implicates the connection")
}

func TestClassifyConnError(t *testing.T) {
	c := newTestClient()
	c.connected = true

	err := c.classify("write", 1210, errors.New("broken pipe"))

	var me *Error
	assert.ErrorAs(t, err, &me)
	assert.Equal(t, KindConn, me.Kind)
	assert.False(t, c.Connected())
	assert.Contains(t, err.Error(), "write @1210")
}

func TestErrorKindStrings(t *testing.T) {
	assert.Equal(t, "conn", KindConn.String())
	assert.Equal(t, "protocol", KindProtocol.String())
	assert.Equal(t, "timeout", KindTimeout.String())
}

func TestIsModbus(t *testing.T) {
	assert.True(t, IsModbus(&Error{Kind: KindConn, Op: "x", Err: errors.New("y")}))
	assert.False(t, IsModbus(errors.New("plain")))
}
