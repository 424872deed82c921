package modbus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(func() error {
		calls++
		if calls < 3 {
			return &Error{Kind: KindTimeout, Op: "read @306", Err: errors.New("i/o timeout")}
		}
		return nil
	}, 3, time.Millisecond, zap.NewNop())

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustedReturnsFinalError(t *testing.T) {
	calls := 0
	final := &Error{Kind: KindConn, Op: "write @1210", Err: errors.New("broken pipe")}
	err := Retry(func() error {
		calls++
		return final
	}, 3, time.Millisecond, zap.NewNop())

	assert.Equal(t, 3, calls)
	var me *Error
	assert.ErrorAs(t, err, &me)
	assert.Equal(t, KindConn, me.Kind)
}

func TestRetryDoesNotSwallowNonModbusErrors(t *testing.T) {
	calls := 0
	sentinel := errors.New("validation failed")
	err := Retry(func() error {
		calls++
		return sentinel
	}, 5, time.Millisecond, zap.NewNop())

	assert.Equal(t, 1, calls, "non-transport errors must not be retried")
	assert.ErrorIs(t, err, sentinel)
}

func TestConnectionImplicated(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindConn, true},
		{KindTimeout, true},
		{KindProtocol, false},
	}
	for _, tt := range tests {
		err := &Error{Kind: tt.kind, Op: "read @344", Err: errors.New("x")}
		assert.Equal(t, tt.want, ConnectionImplicated(err), tt.kind.String())
	}
	assert.False(t, ConnectionImplicated(errors.New("plain")))
}
