package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndSet(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 0, false, nil))
	require.NoError(t, s.Register("/Ac/Power", TypeFloat, 0.0, false, nil))
	require.NoError(t, s.Register("/Serial", TypeString, "Unknown", false, nil))

	require.NoError(t, s.Set("/Status", 2))
	require.NoError(t, s.Set("/Ac/Power", 7360.0))
	require.NoError(t, s.Set("/Serial", "ACE0123456"))

	assert.Equal(t, 2, s.GetInt("/Status"))
	assert.Equal(t, 7360.0, s.GetFloat("/Ac/Power"))
	v, ok := s.Get("/Serial")
	assert.True(t, ok)
	assert.Equal(t, "ACE0123456", v)
}

func TestRegisterDuplicateFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 0, false, nil))
	assert.Error(t, s.Register("/Status", TypeInt, 0, false, nil))
}

func TestRegisterWritableRequiresCallback(t *testing.T) {
	s := New()
	assert.Error(t, s.Register("/Mode", TypeInt, 0, true, nil))
}

func TestSetUnknownPathFails(t *testing.T) {
	s := New()
	assert.Error(t, s.Set("/Nope", 1))
}

func TestSetTypeMismatchFails(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 0, false, nil))
	assert.Error(t, s.Set("/Status", "charging"))
}

func TestNumericCoercion(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Mode", TypeInt, 0, false, nil))
	require.NoError(t, s.Register("/SetCurrent", TypeFloat, 0.0, false, nil))

	// JSON decoding hands numbers over as float64.
	require.NoError(t, s.Set("/Mode", 1.0))
	require.NoError(t, s.Set("/SetCurrent", 16))

	assert.Equal(t, 1, s.GetInt("/Mode"))
	assert.Equal(t, 16.0, s.GetFloat("/SetCurrent"))
}

func TestWriteInvokesCallback(t *testing.T) {
	s := New()
	var gotPath string
	var gotValue any
	require.NoError(t, s.Register("/SetCurrent", TypeFloat, 6.0, true, func(path string, value any) bool {
		gotPath, gotValue = path, value
		return true
	}))

	assert.True(t, s.Write("/SetCurrent", 10.5))
	assert.Equal(t, "/SetCurrent", gotPath)
	assert.Equal(t, 10.5, gotValue)
	// The callback only enqueues; the value is unchanged until the
	// control loop applies it.
	assert.Equal(t, 6.0, s.GetFloat("/SetCurrent"))
}

func TestWriteRejectedPaths(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 0, false, nil))
	require.NoError(t, s.Register("/Mode", TypeInt, 0, true, func(string, any) bool { return false }))

	assert.False(t, s.Write("/Unknown", 1), "unknown path")
	assert.False(t, s.Write("/Status", 1), "read-only path")
	assert.False(t, s.Write("/Mode", "AUTO"), "type mismatch")
	assert.False(t, s.Write("/Mode", 1), "callback rejected")
}

func TestSubscriberSeesChanges(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 0, false, nil))

	var events []any
	s.Subscribe(func(path string, value any) {
		events = append(events, value)
	})

	require.NoError(t, s.Set("/Status", 2))
	require.NoError(t, s.Set("/Status", 2)) // unchanged, no event
	require.NoError(t, s.Set("/Status", 1))

	assert.Equal(t, []any{2, 1}, events)
}

func TestSnapshotAndPaths(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("/Status", TypeInt, 2, false, nil))
	require.NoError(t, s.Register("/Ac/Power", TypeFloat, 3680.0, false, nil))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap["/Status"])
	assert.Equal(t, 3680.0, snap["/Ac/Power"])
	assert.Equal(t, []string{"/Ac/Power", "/Status"}, s.Paths())

	assert.False(t, s.Writable("/Status"))
}
