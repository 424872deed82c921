package wire

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeFloat32(t *testing.T) {
	// 16.0 as IEEE 754: 0x41800000
	assert.Equal(t, float32(16.0), DecodeFloat32([]uint16{0x4180, 0x0000}))
	// 230.0: 0x43660000
	assert.Equal(t, float32(230.0), DecodeFloat32([]uint16{0x4366, 0x0000}))
	assert.Equal(t, float32(0), DecodeFloat32([]uint16{0}))
	assert.Equal(t, float32(0), DecodeFloat32(nil))
}

func TestDecodeFloat32NaN(t *testing.T) {
	regs := EncodeFloat32(float32(math.NaN()))
	assert.Equal(t, float32(0), DecodeFloat32(regs))
}

func TestDecodeFloat64(t *testing.T) {
	// 1000.0 as IEEE 754 double: 0x408F400000000000
	got := DecodeFloat64([]uint16{0x408F, 0x4000, 0x0000, 0x0000})
	assert.Equal(t, 1000.0, got)

	assert.Equal(t, 0.0, DecodeFloat64([]uint16{0x408F, 0x4000}))
}

func TestDecodeFloat64NaN(t *testing.T) {
	bits := math.Float64bits(math.NaN())
	regs := []uint16{
		uint16(bits >> 48), uint16(bits >> 32), uint16(bits >> 16), uint16(bits),
	}
	assert.Equal(t, 0.0, DecodeFloat64(regs))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, v := range []float32{0, 6, 10.05, 16, 32, -3.5, 230.4, 1e-6, 3.4e38} {
		regs := EncodeFloat32(v)
		assert.Len(t, regs, 2)
		assert.Equal(t, v, DecodeFloat32(regs), "round trip for %v", v)
	}
}

func TestDecodeFloat32Array(t *testing.T) {
	regs := append(EncodeFloat32(230.1), EncodeFloat32(229.8)...)
	regs = append(regs, EncodeFloat32(231.2)...)

	vals := DecodeFloat32Array(regs, 3)
	assert.Equal(t, []float32{230.1, 229.8, 231.2}, vals)

	// Short input pads with zeros.
	vals = DecodeFloat32Array(regs[:4], 3)
	assert.Equal(t, []float32{230.1, 229.8, 0}, vals)
}

func TestDecodeString(t *testing.T) {
	tests := []struct {
		name string
		regs []uint16
		want string
	}{
		{"mode3 state", []uint16{0x4332, 0x0000, 0x0000, 0x0000, 0x0000}, "C2"}, // "C2"
		{"padded with spaces", []uint16{0x4231, 0x2020}, "B1"},
		{"firmware", []uint16{0x362E, 0x352E, 0x302D, 0x3431, 0x3230}, "6.5.0-4120"},
		{"empty", []uint16{0x0000, 0x0000}, ""},
		{"non printable dropped", []uint16{0x4101, 0x0742}, "AB"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeString(tt.regs))
		})
	}
}

func TestRegisterBytesRoundTrip(t *testing.T) {
	regs := []uint16{0x4180, 0x0000, 0x1234, 0xFFFF}
	assert.Equal(t, regs, BytesToRegisters(RegistersToBytes(regs)))

	// Odd trailing byte is ignored.
	assert.Equal(t, []uint16{0x0102}, BytesToRegisters([]byte{0x01, 0x02, 0x03}))
}
