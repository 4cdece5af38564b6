package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAddr = []byte{0x77, 0x62, 0x4d, 0x53, 0x45}

func TestInvertBits8RoundTrip(t *testing.T) {
	for v := 0; v < 256; v++ {
		assert.Equal(t, byte(v), InvertBits8(InvertBits8(byte(v))))
	}
}

func TestInvertBits8KnownValues(t *testing.T) {
	tests := []struct {
		in   byte
		want byte
	}{
		{0x00, 0x00},
		{0xff, 0xff},
		{0x01, 0x80},
		{0x80, 0x01},
		{0x25, 0xa4},
		{0x71, 0x8e},
		{0x0f, 0xf0},
		{0x55, 0xaa},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InvertBits8(tt.in), "InvertBits8(%#02x)", tt.in)
	}
}

func TestInvertBits16RoundTrip(t *testing.T) {
	// Spot-check the corners plus a spread of values; the full 16-bit
	// space is unnecessary given the 8-bit exhaustive pass above.
	for _, v := range []uint16{0x0000, 0x0001, 0x8000, 0xffff, 0x1234, 0xa5a5, 0x7714} {
		assert.Equal(t, v, InvertBits16(InvertBits16(v)))
	}
	assert.Equal(t, uint16(0x2c48), InvertBits16(0x1234))
}

func TestCRC16KnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"three zero bytes", []byte{0x00, 0x00, 0x00}, 0x7714},
		{"single zero byte", []byte{0x00}, 0x8308},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CRC16(testAddr, tt.data))
		})
	}
}

func TestCRC16Deterministic(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56}
	first := CRC16(testAddr, data)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, CRC16(testAddr, data))
	}
}

func TestWhiteningInit(t *testing.T) {
	assert.Equal(t, [7]byte{1, 1, 0, 0, 1, 0, 1}, WhiteningInit(0x25))
	assert.Equal(t, [7]byte{1, 1, 1, 1, 1, 1, 1}, WhiteningInit(0x3f))
	assert.Equal(t, [7]byte{1, 0, 0, 0, 0, 0, 0}, WhiteningInit(0x00))
}

func TestWhiteningEncodeKnownStream(t *testing.T) {
	state := WhiteningInit(0x25)
	out := WhiteningEncode([]byte{0xaa, 0xaa, 0xaa, 0xaa}, 4, &state, 0)
	assert.Equal(t, []byte{0x27, 0x78, 0xfd, 0x0b}, out)
}

func TestWhiteningEncodeOffsetRunsOverZeros(t *testing.T) {
	// With offset past the copied region the encoder whitens zero
	// bytes, yielding the raw keystream. RFPayload depends on this.
	state := WhiteningInit(0x3f)
	out := WhiteningEncode(make([]byte, 6), 4, &state, 2)
	assert.Equal(t, []byte{0x00, 0x00, 0xc7, 0x8d, 0xd2, 0x57}, out)
}

func TestWhiteningEncodeDoesNotMutateInput(t *testing.T) {
	in := []byte{0xde, 0xad, 0xbe, 0xef}
	state := WhiteningInit(0x25)
	_ = WhiteningEncode(in, 4, &state, 0)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, in)
}

func TestWhiteningEncodeAdvancesStatePerByte(t *testing.T) {
	// Encoding 4 bytes in one call must equal encoding 2+2 with the
	// state carried across calls.
	in := []byte{0x11, 0x22, 0x33, 0x44}

	whole := WhiteningInit(0x25)
	full := WhiteningEncode(in, 4, &whole, 0)

	split := WhiteningInit(0x25)
	head := WhiteningEncode(in[:2], 2, &split, 0)
	tail := WhiteningEncode(in[2:], 2, &split, 0)

	assert.Equal(t, full, append(head, tail...))
}

func TestRFPayloadKnownVector(t *testing.T) {
	want := []byte{0x6d, 0xb6, 0x43, 0xce, 0x97, 0xfe, 0x42, 0x7c, 0xe5, 0x1d, 0xfe}
	got := RFPayload(testAddr, []byte{0x00, 0x00, 0x00})
	require.Len(t, got, PayloadLen)
	assert.Equal(t, want, got)
}

func TestRFPayloadDeterministic(t *testing.T) {
	first := RFPayload(testAddr, []byte{0x01, 0x02, 0x03})
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, RFPayload(testAddr, []byte{0x01, 0x02, 0x03}))
	}
}

func TestRFPayloadDependsOnInputs(t *testing.T) {
	base := RFPayload(testAddr, []byte{0x00, 0x00, 0x00})
	otherData := RFPayload(testAddr, []byte{0x12, 0x34, 0x56})
	otherAddr := RFPayload([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, []byte{0x00, 0x00, 0x00})

	assert.NotEqual(t, base, otherData)
	assert.NotEqual(t, base, otherAddr)
}
