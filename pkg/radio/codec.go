// Package radio synthesizes the proprietary advertising payload the
// broadcast-only accessory decodes. The accessory never connects; it
// passively listens for manufacturer data whose bytes match its
// undocumented on-air encoding (address scrambling, a CRC16 variant,
// bit inversion and two pseudorandom whitening passes combined by XOR).
//
// The bit operations here are transcribed from captured traffic of the
// real hardware. Do not simplify the tap equations or the buffer
// handling: any single-bit deviation produces a frame the accessory
// silently ignores. See the known-vector tests.
package radio

// AddressLen is the accessory hardware address length in bytes.
const AddressLen = 5

// PayloadLen is the length of the final over-the-air frame body.
const PayloadLen = 11

// InvertBits8 reverses the bit order of an 8-bit value.
func InvertBits8(value byte) byte {
	var result byte
	for i := 0; i < 8; i++ {
		result <<= 1
		result |= value & 1
		value >>= 1
	}
	return result
}

// InvertBits16 reverses the bit order of a 16-bit value.
func InvertBits16(value uint16) uint16 {
	var result uint16
	for i := 0; i < 16; i++ {
		result <<= 1
		result |= value & 1
		value >>= 1
	}
	return result
}

// CRC16 computes the accessory's CRC-CCITT (poly 0x1021) variant over
// an address and payload: address bytes fed in reverse order, data
// bytes bit-reversed before feeding, and the result bit-reversed and
// complemented. This is not the CRC as transmitted; it is folded into
// the whitened frame by RFPayload.
func CRC16(addr, data []byte) uint16 {
	crc := uint16(0xffff)

	for i := len(addr) - 1; i >= 0; i-- {
		crc ^= uint16(addr[i]) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	for i := 0; i < len(data); i++ {
		crc ^= uint16(InvertBits8(data[i])) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return ^InvertBits16(crc)
}

// WhiteningInit seeds a 7-bit whitening state: state[0] is fixed to 1,
// state[1..6] hold bits 5..0 of the seed. The two seeds used on the
// air are 0x25 and 0x3F.
func WhiteningInit(seed byte) [7]byte {
	return [7]byte{
		1,
		(seed >> 5) & 1,
		(seed >> 4) & 1,
		(seed >> 3) & 1,
		(seed >> 2) & 1,
		(seed >> 1) & 1,
		seed & 1,
	}
}

// WhiteningEncode copies the first length bytes of data into a fresh
// zero-filled buffer of the same size and whitens length bytes starting
// at offset. When offset+length exceeds the copied region the encoder
// runs over zero bytes and emits raw keystream; the on-air format
// depends on this, so callers rely on it.
//
// The state advances once per output byte. Every bit of each byte is
// XORed with a derived state bit; none pass through unmodified.
func WhiteningEncode(data []byte, length int, state *[7]byte, offset int) []byte {
	result := make([]byte, len(data))
	copy(result[:length], data[:length])

	for i := 0; i < length; i++ {
		s6 := state[6]
		s5 := state[5]
		s4 := state[4]
		s3 := state[3]
		s52 := s5 ^ state[2]
		s41 := s4 ^ state[1]
		s63 := s6 ^ state[3]
		s630 := s63 ^ state[0]

		state[0] = s52 ^ s6
		state[1] = s630
		state[2] = s41
		state[3] = s52
		state[4] = s52 ^ s3
		state[5] = s630 ^ s4
		state[6] = s41 ^ s5

		mask := (s52^s6)<<7 | s630<<6 | s41<<5 | s52<<4 | s63<<3 | s4<<2 | s5<<1 | s6
		result[i+offset] ^= mask
	}

	return result
}

// RFPayload builds the 11-byte over-the-air frame body for the given
// 5-byte accessory address and payload data.
//
// Working buffer layout (length 0x14 + len(addr) + len(data)): fixed
// preamble 0x71 0x0F 0x55 at 0x0F..0x11, the address reversed after it,
// the data reversed after that, the preamble+address region
// bit-inverted, and the CRC16 appended little-endian. Two whitening
// passes are applied -- seed 0x3F over 2+len(addr)+len(data) bytes from
// offset 0x12, seed 0x25 over the whole buffer from offset 0 -- and
// XORed together; bytes 0x0F..0x1A of the combination are the frame.
func RFPayload(addr, data []byte) []byte {
	dataEnd := 0x12 + len(addr) + len(data)
	bufLen := dataEnd + 2

	buf := make([]byte, bufLen)
	buf[0x0f] = 0x71
	buf[0x10] = 0x0f
	buf[0x11] = 0x55

	for j := 0; j < len(addr); j++ {
		buf[0x12+len(addr)-j-1] = addr[j]
	}
	for j := 0; j < len(data); j++ {
		buf[dataEnd-j-1] = data[j]
	}

	for i := 0; i < 3+len(addr); i++ {
		buf[0x0f+i] = InvertBits8(buf[0x0f+i])
	}

	crc := CRC16(addr, data)
	buf[dataEnd] = byte(crc)
	buf[dataEnd+1] = byte(crc >> 8)

	ctx3f := WhiteningInit(0x3f)
	ctx25 := WhiteningInit(0x25)
	enc3f := WhiteningEncode(buf, 2+len(addr)+len(data), &ctx3f, 0x12)
	enc25 := WhiteningEncode(buf, bufLen, &ctx25, 0)

	out := make([]byte, PayloadLen)
	for i := range out {
		out[i] = enc25[0x0f+i] ^ enc3f[0x0f+i]
	}
	return out
}
