package radio

// CompanyID is the manufacturer identifier carried in the spoofed
// advertisement.
const CompanyID uint16 = 0xFFF0

// MaxBroadcastLevel is the highest intensity level the broadcast
// protocol encodes.
const MaxBroadcastLevel = 7

// TargetAddress is the fixed hardware address the broadcast accessory
// answers to. It is baked into the firmware, not discovered.
var TargetAddress = [AddressLen]byte{0x77, 0x62, 0x4d, 0x53, 0x45}

// advFlags is the constant advertising-flags AD structure prefixed to
// the frame body inside the manufacturer data.
var advFlags = [3]byte{0x02, 0x01, 0x06}

// commandCodes maps intensity levels 1..7 to their 3-byte raw command
// codes. Index 0 is the "off" code, also used for any out-of-range
// level.
var commandCodes = [MaxBroadcastLevel + 1][3]byte{
	{0xe5, 0x00, 0x00},
	{0xf4, 0x00, 0x00},
	{0xf7, 0x00, 0x00},
	{0xf6, 0x00, 0x00},
	{0xf1, 0x00, 0x00},
	{0xf3, 0x00, 0x00},
	{0xe7, 0x00, 0x00},
	{0xe6, 0x00, 0x00},
}

// CommandCode returns the raw command code for an intensity level.
// Levels above MaxBroadcastLevel fall back to the off code.
func CommandCode(level byte) [3]byte {
	if level > MaxBroadcastLevel {
		level = 0
	}
	return commandCodes[level]
}

// CommandFrame builds the 11-byte frame body for a raw 3-byte command:
// the encoded payload for a single zero data byte with the command code
// occupying the tail. The accessory reads the command from those raw
// bytes; the preceding whitened bytes carry the address scramble it
// validates against.
func CommandFrame(addr []byte, code [3]byte) []byte {
	frame := RFPayload(addr, []byte{0x00})
	copy(frame[PayloadLen-3:], code[:])
	return frame
}

// AdvertisingPayload builds the complete manufacturer-data payload for
// an intensity level: advertising flags followed by the frame body.
// The result is placed on air verbatim under CompanyID.
func AdvertisingPayload(level byte) []byte {
	frame := CommandFrame(TargetAddress[:], CommandCode(level))
	payload := make([]byte, 0, len(advFlags)+len(frame))
	payload = append(payload, advFlags[:]...)
	payload = append(payload, frame...)
	return payload
}
