package bridge

import (
	"encoding/binary"
)

// DecodeBinaryTemperature interprets a legacy binary-encoded temperature.
// Each character contributes one byte (its low 8 bits, no multi-byte
// decoding) and the first four bytes are read as a little-endian uint32.
// It reports false when there are not enough bytes to form a value.
func DecodeBinaryTemperature(s string) (float64, bool) {
	buf := make([]byte, 0, 4)
	for _, r := range s {
		buf = append(buf, byte(r))
		if len(buf) == 4 {
			break
		}
	}
	if len(buf) < 4 {
		return 0, false
	}

	return float64(binary.LittleEndian.Uint32(buf)), true
}
