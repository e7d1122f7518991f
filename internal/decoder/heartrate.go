package decoder

import (
	"encoding/binary"
	"fmt"
)

// Encoding selects how a heart-rate blob is unpacked. The endpoint a blob was
// fetched from decides the encoding; blobs never describe themselves.
type Encoding int

const (
	// Encoding16 is little-endian uint16 pairs, one per minute. Served by the
	// fitness heart_rate endpoint.
	Encoding16 Encoding = iota + 1
	// Encoding8 is one byte per minute. Served inside band_data as data_hr.
	Encoding8
)

func (e Encoding) String() string {
	switch e {
	case Encoding16:
		return "paired16"
	case Encoding8:
		return "packed8"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

const (
	noReading16   = 0xFFFF
	misscaledOver = 300
	minBPM8       = 30
	maxBPM8       = 239
)

// DecodeHeartRate unpacks a base64 heart-rate blob into per-minute samples.
// Zero marks a minute with no reading.
func DecodeHeartRate(blob string, enc Encoding) ([]int, error) {
	raw, err := decodeBase64(blob)
	if err != nil {
		return nil, &DecodeError{Field: "heart_rate", Err: err}
	}

	switch enc {
	case Encoding16:
		return decodePaired16(raw), nil
	case Encoding8:
		return decodePacked8(raw), nil
	default:
		return nil, &DecodeError{Field: "heart_rate", Err: fmt.Errorf("unknown encoding %s", enc)}
	}
}

// decodePaired16 emits one sample per started pair. A trailing odd byte is a
// truncated reading and decodes to 0.
func decodePaired16(raw []byte) []int {
	out := make([]int, 0, (len(raw)+1)/2)
	for i := 0; i < len(raw); i += 2 {
		if i+1 >= len(raw) {
			out = append(out, 0)
			break
		}
		out = append(out, scale16(binary.LittleEndian.Uint16(raw[i:i+2])))
	}
	return out
}

func scale16(v uint16) int {
	switch {
	case v == noReading16:
		return 0
	case v > misscaledOver:
		// Some firmware reports tenths of a beat.
		return int(v) / 10
	default:
		return int(v)
	}
}

func decodePacked8(raw []byte) []int {
	out := make([]int, len(raw))
	for i, b := range raw {
		if b >= minBPM8 && b <= maxBPM8 {
			out[i] = int(b)
		}
	}
	return out
}
