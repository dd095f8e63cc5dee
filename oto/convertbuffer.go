package oto

import (
	"encoding/binary"
	"math"
)

// InterleaveFloat32LE packs planar float32 channels into the interleaved
// little-endian stream the device consumes. All channels must be the same
// length. Returns the number of bytes written.
func InterleaveFloat32LE(channels [][]float32, out []byte) int {
	if len(channels) == 0 {
		return 0
	}
	n := 0
	for i := range channels[0] {
		for _, ch := range channels {
			binary.LittleEndian.PutUint32(out[n:], math.Float32bits(ch[i]))
			n += 4
		}
	}
	return n
}
