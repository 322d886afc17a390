package oto

import "math"

// FloatBufferTo16BitLE appends the float samples to the byte buffer as
// little-endian signed 16-bit PCM, clamping to [-1, 1]. The returned slice
// should be passed back in on the next call to avoid reallocation.
func FloatBufferTo16BitLE(floatBuffer []float32, to []byte) []byte {
	for _, v := range floatBuffer {
		if v < -1 {
			v = -1
		} else if v > 1 {
			v = 1
		}
		s := int16(v * math.MaxInt16)
		to = append(to, byte(s), byte(s>>8))
	}
	return to
}
