package go_pooled_bytebuf

import "math/bits"

// log2 floor(log2(v)) for v > 0
func log2(v int) int {
	return bits.Len(uint(v)) - 1
}

// nextPowerOfTwo smallest power of 2 >= v, v must be > 0
func nextPowerOfTwo(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

// isTiny tiny size classes are every multiple of 16 below 512 bytes
func isTiny(normCapacity int) bool {
	return normCapacity < smallThreshold
}

// tinyIdx index of the tiny subpage pool serving normCapacity
func tinyIdx(normCapacity int) int {
	return normCapacity >> tinyQuantumShift
}

// smallIdx index of the small subpage pool serving normCapacity: 512 -> 0, 1024 -> 1, ...
func smallIdx(normCapacity int) int {
	return log2(normCapacity) - log2(smallThreshold)
}
