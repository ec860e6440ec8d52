package util

import (
	"math/bits"
	"runtime"
)

// MaxShards caps the number of shards a cache may be split into.
const MaxShards = 256

// ShardCount normalizes a requested shard count: zero or negative picks
// nextPow2(2*GOMAXPROCS), everything is rounded up to a power of two and
// clamped to [1..MaxShards].
func ShardCount(requested int) int {
	if requested <= 0 {
		p := runtime.GOMAXPROCS(0)
		if p < 1 {
			p = 1
		}
		requested = 2 * p
	}
	if requested > MaxShards {
		return MaxShards
	}
	return int(NextPow2(uint64(requested)))
}

// ShardIndex maps a 64-bit hash onto one of n shards, n being a power of two.
func ShardIndex(hash uint64, n int) int {
	if n <= 1 {
		return 0
	}
	// High bits feed the index; xxhash mixes them as well as the low ones,
	// and a user-supplied hash is more likely to be weak in the low bits.
	return int((hash >> 32) & uint64(n-1))
}

// NextPow2 returns the smallest power of two >= x (1 for x == 0).
func NextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	return 1 << bits.Len64(x-1)
}
