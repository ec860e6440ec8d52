package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is the assumed cache line width. 64 holds for amd64 and
// most arm64 parts.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields onto distinct cache lines.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// Counter is an atomic int64 occupying a full cache line, so per-shard
// statistics updated from different cores do not share a line.
type Counter struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

var _ [CacheLineSize - int(unsafe.Sizeof(Counter{}))]byte
