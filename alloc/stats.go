package alloc

import "sync/atomic"

// Stats is a point-in-time snapshot of the allocator's usage, consumed
// directly by callers and by the metrics package's Prometheus collector.
type Stats struct {
	// SuperpagesAcquired is not filled in by Allocator.Stats; it is
	// always zero.
	SuperpagesAcquired uint64
	AllocCount         uint64
	FreeCount          uint64
	PurgeCount         uint64
	DebugLiveAllocs    int
	DebugBytesRequested uint64
}

// Stats returns a snapshot of the allocator's counters.
func (a *Allocator) Stats() Stats {
	s := Stats{
		AllocCount: atomic.LoadUint64(&a.allocCount),
		FreeCount:  atomic.LoadUint64(&a.freeCount),
		PurgeCount: atomic.LoadUint64(&a.purgeCount),
	}
	if a.debugEnv != nil {
		ds := a.debugEnv.Snapshot()
		s.DebugLiveAllocs = ds.LiveAllocations
		s.DebugBytesRequested = ds.BytesRequested
	}
	return s
}
