// Package alloc implements the dispatcher that routes allocation
// requests between the bucket and tree subsystems by size, classifies
// pointers back to their owning subsystem on release, and optionally
// wraps every live allocation in the debug package's guard envelope.
// Grounded on kernel/threads/arena/allocator.go's HybridAllocator, which
// plays the same routing role between its slab and buddy tiers.
package alloc

import (
	"errors"
	"io"
	"sync/atomic"
	"unsafe"

	"github.com/inos-systems/heapd/bucket"
	"github.com/inos-systems/heapd/debug"
	"github.com/inos-systems/heapd/internal/sizeclass"
	"github.com/inos-systems/heapd/pageprovider"
	"github.com/inos-systems/heapd/tree"
	"github.com/inos-systems/heapd/utils"
)

// Sentinel errors surfaced by Allocator's operations.
var (
	ErrOutOfMemory       = errors.New("alloc: out of memory")
	ErrInvalidAlignment  = errors.New("alloc: alignment must be a power of two")
	ErrMisalignedPointer = errors.New("alloc: pointer is not owned by this allocator")
	ErrDebugDisabled     = errors.New("alloc: debug mode is not enabled")
)

// Allocator is the two-tier dispatcher: NumBuckets fixed-size-class
// buckets for small requests, one boundary-tag tree for large ones.
type Allocator struct {
	buckets  [sizeclass.NumBuckets]bucket.Bucket
	tree     tree.Tree
	provider pageprovider.Provider
	debugEnv *debug.Envelope
	logger   *utils.Logger

	allocCount, freeCount, purgeCount uint64
}

// New constructs an Allocator. With no options it draws superpages from
// a rate-limited, circuit-broken real mmap provider.
func New(opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.provider == nil {
		bounded, err := pageprovider.NewBounded(pageprovider.NewMmap(), pageprovider.DefaultBoundedConfig())
		if err != nil {
			return nil, err
		}
		cfg.provider = bounded
	}

	a := &Allocator{
		provider: cfg.provider,
		debugEnv: cfg.buildDebug(),
		logger:   cfg.logger,
	}
	for i := range a.buckets {
		a.buckets[i].Init(i, a.provider, uintptr(0x9e3779b97f4a7c15)^uintptr(i))
	}
	a.tree.Init(a.provider)

	a.logger.Info("allocator constructed", utils.Bool("debug", a.debugEnv != nil))
	return a, nil
}

// routeSmall reports whether a request of n total bytes (payload plus any
// debug envelope padding) is small enough for the bucket subsystem.
func (a *Allocator) routeSmall(n uintptr) bool {
	return n <= sizeclass.MaxSmallAllocation
}

// Allocate returns size bytes, default-aligned. file/line are recorded
// by the debug envelope when enabled; pass "" and 0 when not needed.
// size == 0 returns nil, nil (the bucket path's documented NULL result).
func (a *Allocator) Allocate(size uintptr, file string, line int) (unsafe.Pointer, error) {
	return a.allocate(size, sizeclass.DefaultAlignment, file, line)
}

// AllocateAligned is Allocate with a caller-specified alignment, which
// must be a power of two. Unlike Allocate, a size of 0 with an alignment
// greater than DefaultAlignment routes to the tree, which returns a
// valid minimum-sized block rather than NULL.
func (a *Allocator) AllocateAligned(size, align uintptr, file string, line int) (unsafe.Pointer, error) {
	if !sizeclass.IsPowerOfTwo(align) {
		return nil, ErrInvalidAlignment
	}
	return a.allocate(size, align, file, line)
}

func (a *Allocator) allocate(size, align uintptr, file string, line int) (unsafe.Pointer, error) {
	total := size
	if a.debugEnv != nil {
		total += debug.ExtraSize
	}

	// Classify first, then apply the zero-size contract: NULL on the
	// bucket path, a valid minimum block on the tree path.
	if size == 0 && align <= sizeclass.DefaultAlignment && a.routeSmall(total) {
		return nil, nil
	}

	raw, err := a.acquireRaw(total, align)
	if err != nil {
		return nil, err
	}
	atomic.AddUint64(&a.allocCount, 1)
	if a.debugEnv != nil {
		return a.debugEnv.Wrap(raw, total, size, file, line), nil
	}
	return raw, nil
}

func (a *Allocator) acquireRaw(total, align uintptr) (unsafe.Pointer, error) {
	if align <= sizeclass.DefaultAlignment && a.routeSmall(total) {
		idx := sizeclass.BucketIndex(total)
		return a.buckets[idx].Alloc()
	}
	if align <= sizeclass.DefaultAlignment {
		return a.tree.Alloc(total)
	}
	return a.tree.AllocAligned(total, align)
}

// ZeroAllocate allocates room for count objects of size bytes each and
// zero-fills it, failing with ErrOutOfMemory if count*size overflows
// rather than silently wrapping to a short allocation.
func (a *Allocator) ZeroAllocate(count, size uintptr, file string, line int) (unsafe.Pointer, error) {
	total, overflowed := mulOverflows(count, size)
	if overflowed {
		return nil, ErrOutOfMemory
	}
	p, err := a.Allocate(total, file, line)
	if err != nil {
		return nil, err
	}
	if p != nil {
		zero(p, total)
	}
	return p, nil
}

func mulOverflows(a, b uintptr) (uintptr, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	p := a * b
	return p, p/a != b
}

func zero(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), int(n))
	for i := range b {
		b[i] = 0
	}
}

// classify locates the subsystem owning raw: the bucket whose marker
// matches and whose page list confirms ownership, or the tree if none
// does. Owns is a fast probabilistic pre-check; a tree superpage can
// accidentally satisfy it by coincidence, so OwnsConfirm's list walk is
// the authoritative step before raw is trusted to belong to a bucket.
func (a *Allocator) classify(raw unsafe.Pointer) int {
	for i := range a.buckets {
		if a.buckets[i].Owns(raw) && a.buckets[i].OwnsConfirm(raw) {
			return i
		}
	}
	return -1
}

// Release returns a pointer previously obtained from Allocate,
// AllocateAligned, ZeroAllocate, Reallocate, or ReallocateAligned.
// Release(nil) is a no-op.
func (a *Allocator) Release(ptr unsafe.Pointer) error {
	if ptr == nil {
		return nil
	}
	raw := ptr
	if a.debugEnv != nil {
		r, _, err := a.debugEnv.Unwrap(ptr)
		if err != nil {
			return err
		}
		raw = r
	}

	idx := a.classify(raw)
	if idx >= 0 {
		a.buckets[idx].Free(raw)
	} else {
		a.tree.Free(raw)
	}
	atomic.AddUint64(&a.freeCount, 1)
	return nil
}

// QuerySize returns the usable payload size of a live allocation.
func (a *Allocator) QuerySize(ptr unsafe.Pointer) (uintptr, error) {
	if a.debugEnv != nil {
		if n, ok := a.debugEnv.Peek(ptr); ok {
			return n, nil
		}
		return 0, ErrMisalignedPointer
	}
	idx := a.classify(ptr)
	if idx >= 0 {
		return a.buckets[idx].SlotSize(), nil
	}
	return a.tree.QuerySize(ptr), nil
}

// Reallocate resizes a live allocation, preserving its content up to
// min(old size, new size) bytes. The returned pointer may differ from
// ptr if the allocation had to move.
func (a *Allocator) Reallocate(ptr unsafe.Pointer, newSize uintptr, file string, line int) (unsafe.Pointer, error) {
	return a.reallocate(ptr, newSize, sizeclass.DefaultAlignment, file, line)
}

// ReallocateAligned is Reallocate with an alignment requirement on the
// result.
func (a *Allocator) ReallocateAligned(ptr unsafe.Pointer, newSize, align uintptr, file string, line int) (unsafe.Pointer, error) {
	if !sizeclass.IsPowerOfTwo(align) {
		return nil, ErrInvalidAlignment
	}
	return a.reallocate(ptr, newSize, align, file, line)
}

func (a *Allocator) reallocate(ptr unsafe.Pointer, newSize, align uintptr, file string, line int) (unsafe.Pointer, error) {
	if ptr == nil {
		return a.allocate(newSize, align, file, line)
	}
	if newSize == 0 {
		return nil, a.Release(ptr)
	}

	raw := ptr
	oldRawSize := uintptr(0)
	if a.debugEnv != nil {
		r, rs, err := a.debugEnv.Unwrap(ptr)
		if err != nil {
			return nil, err
		}
		raw = r
		oldRawSize = rs
	}

	newTotal := newSize
	if a.debugEnv != nil {
		newTotal += debug.ExtraSize
	}

	idx := a.classify(raw)
	var newRaw unsafe.Pointer
	var err error

	if idx >= 0 {
		// Bucket-resident blocks are fixed size; resize in place if the
		// new total still fits the same slot class and the slot already
		// satisfies align, else move. The whole old slot is safe to read
		// back, regardless of how much of it the original request
		// actually used.
		if newTotal <= a.buckets[idx].SlotSize() && uintptr(raw)%align == 0 {
			newRaw = raw
		} else {
			newRaw, err = a.acquireRaw(newTotal, align)
			if err != nil {
				return nil, err
			}
			copyBytes(newRaw, raw, minu(a.buckets[idx].SlotSize(), newTotal))
			a.buckets[idx].Free(raw)
		}
	} else {
		copyLimit := oldRawSize
		if copyLimit == 0 {
			copyLimit = a.tree.QuerySize(raw)
		}
		if align <= sizeclass.DefaultAlignment {
			newRaw, err = a.tree.Realloc(raw, newTotal, copyLimit)
		} else {
			newRaw, err = a.tree.ReallocAligned(raw, newTotal, align, copyLimit)
		}
		if err != nil {
			return nil, err
		}
	}

	if a.debugEnv != nil {
		return a.debugEnv.Wrap(newRaw, newTotal, newSize, file, line), nil
	}
	return newRaw, nil
}

func minu(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), int(n))
	s := unsafe.Slice((*byte)(src), int(n))
	copy(d, s)
}

// Purge releases every fully-empty superpage back to the page provider.
func (a *Allocator) Purge() {
	for i := range a.buckets {
		a.buckets[i].Purge()
	}
	a.tree.Purge()
	atomic.AddUint64(&a.purgeCount, 1)
}

// SelfCheck validates every live debug-tracked allocation's guard
// patterns, returning the first corruption found. It is a no-op,
// returning nil, when debug mode is disabled.
func (a *Allocator) SelfCheck() error {
	if a.debugEnv == nil {
		return nil
	}
	return a.debugEnv.SelfCheck()
}

// Report writes a dump of every live debug-tracked allocation to w,
// brotli-compressed when compress is true. It returns ErrDebugDisabled
// if the allocator was constructed without WithDebug.
func (a *Allocator) Report(w io.Writer, compress bool) error {
	if a.debugEnv == nil {
		return ErrDebugDisabled
	}
	return a.debugEnv.Report(w, compress)
}
