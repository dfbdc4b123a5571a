// Package debug implements the allocator's optional debug envelope:
// guard-pattern overrun detection, double-free / foreign-pointer
// rejection, and a compressible usage report. It is only consulted when
// the allocator is constructed with debug mode enabled — release builds
// pay none of this cost.
package debug

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/andybalholm/brotli"
	"github.com/bits-and-blooms/bloom/v3"
)

// Sentinel errors surfaced by Unwrap when the debug envelope catches a
// misuse the release build would leave as undefined behavior.
var (
	ErrDoubleFree     = errors.New("debug: double free detected")
	ErrForeignPointer = errors.New("debug: pointer not tracked by this allocator")
	ErrOverrun        = errors.New("debug: buffer overrun detected")
	ErrCorruptEnvelope = errors.New("debug: corrupted allocation envelope")
)

const (
	prePattern  = byte(0xAB)
	postPattern = byte(0xEF)
	patternSize = 32
)

// ExtraSize is how many additional bytes Wrap needs on top of the
// caller's requested size: guard regions before and after the payload.
const ExtraSize = patternSize + patternSize

// record is the side-table metadata kept per live tracked allocation.
// The guard-pattern bytes themselves live in the raw memory region (so
// overruns actually corrupt real bytes an overrun would touch); file/
// line/checksum live here since stitching Go strings into raw
// provider-backed memory would smuggle GC pointers into unmanaged bytes.
type record struct {
	node          node
	raw           unsafe.Pointer
	rawSize       uintptr
	requestedSize uintptr
	file          string
	line          int
	checksum      uint64
}

type node struct {
	prev, next *record
}

// Envelope tracks every live debug-mode allocation made through one
// allocator instance.
type Envelope struct {
	mu       sync.Mutex
	root     record // sentinel head/tail of the intrusive allocation list
	filter   *bloom.BloomFilter
	byUser   map[unsafe.Pointer]*record
	count    int
	totalReq uint64
	peakReq  uint64
}

// NewEnvelope returns a ready-to-use debug envelope sized for roughly
// expectedLive concurrent allocations.
func NewEnvelope(expectedLive uint) *Envelope {
	e := &Envelope{
		filter: bloom.NewWithEstimates(uint(maxu(expectedLive, 1024)), 0.01),
		byUser: make(map[unsafe.Pointer]*record),
	}
	e.root.node.prev = &e.root
	e.root.node.next = &e.root
	return e
}

func maxu(a, b uint) uint {
	if a > b {
		return a
	}
	return b
}

// Wrap paints guard patterns into raw (which must be at least
// requestedSize+ExtraSize bytes) and returns the user-visible pointer
// sitting between the two guard regions.
func (e *Envelope) Wrap(raw unsafe.Pointer, rawSize, requestedSize uintptr, file string, line int) unsafe.Pointer {
	pre := unsafe.Slice((*byte)(raw), patternSize)
	for i := range pre {
		pre[i] = prePattern
	}
	userPtr := unsafe.Pointer(uintptr(raw) + patternSize)
	post := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(userPtr)+requestedSize)), patternSize)
	for i := range post {
		post[i] = postPattern
	}

	r := &record{
		raw:           raw,
		rawSize:       rawSize,
		requestedSize: requestedSize,
		file:          file,
		line:          line,
		checksum:      checksum(userPtr, requestedSize),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	r.node.prev = e.root.node.prev
	r.node.next = &e.root
	e.root.node.prev.node.next = r
	e.root.node.prev = r
	e.byUser[userPtr] = r
	e.filter.Add(hashPtr(userPtr))
	e.count++
	e.totalReq += uint64(requestedSize)
	if e.totalReq > e.peakReq {
		e.peakReq = e.totalReq
	}
	return userPtr
}

// Peek returns the requested size ptr was allocated with, without
// removing it from tracking. Used by QuerySize, which must not consume
// the envelope entry.
func (e *Envelope) Peek(ptr unsafe.Pointer) (uintptr, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byUser[ptr]
	if !ok {
		return 0, false
	}
	return r.requestedSize, true
}

// Unwrap validates ptr's guard patterns and returns its raw region so the
// caller can release it, or an error describing what went wrong.
func (e *Envelope) Unwrap(ptr unsafe.Pointer) (unsafe.Pointer, uintptr, error) {
	if !e.filter.Test(hashPtr(ptr)) {
		return nil, 0, ErrForeignPointer
	}

	e.mu.Lock()
	r, ok := e.byUser[ptr]
	if !ok {
		e.mu.Unlock()
		return nil, 0, ErrDoubleFree
	}
	delete(e.byUser, ptr)
	r.node.prev.node.next = r.node.next
	r.node.next.node.prev = r.node.prev
	e.count--
	e.totalReq -= uint64(r.requestedSize)
	e.mu.Unlock()

	if err := validate(ptr, r); err != nil {
		return r.raw, r.rawSize, err
	}
	return r.raw, r.rawSize, nil
}

func validate(ptr unsafe.Pointer, r *record) error {
	raw := r.raw
	pre := unsafe.Slice((*byte)(raw), patternSize)
	for _, b := range pre {
		if b != prePattern {
			return ErrOverrun
		}
	}
	post := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr)+r.requestedSize)), patternSize)
	for _, b := range post {
		if b != postPattern {
			return ErrOverrun
		}
	}
	return nil
}

func checksum(p unsafe.Pointer, n uintptr) uint64 {
	var h uint64 = 14695981039346656037
	b := unsafe.Slice((*byte)(p), int(minu(n, 4096)))
	for _, c := range b {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}

func minu(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

func hashPtr(p unsafe.Pointer) []byte {
	v := uint64(uintptr(p))
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b[:]
}

// Stats summarizes the live allocations currently tracked.
type Stats struct {
	LiveAllocations int
	BytesRequested  uint64
	PeakBytesRequested uint64
}

// Snapshot returns the current debug stats.
func (e *Envelope) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		LiveAllocations:    e.count,
		BytesRequested:     e.totalReq,
		PeakBytesRequested: e.peakReq,
	}
}

// SelfCheck walks every live tracked allocation and validates its guard
// patterns, returning the first corruption found, if any.
func (e *Envelope) SelfCheck() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for n := e.root.node.next; n != &e.root; n = n.node.next {
		userPtr := unsafe.Pointer(uintptr(n.raw) + patternSize)
		if err := validate(userPtr, n); err != nil {
			return fmt.Errorf("self check: %s:%d: %w", n.file, n.line, err)
		}
	}
	return nil
}

// Report writes a human-readable dump of every live allocation (file,
// line, size) to w. When compress is true the report is brotli-encoded,
// suited to shipping a full heap snapshot out of process cheaply.
func (e *Envelope) Report(w io.Writer, compress bool) error {
	e.mu.Lock()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "live=%d requested=%d peak=%d\n", e.count, e.totalReq, e.peakReq)
	for n := e.root.node.next; n != &e.root; n = n.node.next {
		fmt.Fprintf(&buf, "%s:%d size=%d\n", n.file, n.line, n.requestedSize)
	}
	e.mu.Unlock()

	if !compress {
		_, err := w.Write(buf.Bytes())
		return err
	}
	bw := brotli.NewWriter(w)
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return err
	}
	return bw.Close()
}
