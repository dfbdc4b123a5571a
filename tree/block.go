// Package tree implements the coalescing boundary-tag subsystem that
// serves allocations larger than the bucket subsystem's ceiling. Free
// blocks are tracked by a best-fit red-black tree plus a small list that
// parks sub-threshold free blocks (never searched by allocation), with a
// single most-recently-freed "hot" slot checked before the tree.
package tree

import (
	"unsafe"

	"github.com/inos-systems/heapd/internal/list"
	"github.com/inos-systems/heapd/internal/rbtree"
)

type container int8

const (
	containerNone container = iota
	containerMRU
	containerTree
	containerSmall
)

// blockHeader is a boundary tag: it sits at the start of every block,
// used or free, and carries enough to find its physical neighbors and,
// while free, to sit in one of the free-index containers.
type blockHeader struct {
	prevPhys     *blockHeader
	sizeAndFlags uintptr // low bit: used; rest: size including this header
	cont         container
	rb           rbtree.Node
	ln           list.Node
}

const usedFlag = uintptr(1)

var headerSize = unsafe.Sizeof(blockHeader{})

func (b *blockHeader) size() uintptr   { return b.sizeAndFlags &^ usedFlag }
func (b *blockHeader) used() bool      { return b.sizeAndFlags&usedFlag != 0 }
func (b *blockHeader) setUsed(u bool) {
	if u {
		b.sizeAndFlags |= usedFlag
	} else {
		b.sizeAndFlags &^= usedFlag
	}
}

func (b *blockHeader) setSizeUsed(size uintptr, used bool) {
	b.sizeAndFlags = size
	b.setUsed(used)
}

// next returns the block immediately following b in memory.
func (b *blockHeader) next() *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(b)) + b.size()))
}

// prev returns the block immediately preceding b in memory, or nil if b
// is the front sentinel of its superpage.
func (b *blockHeader) prev() *blockHeader {
	return b.prevPhys
}

func (b *blockHeader) mem() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(b)) + headerSize)
}

func blockFromMem(p unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(p) - headerSize))
}

func blockFromRBNode(n *rbtree.Node) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(blockHeader{}.rb)))
}

func blockFromListNode(n *list.Node) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(unsafe.Pointer(n)) - unsafe.Offsetof(blockHeader{}.ln)))
}

func ptrOf(b *blockHeader) unsafe.Pointer {
	return unsafe.Pointer(b)
}

// isFrontSentinel reports whether b is a superpage's leading sentinel:
// zero-payload, used, with no physical predecessor.
func isFrontSentinel(b *blockHeader) bool {
	return b.prevPhys == nil && b.used()
}

// isBackSentinel reports whether b is a superpage's trailing sentinel:
// zero-size, always used.
func isBackSentinel(b *blockHeader) bool {
	return b.size() == 0 && b.used()
}
