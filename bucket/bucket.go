// Package bucket implements the segregated free-list subsystem that
// serves small, fixed-size allocations. Each Bucket owns one slot size
// and a list of superpages carved into slots of that size; a page moves
// to the back of the list when it fills and to the front when a free
// touches it while full, and purge walks from the front, stopping at the
// first full page it meets.
package bucket

import (
	"sync"
	"unsafe"

	"github.com/inos-systems/heapd/internal/list"
	"github.com/inos-systems/heapd/internal/sizeclass"
	"github.com/inos-systems/heapd/pageprovider"
)

// Bucket serves allocations of exactly slotSize bytes out of a chain of
// superpages obtained from a shared provider.
type Bucket struct {
	mu       sync.Mutex
	pages    list.List
	slotSize uintptr
	index    int
	salt     uintptr
	provider pageprovider.Provider
}

// Init prepares b to serve slot size sizeclass.SlotSize(index), drawing
// superpages from provider. salt seeds each page's marker.
func (b *Bucket) Init(index int, provider pageprovider.Provider, salt uintptr) {
	b.index = index
	b.slotSize = sizeclass.SlotSize(index)
	b.provider = provider
	b.salt = salt
}

// grow acquires a fresh superpage, carves it into slots, and pushes it to
// the front of the page list as the new hot page. Caller must hold b.mu.
func (b *Bucket) grow() (*pageHeader, error) {
	base, err := b.provider.Acquire(sizeclass.PageSize)
	if err != nil {
		return nil, err
	}
	h := pageHeaderAt(base)
	h.bucketIndex = int32(b.index)
	h.useCount = 0
	h.marker = b.salt ^ uintptr(unsafe.Pointer(h))

	n := slotsPerPage(b.slotSize)
	var head unsafe.Pointer
	for i := n - 1; i >= 0; i-- {
		slot := unsafe.Pointer(uintptr(base) + uintptr(i)*b.slotSize)
		setSlotNext(slot, head)
		head = slot
	}
	h.freeList = head
	b.pages.PushFront(&h.node)
	return h, nil
}

// Alloc returns one slotSize-sized slot, growing a new superpage if the
// current hot page is exhausted.
func (b *Bucket) Alloc() (unsafe.Pointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.pages.Front()
	var h *pageHeader
	if front == nil {
		nh, err := b.grow()
		if err != nil {
			return nil, err
		}
		h = nh
	} else {
		h = nodeToHeader(front)
		if h.freeList == nil {
			nh, err := b.grow()
			if err != nil {
				return nil, err
			}
			h = nh
		}
	}

	slot := h.freeList
	h.freeList = slotNext(slot)
	h.useCount++
	if h.freeList == nil {
		// a full page goes cold: move it behind every page with free slots.
		list.Remove(&h.node)
		b.pages.PushBack(&h.node)
	}
	return slot, nil
}

// Free returns ptr, previously returned by Alloc, to its owning page. If
// that page was full, it becomes the new hot page (moves to the front).
func (b *Bucket) Free(ptr unsafe.Pointer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := headerOf(ptr)
	wasFull := h.freeList == nil
	setSlotNext(ptr, h.freeList)
	h.freeList = ptr
	h.useCount--

	if wasFull {
		list.Remove(&h.node)
		b.pages.PushFront(&h.node)
	}
}

// Owns reports whether ptr's enclosing superpage is a page of this
// bucket, via the fast marker check. It does not walk the page list —
// callers needing the authoritative answer use OwnsConfirm.
func (b *Bucket) Owns(ptr unsafe.Pointer) bool {
	h := headerOf(ptr)
	return h.bucketIndex == int32(b.index) && h.checkMarker(b.salt)
}

// OwnsConfirm is the authoritative (list-walk) variant of Owns, used when
// the marker matched but the caller needs certainty (e.g. before trusting
// a foreign or corrupted pointer).
func (b *Bucket) OwnsConfirm(ptr unsafe.Pointer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := headerOf(ptr)
	found := false
	b.pages.Do(func(n *list.Node) {
		if nodeToHeader(n) == target {
			found = true
		}
	})
	return found
}

// Purge releases fully-empty superpages back to the provider. It walks
// the page list front to back and stops at the first full page, since a
// page moves to the back when it fills and to the front when a free
// touches it while full, which keeps every page with a free slot ahead
// of the full ones.
func (b *Bucket) Purge() {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.pages.Front()
	for n != nil {
		h := nodeToHeader(n)
		if h.freeList == nil {
			break
		}
		var next *list.Node
		if n != b.pages.Back() {
			next = n.Next()
		}
		if int(h.useCount) == 0 {
			list.Remove(n)
			base := pageBaseOf(unsafe.Pointer(h))
			_ = b.provider.Release(base, sizeclass.PageSize)
		}
		n = next
	}
}

// SlotSize returns the fixed slot size this bucket serves.
func (b *Bucket) SlotSize() uintptr {
	return b.slotSize
}
