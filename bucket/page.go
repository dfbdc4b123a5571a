package bucket

import (
	"unsafe"

	"github.com/inos-systems/heapd/internal/list"
	"github.com/inos-systems/heapd/internal/sizeclass"
)

// pageHeader sits at the tail of every bucket superpage. It is placed
// in-band (read directly out of the raw page bytes via unsafe.Pointer
// arithmetic) rather than tracked in a side table, mirroring the
// original's `page` struct laid out at the end of each superpage.
type pageHeader struct {
	node        list.Node
	freeList    unsafe.Pointer // head of the in-page free slot chain, or nil if full
	bucketIndex int32
	useCount    int32
	marker      uintptr // salt XOR this header's address; confirms a pointer belongs to this bucket
}

var pageHeaderSize = unsafe.Sizeof(pageHeader{})

// slotsPerPage returns how many slotSize-sized slots fit in a superpage
// once the trailing pageHeader is carved out.
func slotsPerPage(slotSize uintptr) int {
	return int((sizeclass.PageSize - pageHeaderSize) / slotSize)
}

func pageHeaderAt(base unsafe.Pointer) *pageHeader {
	return (*pageHeader)(unsafe.Pointer(uintptr(base) + sizeclass.PageSize - pageHeaderSize))
}

// pageBaseOf returns the superpage base address containing ptr.
func pageBaseOf(ptr unsafe.Pointer) unsafe.Pointer {
	return sizeclass.PageBase(ptr)
}

// headerOf returns the pageHeader for the superpage containing ptr.
func headerOf(ptr unsafe.Pointer) *pageHeader {
	return pageHeaderAt(pageBaseOf(ptr))
}

func nodeToHeader(n *list.Node) *pageHeader {
	return (*pageHeader)(unsafe.Pointer(n))
}

// slot helpers: a free slot's first machine word stores the next free
// slot's address (or nil), exactly like the original's singly-linked
// in-page free chain.
func slotNext(p unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(p)
}

func setSlotNext(p, next unsafe.Pointer) {
	*(*unsafe.Pointer)(p) = next
}

// checkMarker reports whether a candidate page's stored marker is
// consistent with salt and its own address — the fast probabilistic
// confirmation before an authoritative list walk.
func (h *pageHeader) checkMarker(salt uintptr) bool {
	return h.marker == (salt ^ uintptr(unsafe.Pointer(h)))
}
