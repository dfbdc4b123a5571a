package tree

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/inos-systems/heapd/internal/rbtree"
	"github.com/inos-systems/heapd/internal/sizeclass"
	"github.com/inos-systems/heapd/pageprovider"
)

// ErrOutOfMemory is returned when the page provider cannot supply more
// superpages to satisfy a request.
var ErrOutOfMemory = errors.New("tree: out of memory")

// minBlock is the smallest size a free block may shrink to and still be
// worth keeping standalone: a header plus one machine word of payload.
var minBlock = headerSize + unsafe.Sizeof(uintptr(0))

// Tree is the boundary-tag allocator for requests larger than the
// bucket subsystem handles. The zero value is not ready to use; call Init.
type Tree struct {
	mu       sync.Mutex
	provider pageprovider.Provider
	idx      freeIndex
}

// Init prepares t to draw superpages from provider.
func (t *Tree) Init(provider pageprovider.Provider) {
	t.provider = provider
	t.idx.init()
}

// roundBlockSize returns the block size (header included, at least
// minBlock) for a payload, rounded up to the header's alignment so every
// block boundary stays consistently aligned.
func roundBlockSize(payload uintptr) uintptr {
	total := headerSize + payload
	if total < minBlock {
		total = minBlock
	}
	return sizeclass.RoundUp(total, unsafe.Alignof(blockHeader{}))
}

// grow acquires a fresh superpage sized to comfortably hold a block of at
// least need bytes (including header), lays down sentinels and a single
// free block spanning the space between them, and files that block into
// the free index.
func (t *Tree) grow(need uintptr) error {
	total := sizeclass.RoundUp(need+2*headerSize, sizeclass.PageSize)
	base, err := t.provider.Acquire(total)
	if err != nil {
		return ErrOutOfMemory
	}

	front := (*blockHeader)(base)
	front.prevPhys = nil
	front.setSizeUsed(headerSize, true)

	mid := front.next()
	mid.prevPhys = front
	mid.setSizeUsed(total-2*headerSize, false)

	back := mid.next()
	back.prevPhys = mid
	back.setSizeUsed(0, true)

	t.idx.attach(mid)
	return nil
}

// splitBlock carves allocSize bytes off the front of a free block b (already
// removed from any free container) and returns the leftover free remainder,
// or nil if the remainder would be too small to stand alone.
func splitBlock(b *blockHeader, allocSize uintptr) *blockHeader {
	total := b.size()
	if total < allocSize+minBlock {
		return nil
	}
	b.setSizeUsed(allocSize, true)
	rem := b.next()
	rem.prevPhys = b
	rem.setSizeUsed(total-allocSize, false)
	rem.cont = containerNone
	after := rem.next()
	after.prevPhys = rem
	return rem
}

// shiftBlock moves a block's header forward by off bytes, consuming off
// bytes out of the front of the block, used when an alignment offset is
// too small to leave behind a standalone free remainder ahead of it.
// prev must be the block immediately preceding b (already free or about
// to absorb the slack).
func shiftBlock(prev, b *blockHeader, off uintptr) *blockHeader {
	// The new header overlaps the old one, so read b before writing nb.
	size, used, cont := b.size(), b.used(), b.cont
	newAddr := uintptr(unsafe.Pointer(b)) + off
	nb := (*blockHeader)(unsafe.Pointer(newAddr))
	nb.prevPhys = prev
	nb.setSizeUsed(size-off, used)
	nb.cont = cont
	after := nb.next()
	after.prevPhys = nb
	prev.setSizeUsed(prev.size()+off, prev.used())
	return nb
}

// coalesce merges b with any free physical neighbors, removing them from
// whatever free container they occupy, and returns the merged (still
// untracked, still free) block.
func (t *Tree) coalesce(b *blockHeader) *blockHeader {
	if nb := b.next(); !nb.used() && !isBackSentinel(nb) {
		t.idx.remove(nb)
		b.setSizeUsed(b.size()+nb.size(), false)
		after := b.next()
		after.prevPhys = b
	}
	if pb := b.prev(); pb != nil && !pb.used() && !isFrontSentinel(pb) {
		t.idx.remove(pb)
		pb.setSizeUsed(pb.size()+b.size(), false)
		after := pb.next()
		after.prevPhys = pb
		b = pb
	}
	return b
}

// Alloc returns a pointer to a payload of at least size bytes, aligned to
// sizeclass.DefaultAlignment.
func (t *Tree) Alloc(size uintptr) (unsafe.Pointer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	need := roundBlockSize(size)
	b := t.idx.extract(need)
	if b == nil {
		if err := t.grow(need); err != nil {
			return nil, err
		}
		b = t.idx.extract(need)
		if b == nil {
			return nil, ErrOutOfMemory
		}
	}

	if rem := splitBlock(b, need); rem != nil {
		t.idx.attach(rem)
	} else {
		b.setUsed(true)
	}
	return b.mem(), nil
}

// AllocAligned is like Alloc but guarantees the returned pointer satisfies
// the requested alignment, which must be a power of two.
func (t *Tree) AllocAligned(size, align uintptr) (unsafe.Pointer, error) {
	if align <= sizeclass.DefaultAlignment {
		return t.Alloc(size)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	need := roundBlockSize(size) + align
	b := t.idx.extract(need)
	if b == nil {
		if err := t.grow(need); err != nil {
			return nil, err
		}
		b = t.idx.extract(need)
		if b == nil {
			return nil, ErrOutOfMemory
		}
	}

	memAddr := uintptr(b.mem())
	alignedMem := sizeclass.RoundUp(memAddr, align)
	off := alignedMem - memAddr
	payload := b
	if off != 0 {
		if off >= headerSize+unsafe.Sizeof(uintptr(0)) {
			lead := splitBlock(b, off)
			if lead != nil {
				// lead is the free remainder beginning at aligned-ish
				// boundary; b keeps the unaligned lead bytes as a tiny
				// used block that is immediately freed back in, and
				// lead becomes the block we allocate from.
				b.setUsed(false)
				t.idx.stash(b)
				payload = lead
				payload.setUsed(true)
			}
		} else {
			payload = shiftBlock(b.prev(), b, off)
			payload.setUsed(true)
		}
	}

	need2 := roundBlockSize(size)
	if rem := splitBlock(payload, need2); rem != nil {
		t.idx.attach(rem)
	} else {
		payload.setUsed(true)
	}
	return payload.mem(), nil
}

// Free releases a pointer previously returned by Alloc/AllocAligned.
func (t *Tree) Free(ptr unsafe.Pointer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := blockFromMem(ptr)
	b.setUsed(false)
	merged := t.coalesce(b)
	t.idx.attach(merged)
}

// QuerySize returns the usable payload size of a live allocation.
func (t *Tree) QuerySize(ptr unsafe.Pointer) uintptr {
	b := blockFromMem(ptr)
	return b.size() - headerSize
}

// Resize attempts to grow or shrink ptr's block in place, without
// moving it. It returns the achieved usable size and whether the
// requested size was fully satisfied.
func (t *Tree) Resize(ptr unsafe.Pointer, newSize uintptr) (uintptr, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := blockFromMem(ptr)
	need := roundBlockSize(newSize)
	cur := b.size()

	if need <= cur {
		if rem := splitBlock(b, need); rem != nil {
			merged := t.coalesce(rem)
			t.idx.attach(merged)
		}
		return b.size() - headerSize, true
	}

	nb := b.next()
	if !nb.used() && !isBackSentinel(nb) && cur+nb.size() >= need {
		t.idx.remove(nb)
		b.setSizeUsed(cur+nb.size(), true)
		after := b.next()
		after.prevPhys = b
		if rem := splitBlock(b, need); rem != nil {
			t.idx.attach(rem)
		}
		return b.size() - headerSize, true
	}
	return cur - headerSize, false
}

// coalesceMove is tree_realloc's third case: neither Resize case applies
// (no single neighbor has enough room), but the free left neighbor, b
// itself, and (if also free) the right neighbor together do. It merges
// all of them, moves the payload down into the merged block's front, and
// reports whether it found enough room to do so. merged.mem()'s address
// must satisfy align, or the attempt is abandoned before anything is
// mutated.
func (t *Tree) coalesceMove(ptr unsafe.Pointer, newSize, align, copyLimit uintptr) (unsafe.Pointer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := blockFromMem(ptr)
	need := roundBlockSize(newSize)

	pb := b.prev()
	if pb == nil || pb.used() || isFrontSentinel(pb) {
		return nil, false
	}
	if (uintptr(unsafe.Pointer(pb))+headerSize)%align != 0 {
		return nil, false
	}

	nb := b.next()
	rightFree := !nb.used() && !isBackSentinel(nb)

	combined := pb.size() + b.size()
	if rightFree {
		combined += nb.size()
	}
	if combined < need {
		return nil, false
	}

	oldMem := b.mem()
	n := copyLimit
	if newSize < n {
		n = newSize
	}

	if rightFree {
		t.idx.remove(nb)
	}
	t.idx.remove(pb)

	merged := pb
	merged.setSizeUsed(combined, true)
	copyBytes(merged.mem(), oldMem, n)

	after := merged.next()
	after.prevPhys = merged

	if rem := splitBlock(merged, need); rem != nil {
		t.idx.attach(rem)
	}
	return merged.mem(), true
}

// Realloc grows or shrinks a live allocation, copying at most copyLimit
// bytes of the old payload if the block must move. copyLimit lets the
// dispatcher account for any debug envelope living inside the payload.
func (t *Tree) Realloc(ptr unsafe.Pointer, newSize, copyLimit uintptr) (unsafe.Pointer, error) {
	if achieved, ok := t.Resize(ptr, newSize); ok {
		_ = achieved
		return ptr, nil
	}
	if newPtr, ok := t.coalesceMove(ptr, newSize, sizeclass.DefaultAlignment, copyLimit); ok {
		return newPtr, nil
	}

	newPtr, err := t.Alloc(newSize)
	if err != nil {
		return nil, err
	}
	n := copyLimit
	if newSize < n {
		n = newSize
	}
	copyBytes(newPtr, ptr, n)
	t.Free(ptr)
	return newPtr, nil
}

// ReallocAligned is Realloc with an alignment requirement on the result.
func (t *Tree) ReallocAligned(ptr unsafe.Pointer, newSize, align, copyLimit uintptr) (unsafe.Pointer, error) {
	if uintptr(ptr)%align == 0 {
		if _, ok := t.Resize(ptr, newSize); ok {
			return ptr, nil
		}
		if newPtr, ok := t.coalesceMove(ptr, newSize, align, copyLimit); ok {
			return newPtr, nil
		}
	}

	newPtr, err := t.AllocAligned(newSize, align)
	if err != nil {
		return nil, err
	}
	n := copyLimit
	if newSize < n {
		n = newSize
	}
	copyBytes(newPtr, ptr, n)
	t.Free(ptr)
	return newPtr, nil
}

func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	d := unsafe.Slice((*byte)(dst), int(n))
	s := unsafe.Slice((*byte)(src), int(n))
	copy(d, s)
}

// purgeIfWholeSuperpage releases b's superpage back to the provider if b
// is a single free block spanning the entire space between the front and
// back sentinels, and reports whether it did so.
func (t *Tree) purgeIfWholeSuperpage(b *blockHeader) bool {
	if !isFrontSentinel(b.prev()) {
		return false
	}
	if !isBackSentinel(b.next()) {
		return false
	}
	front := b.prev()
	total := front.size() + b.size() + headerSize // back sentinel's own header
	base := unsafe.Pointer(front)
	_ = t.provider.Release(base, total)
	return true
}

// Purge releases every fully-empty superpage back to the provider.
func (t *Tree) Purge() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.idx.flushMRU()

	var candidates []*blockHeader
	t.idx.freeTree.Do(func(n *rbtree.Node) {
		b := blockFromRBNode(n)
		if isFrontSentinel(b.prev()) && isBackSentinel(b.next()) {
			candidates = append(candidates, b)
		}
	})
	for _, b := range candidates {
		t.idx.remove(b)
		t.purgeIfWholeSuperpage(b)
	}
}
