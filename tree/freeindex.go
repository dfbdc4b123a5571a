package tree

import (
	"github.com/inos-systems/heapd/internal/list"
	"github.com/inos-systems/heapd/internal/rbtree"
	"github.com/inos-systems/heapd/internal/sizeclass"
)

// freeIndex tracks every free block not currently allocated: a single
// most-recently-freed hot slot, a best-fit tree for blocks larger than
// sizeclass.MaxSmallAllocation, and a plain list for smaller ones where
// best-fit doesn't pay for itself. Grounded on the original's mMRFreeBlock
// / mFreeTree / mSmallFreeList trio.
type freeIndex struct {
	mru      *blockHeader
	freeTree rbtree.Tree
	small    list.List
}

func sizeLess(a, b *rbtree.Node) bool {
	ba, bb := blockFromRBNode(a), blockFromRBNode(b)
	if ba.size() != bb.size() {
		return ba.size() < bb.size()
	}
	return uintptr(ptrOf(ba)) < uintptr(ptrOf(bb))
}

func (fi *freeIndex) init() {
	fi.freeTree.Less = sizeLess
}

// attach installs b as the new hot slot, evicting whatever was there
// before into the tree or small list depending on its size.
func (fi *freeIndex) attach(b *blockHeader) {
	old := fi.mru
	fi.mru = b
	b.cont = containerMRU
	if old != nil {
		fi.stash(old)
	}
}

// stash files b into the tree or small list permanently (not the hot slot).
func (fi *freeIndex) stash(b *blockHeader) {
	if b.size() > sizeclass.MaxSmallAllocation {
		b.cont = containerTree
		fi.freeTree.Insert(&b.rb)
	} else {
		b.cont = containerSmall
		fi.small.PushFront(&b.ln)
	}
}

// remove takes b out of whichever container currently holds it.
func (fi *freeIndex) remove(b *blockHeader) {
	switch b.cont {
	case containerMRU:
		if fi.mru == b {
			fi.mru = nil
		}
	case containerTree:
		fi.freeTree.Erase(&b.rb)
	case containerSmall:
		list.Remove(&b.ln)
	}
	b.cont = containerNone
}

// extract finds and removes a free block of at least size bytes,
// preferring the hot slot, then best-fit search in freeTree. small is
// never consulted here: it only parks sub-threshold free blocks so their
// physical neighbors can still find and coalesce with them.
func (fi *freeIndex) extract(size uintptr) *blockHeader {
	if fi.mru != nil && fi.mru.size() >= size {
		b := fi.mru
		fi.mru = nil
		b.cont = containerNone
		return b
	}

	key := &blockHeader{sizeAndFlags: size}
	n := fi.freeTree.LowerBound(&key.rb)
	if n != nil {
		b := blockFromRBNode(n)
		fi.freeTree.Erase(n)
		b.cont = containerNone
		return b
	}
	return nil
}

// flushMRU evicts the hot slot (if any) into its permanent container, so
// a full scan of the tree/list sees every free block.
func (fi *freeIndex) flushMRU() {
	if fi.mru == nil {
		return
	}
	b := fi.mru
	fi.mru = nil
	fi.stash(b)
}
