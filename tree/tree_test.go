package tree

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/heapd/pageprovider"
)

func TestTree_AllocFreeRoundTrip(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	p, err := tr.Alloc(512)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.GreaterOrEqual(t, tr.QuerySize(p), uintptr(512))

	tr.Free(p)
}

func TestTree_CoalescesAdjacentFreedBlocks(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	a, err := tr.Alloc(1024)
	require.NoError(t, err)
	b, err := tr.Alloc(1024)
	require.NoError(t, err)
	c, err := tr.Alloc(1024)
	require.NoError(t, err)

	tr.Free(a)
	tr.Free(c)
	tr.Free(b) // merges a-b-c into one free run spanning the superpage

	before := prov.Acquired()
	tr.Purge()
	assert.Less(t, prov.Acquired(), before, "a fully-coalesced superpage should be purged")
}

func TestTree_AllocAlignedSatisfiesAlignment(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	for _, align := range []uintptr{16, 64, 256} {
		p, err := tr.AllocAligned(300, align)
		require.NoError(t, err)
		assert.Equal(t, uintptr(0), uintptr(p)%align)
	}
}

func TestTree_ResizeGrowsInPlaceWhenRoomAvailable(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	p, err := tr.Alloc(64)
	require.NoError(t, err)

	n, ok := tr.Resize(p, 128)
	assert.True(t, ok)
	assert.GreaterOrEqual(t, n, uintptr(128))
}

func TestTree_ReallocPreservesContent(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	p, err := tr.Alloc(32)
	require.NoError(t, err)
	buf := unsafe.Slice((*byte)(p), 32)
	for i := range buf {
		buf[i] = byte(i)
	}

	np, err := tr.Realloc(p, 4096, 32)
	require.NoError(t, err)
	nbuf := unsafe.Slice((*byte)(np), 32)
	for i := range nbuf {
		assert.Equal(t, byte(i), nbuf[i])
	}
}

func TestTree_ReallocThreeWayCoalesceReusesNeighbors(t *testing.T) {
	prov := pageprovider.NewSim()
	var tr Tree
	tr.Init(prov)

	// a, b, c tile the front of a single superpage; whatever's left over
	// attaches to the free index as its own block, to the right of c.
	a, err := tr.Alloc(10000)
	require.NoError(t, err)
	b, err := tr.Alloc(10000)
	require.NoError(t, err)
	c, err := tr.Alloc(10000)
	require.NoError(t, err)

	buf := unsafe.Slice((*byte)(b), 10000)
	for i := range buf {
		buf[i] = byte(i)
	}

	tr.Free(a)
	tr.Free(c) // merges with the leftover remainder into one large right neighbor

	// b's right neighbor (c plus the leftover remainder) alone is large
	// enough for a plain in-place grow but not for 59000 bytes; only
	// folding in the left neighbor (a) as well reaches far enough, and
	// doing so stays within the one superpage already acquired.
	before := prov.Acquired()
	np, err := tr.Realloc(b, 59000, 10000)
	require.NoError(t, err)
	assert.Equal(t, before, prov.Acquired(), "three-way coalesce should reuse freed neighbors instead of growing")

	nbuf := unsafe.Slice((*byte)(np), 10000)
	for i := range nbuf {
		assert.Equal(t, byte(i), nbuf[i])
	}
}

func TestTree_OutOfMemoryWhenProviderExhausted(t *testing.T) {
	prov := pageprovider.NewSim()
	prov.Close()
	var tr Tree
	tr.Init(prov)

	_, err := tr.Alloc(64)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}
