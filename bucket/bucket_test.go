package bucket

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/heapd/internal/sizeclass"
	"github.com/inos-systems/heapd/pageprovider"
)

func TestBucket_AllocFreeRoundTrip(t *testing.T) {
	prov := pageprovider.NewSim()
	var b Bucket
	b.Init(0, prov, 0xdeadbeef)

	p, err := b.Alloc()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, b.Owns(p))
	assert.True(t, b.OwnsConfirm(p))

	b.Free(p)
}

func TestBucket_GrowsNewPageWhenExhausted(t *testing.T) {
	prov := pageprovider.NewSim()
	var b Bucket
	b.Init(0, prov, 1)

	n := slotsPerPage(b.SlotSize())
	seen := map[uintptr]bool{}
	for i := 0; i < n+5; i++ {
		p, err := b.Alloc()
		require.NoError(t, err)
		addr := uintptr(p)
		require.False(t, seen[addr], "slot addresses must not repeat across live allocations")
		seen[addr] = true
	}
	assert.GreaterOrEqual(t, prov.Acquired(), uintptr(2*sizeclass.PageSize))
}

func TestBucket_FreeingFullPageMakesItHotAgain(t *testing.T) {
	prov := pageprovider.NewSim()
	var b Bucket
	b.Init(0, prov, 7)

	n := slotsPerPage(b.SlotSize())
	all := make([]unsafe.Pointer, 0, n)
	for i := 0; i < n; i++ {
		p, err := b.Alloc()
		require.NoError(t, err)
		all = append(all, p)
	}

	// front page is now full; freeing one slot should make it the hot
	// page again so the next alloc reuses it rather than growing.
	before := prov.Acquired()
	b.Free(all[0])
	_, err := b.Alloc()
	require.NoError(t, err)
	assert.Equal(t, before, prov.Acquired(), "no new superpage should have been acquired")
}

func TestBucket_PurgeReleasesEmptyPages(t *testing.T) {
	prov := pageprovider.NewSim()
	var b Bucket
	b.Init(0, prov, 99)

	p, err := b.Alloc()
	require.NoError(t, err)
	b.Free(p)

	before := prov.Acquired()
	b.Purge()
	assert.Less(t, prov.Acquired(), before)
}
