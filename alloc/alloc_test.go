package alloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inos-systems/heapd/pageprovider"
)

func newTestAllocator(t *testing.T, opts ...Option) *Allocator {
	t.Helper()
	allOpts := append([]Option{WithPageProvider(pageprovider.NewSim())}, opts...)
	a, err := New(allOpts...)
	require.NoError(t, err)
	return a
}

func TestAllocate_SmallRoutesToBucket(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.Allocate(32, "", 0)
	require.NoError(t, err)
	require.NotNil(t, p)

	sz, err := a.QuerySize(p)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sz, uintptr(32))
	assert.GreaterOrEqual(t, a.classify(p), 0, "pointer should be owned by a bucket")

	require.NoError(t, a.Release(p))
}

func TestAllocate_LargeRoutesToTree(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.Allocate(100000, "", 0)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, -1, a.classify(p), "pointer should not be owned by any bucket")
	require.NoError(t, a.Release(p))
}

func TestZeroAllocate_ZerosMemory(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.ZeroAllocate(8, 16, "", 0)
	require.NoError(t, err)

	b := unsafe.Slice((*byte)(p), 128)
	for _, c := range b {
		assert.Equal(t, byte(0), c)
	}
}

func TestZeroAllocate_OverflowingCountTimesSizeFails(t *testing.T) {
	a := newTestAllocator(t)
	_, err := a.ZeroAllocate(^uintptr(0), 2, "", 0)
	assert.ErrorIs(t, err, ErrOutOfMemory)
}

func TestAllocate_ZeroSizeBucketPathReturnsNil(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.Allocate(0, "", 0)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestReallocate_ZeroSizeReleasesAndReturnsNil(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.Allocate(32, "", 0)
	require.NoError(t, err)

	np, err := a.Reallocate(p, 0, "", 0)
	require.NoError(t, err)
	assert.Nil(t, np)
}

func TestRelease_NilIsNoOp(t *testing.T) {
	a := newTestAllocator(t)
	assert.NoError(t, a.Release(nil))
}

func TestAllocateAligned_SatisfiesAlignment(t *testing.T) {
	a := newTestAllocator(t)
	for _, align := range []uintptr{16, 64, 512} {
		p, err := a.AllocateAligned(200, align, "", 0)
		require.NoError(t, err)
		assert.Equal(t, uintptr(0), uintptr(p)%align)
	}
}

func TestReallocate_GrowsAcrossTiers(t *testing.T) {
	a := newTestAllocator(t)
	p, err := a.Allocate(16, "", 0)
	require.NoError(t, err)

	buf := unsafe.Slice((*byte)(p), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	np, err := a.Reallocate(p, 100000, "", 0)
	require.NoError(t, err)
	nbuf := unsafe.Slice((*byte)(np), 16)
	for i := range nbuf {
		assert.Equal(t, byte(i+1), nbuf[i])
	}
}

func TestDebugEnvelope_DetectsDoubleFree(t *testing.T) {
	a := newTestAllocator(t, WithDebug(16))
	p, err := a.Allocate(48, "scenario_test.go", 1)
	require.NoError(t, err)

	require.NoError(t, a.Release(p))
	err = a.Release(p)
	assert.Error(t, err)
}

func TestDebugEnvelope_DetectsOverrun(t *testing.T) {
	a := newTestAllocator(t, WithDebug(16))
	p, err := a.Allocate(16, "scenario_test.go", 1)
	require.NoError(t, err)

	overrun := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p)+16)), 1)
	overrun[0] = 0x00 // corrupt the trailing guard pattern

	err = a.Release(p)
	assert.Error(t, err)
}

func TestPurge_ReturnsEmptySuperpagesToProvider(t *testing.T) {
	prov := pageprovider.NewSim()
	a := newTestAllocator(t, WithPageProvider(prov))
	p, err := a.Allocate(64, "", 0)
	require.NoError(t, err)
	require.NoError(t, a.Release(p))
	a.Purge()
	assert.Equal(t, uintptr(0), prov.Acquired(), "the empty bucket superpage should be back with the provider")

	stats := a.Stats()
	assert.Equal(t, uint64(1), stats.PurgeCount)
}
