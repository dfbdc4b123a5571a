package sizeclass

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketIndex_Boundaries(t *testing.T) {
	assert.Equal(t, 0, BucketIndex(1))
	assert.Equal(t, 0, BucketIndex(MinAllocation))
	assert.Equal(t, 1, BucketIndex(MinAllocation+1))
	assert.Equal(t, NumBuckets-1, BucketIndex(MaxSmallAllocation))
}

func TestSlotSize_RoundTrips(t *testing.T) {
	for b := 0; b < NumBuckets; b++ {
		size := SlotSize(b)
		require.GreaterOrEqual(t, int(size), 1)
		assert.Equal(t, b, BucketIndex(size))
	}
}

func TestRoundUpDown(t *testing.T) {
	assert.Equal(t, uintptr(16), RoundUp(9, 16))
	assert.Equal(t, uintptr(0), RoundUp(0, 16))
	assert.Equal(t, uintptr(16), RoundDown(31, 16))
}

func TestAlignUpDown(t *testing.T) {
	base := unsafe.Pointer(uintptr(0x1001))
	up := AlignUp(base, 16)
	assert.Equal(t, uintptr(0x1010), uintptr(up))

	down := AlignDown(base, 16)
	assert.Equal(t, uintptr(0x1000), uintptr(down))
}

func TestIsPowerOfTwo(t *testing.T) {
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(64))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(96))
}

func TestPageBase(t *testing.T) {
	p := unsafe.Pointer(uintptr(PageSize*3 + 128))
	assert.Equal(t, uintptr(PageSize*3), uintptr(PageBase(p)))
}
