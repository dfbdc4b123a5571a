//go:build !windows

package pageprovider

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap is the production provider: it hands out anonymous, zero-filled
// private mappings directly from the kernel via mmap(2) and returns them
// via munmap(2). This is the real analogue of the spec's "OS page
// allocator" — the teacher's own examples only ever simulate this layer
// (threads/sab/hal_memory.go), so the mmap flags and error handling here
// are grounded on golang.org/x/sys/unix's documented Mmap/Munmap contract
// rather than on teacher code.
type Mmap struct{}

// NewMmap returns a provider backed by real anonymous mmap regions.
func NewMmap() *Mmap { return &Mmap{} }

func (Mmap) Acquire(n uintptr) (unsafe.Pointer, error) {
	b, err := unix.Mmap(-1, 0, int(n), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, ErrOutOfMemory
	}
	return unsafe.Pointer(&b[0]), nil
}

func (Mmap) Release(p unsafe.Pointer, n uintptr) error {
	b := unsafe.Slice((*byte)(p), int(n))
	return unix.Munmap(b)
}
