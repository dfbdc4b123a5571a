package pageprovider

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/inos-systems/heapd/internal/sizeclass"
)

// Sim is a deterministic, in-process provider backed by Go-allocated
// byte slices. It never touches the OS, which makes it suitable for
// tests and for environments where mmap isn't available. Grounded on
// the teacher's InMemoryProvider (threads/sab/hal_memory.go), generalized
// from a single fixed-size buffer to many independently sized regions.
type Sim struct {
	mu       sync.Mutex
	regions  map[unsafe.Pointer][]byte
	acquired uintptr
	closed   bool
}

// NewSim returns a ready-to-use simulated provider.
func NewSim() *Sim {
	return &Sim{regions: make(map[unsafe.Pointer][]byte)}
}

func (s *Sim) Acquire(n uintptr) (unsafe.Pointer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	// Over-allocate so the returned region can start on a PageSize boundary.
	buf := make([]byte, n+sizeclass.PageSize)
	start := uintptr(unsafe.Pointer(&buf[0]))
	p := unsafe.Add(unsafe.Pointer(&buf[0]), sizeclass.RoundUp(start, sizeclass.PageSize)-start)
	s.regions[p] = buf
	s.acquired += n
	return p, nil
}

func (s *Sim) Release(p unsafe.Pointer, n uintptr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[p]; !ok {
		return errors.New("pageprovider: release of unknown region")
	}
	delete(s.regions, p)
	s.acquired -= n
	return nil
}

// Acquired returns the total number of bytes currently checked out.
func (s *Sim) Acquired() uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquired
}

// Close releases the simulated provider; subsequent Acquire calls fail.
func (s *Sim) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.regions = nil
}
