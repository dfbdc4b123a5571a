package alloc

import "sync"

var (
	instance     *Allocator
	instanceOnce sync.Once
	instanceErr  error
)

// Instance returns the process-wide lazily-constructed default
// Allocator, built with New()'s defaults on first use. Callers needing
// a differently configured allocator (tests, multiple isolated arenas)
// should call New directly instead.
func Instance() (*Allocator, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New()
	})
	return instance, instanceErr
}
