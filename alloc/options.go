package alloc

import (
	"github.com/inos-systems/heapd/debug"
	"github.com/inos-systems/heapd/pageprovider"
	"github.com/inos-systems/heapd/utils"
)

type config struct {
	provider          pageprovider.Provider
	debug             bool
	debugExpectedLive uint
	logger            *utils.Logger
}

// Option configures an Allocator at construction time.
type Option func(*config)

// WithPageProvider supplies the superpage source. Defaults to a real
// mmap-backed provider wrapped in sane rate-limit/breaker bounds.
func WithPageProvider(p pageprovider.Provider) Option {
	return func(c *config) { c.provider = p }
}

// WithDebug enables the guard-pattern/double-free debug envelope, sized
// for roughly expectedLive concurrent live allocations.
func WithDebug(expectedLive uint) Option {
	return func(c *config) {
		c.debug = true
		c.debugExpectedLive = expectedLive
	}
}

// WithLogger overrides the allocator's logger.
func WithLogger(l *utils.Logger) Option {
	return func(c *config) { c.logger = l }
}

func defaultConfig() *config {
	return &config{
		logger: utils.DefaultLogger("heapd"),
	}
}

func (c *config) buildDebug() *debug.Envelope {
	if !c.debug {
		return nil
	}
	return debug.NewEnvelope(c.debugExpectedLive)
}
