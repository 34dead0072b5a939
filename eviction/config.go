package eviction

import "fmt"

// Config holds the recognized options from spec §6, using the functional-
// options construction idiom the teacher's cache.go/server.go use
// throughout (WithMaxMemory, WithEvictionPolicy, WithAddress, ...).
type Config struct {
	MaxMemory              uint64
	Policy                 Policy
	Samples                int
	LFULogFactor           int
	LFUDecayMinutes        int
	LazyFreeLazyEviction   bool
	ReplicaIgnoreMaxMemory bool
	HZ                     int
}

// DefaultConfig returns the documented defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		MaxMemory:       0,
		Policy:          NoEviction,
		Samples:         5,
		LFULogFactor:    10,
		LFUDecayMinutes: 1,
		HZ:              10,
	}
}

type Option func(*Config)

func WithMaxMemory(bytes uint64) Option {
	return func(c *Config) { c.MaxMemory = bytes }
}

func WithPolicy(p Policy) Option {
	return func(c *Config) { c.Policy = p }
}

func WithSamples(n int) Option {
	return func(c *Config) { c.Samples = n }
}

func WithLFULogFactor(factor int) Option {
	return func(c *Config) { c.LFULogFactor = factor }
}

func WithLFUDecayMinutes(minutes int) Option {
	return func(c *Config) { c.LFUDecayMinutes = minutes }
}

func WithLazyFreeLazyEviction(on bool) Option {
	return func(c *Config) { c.LazyFreeLazyEviction = on }
}

func WithReplicaIgnoreMaxMemory(on bool) Option {
	return func(c *Config) { c.ReplicaIgnoreMaxMemory = on }
}

func WithHZ(hz int) Option {
	return func(c *Config) { c.HZ = hz }
}

// NewConfig applies opts over DefaultConfig, matching NewServerConfig's
// shape in the teacher's server.go.
func NewConfig(opts ...Option) Config {
	c := DefaultConfig()
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Validate rejects configuration a programmer should never be able to
// construct at runtime (spec §7: "unknown policy value at runtime is a
// programmer error; the config loader must reject it").
func (c Config) Validate() error {
	if c.Samples <= 0 {
		return fmt.Errorf("eviction: maxmemory-samples must be > 0, got %d", c.Samples)
	}
	if c.LFULogFactor < 0 {
		return fmt.Errorf("eviction: lfu-log-factor must be >= 0, got %d", c.LFULogFactor)
	}
	if c.LFUDecayMinutes < 0 {
		return fmt.Errorf("eviction: lfu-decay-time must be >= 0, got %d", c.LFUDecayMinutes)
	}
	switch c.Policy {
	case NoEviction, AllKeysLRU, VolatileLRU, AllKeysLFU, VolatileLFU,
		AllKeysRandom, VolatileRandom, VolatileTTL:
		return nil
	default:
		return fmt.Errorf("eviction: unrecognized policy value %d", c.Policy)
	}
}
