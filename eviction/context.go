// Package eviction implements the memory-bounded key eviction core: the
// candidate pool driver, the eviction loop and its stop conditions, and
// the safety wrapper, wired to the collaborators declared in
// collaborators.go.
package eviction

import (
	"math/rand"
	"sync/atomic"

	"go.uber.org/zap"

	"rapidstore/internal/clock"
	"rapidstore/internal/evictpool"
	"rapidstore/internal/memacct"
)

// Stats holds the observability counters from spec §6.
type Stats struct {
	EvictedKeys uint64 // atomic
}

func (s *Stats) addEvicted(n uint64) {
	atomic.AddUint64(&s.EvictedKeys, n)
}

// Context is the "EvictionContext" value from spec §9: the pool and
// next_db cursor are process-wide, owned by the server, and passed by
// reference into every operation rather than recreated per call.
type Context struct {
	Pool   *evictpool.Pool
	NextDB int

	Clock      *clock.Clock
	Accountant *memacct.Accountant
	Config     Config
	Stats      *Stats

	Replication ReplicationSink
	AppendLog   AppendLogSink
	Events      EventNotifier
	BGFree      BackgroundFreer

	Logger *zap.Logger
	rng    *rand.Rand
}

// New builds an EvictionContext. Any collaborator left nil is treated as
// absent (no replicas configured, lazy free disabled, etc.) rather than a
// programmer error — see the nil checks in loop.go.
func New(cfg Config, acct *memacct.Accountant, clk *clock.Clock, opts ...CtxOption) *Context {
	if acct != nil {
		acct.MaxMemory = cfg.MaxMemory
	}
	c := &Context{
		Pool:       evictpool.New(),
		Config:     cfg,
		Accountant: acct,
		Clock:      clk,
		Stats:      &Stats{},
		Logger:     zap.NewNop(),
		rng:        rand.New(rand.NewSource(1)),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type CtxOption func(*Context)

func WithReplication(r ReplicationSink) CtxOption { return func(c *Context) { c.Replication = r } }
func WithAppendLog(a AppendLogSink) CtxOption     { return func(c *Context) { c.AppendLog = a } }
func WithEvents(e EventNotifier) CtxOption        { return func(c *Context) { c.Events = e } }
func WithBGFree(w BackgroundFreer) CtxOption      { return func(c *Context) { c.BGFree = w } }
// WithRand overrides the context's sampling source, letting tests (and
// callers that need reproducible eviction runs) pin the sequence.
func WithRand(rng *rand.Rand) CtxOption {
	return func(c *Context) {
		if rng != nil {
			c.rng = rng
		}
	}
}

func WithLogger(l *zap.Logger) CtxOption {
	return func(c *Context) {
		if l != nil {
			c.Logger = l.Named("eviction")
		}
	}
}
