// Package clock provides the two coarse ticks the eviction core reads on
// every access and every sampling pass: a wrapping "LRU clock" in seconds
// and a wrapping "LFU minutes" clock used by counter decay.
package clock

import (
	"sync/atomic"
	"time"
)

// LRUClockResolution is the unit, in milliseconds, of one LRU clock tick.
const LRUClockResolution = 1000 * time.Millisecond

// LRUClockMax is the largest value of the 24-bit LRU clock (2^24 - 1); the
// clock wraps modulo LRUClockMax + 1.
const LRUClockMax = 1<<24 - 1

// LFUMinutesMax is the modulus of the 16-bit LFU decay-time field (2^16).
const LFUMinutesMax = 1 << 16

// Clock caches the LRU and LFU ticks so hot paths (every key access) don't
// each pay for a syscall. A background goroutine refreshes the cache at the
// configured hz, the same role the teacher's periodic task plays for
// gcStatsCache in metadata.go.
type Clock struct {
	lruTick uint32 // atomic, value in [0, 2^24)
	lfuTick uint32 // atomic, value in [0, 2^16)

	hz       int
	stop     chan struct{}
	stopOnce chan struct{}
}

// New creates a Clock and immediately seeds both cached ticks from the
// system clock. Call Start to keep them refreshed in the background.
func New(hz int) *Clock {
	c := &Clock{hz: hz, stop: make(chan struct{}), stopOnce: make(chan struct{})}
	c.refresh()
	return c
}

func (c *Clock) refresh() {
	now := time.Now()
	atomic.StoreUint32(&c.lruTick, computeLRUTick(now))
	atomic.StoreUint32(&c.lfuTick, computeLFUTick(now))
}

func computeLRUTick(now time.Time) uint32 {
	return uint32((now.UnixMilli() / LRUClockResolution.Milliseconds()) % (LRUClockMax + 1))
}

func computeLFUTick(now time.Time) uint32 {
	return uint32((now.Unix() / 60) % LFUMinutesMax)
}

// Start launches the background refresh goroutine. Safe to call once.
func (c *Clock) Start() {
	go c.loop()
}

func (c *Clock) loop() {
	interval := time.Second
	if c.hz > 0 {
		interval = time.Duration(1000/c.hz) * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.refresh()
		case <-c.stop:
			close(c.stopOnce)
			return
		}
	}
}

// Stop halts the background refresh goroutine.
func (c *Clock) Stop() {
	close(c.stop)
}

// LRUClock returns the cached LRU tick when the cache is fresh enough for
// the configured hz (1000/hz <= LRUClockResolution), else it recomputes
// from the system clock directly.
func (c *Clock) LRUClock() uint32 {
	if c.hz > 0 && 1000/c.hz <= int(LRUClockResolution.Milliseconds()) {
		return atomic.LoadUint32(&c.lruTick)
	}
	return computeLRUTick(time.Now())
}

// LFUMinutes returns the cached LFU minutes tick, following the same
// freshness rule as LRUClock.
func (c *Clock) LFUMinutes() uint32 {
	if c.hz > 0 && 1000/c.hz <= int(LRUClockResolution.Milliseconds()) {
		return atomic.LoadUint32(&c.lfuTick)
	}
	return computeLFUTick(time.Now())
}

// IdleSince estimates elapsed wall-clock time given a stored LRU tick,
// handling a single wrap of the 24-bit clock (spec §4.1).
func (c *Clock) IdleSince(stored uint32) time.Duration {
	now := c.LRUClock()
	var elapsedTicks uint32
	if now >= stored {
		elapsedTicks = now - stored
	} else {
		elapsedTicks = now + (LRUClockMax + 1 - stored)
	}
	return time.Duration(elapsedTicks) * LRUClockResolution
}
