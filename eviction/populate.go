package eviction

import (
	"math"

	"rapidstore/internal/accessmeta"
	"rapidstore/internal/sampler"
)

// populate draws up to Config.Samples keys from the policy's candidate
// scope in db and scores each one, merging into ctx.Pool (spec §4.3's
// populate operation and §4.6 step 6.a). It reports whether the scope had
// any keys to sample at all.
func (ctx *Context) populate(db Database) bool {
	policy := ctx.Config.Policy

	var src KeyTable
	if policy.AllKeys() {
		src = db.AllKeys()
	} else {
		src = db.ExpiringKeys()
	}
	if src.Len() == 0 {
		return false
	}

	keys := sampler.Sample(src, ctx.Config.Samples, ctx.rng)
	for _, key := range keys {
		idle, ok := ctx.score(db, src, key)
		if !ok {
			continue
		}
		ctx.Pool.Insert(idle, db.ID(), key)
	}
	return true
}

// score computes the "idle" value for key under the active policy (spec
// §4.3's score table). ok is false when the object backing the score
// vanished between sampling and scoring (an early ghost).
func (ctx *Context) score(db Database, src KeyTable, key string) (idle uint64, ok bool) {
	policy := ctx.Config.Policy

	if policy.IsTTL() {
		expiring, isExpiring := src.(ExpiringTable)
		if !isExpiring {
			return 0, false
		}
		expiry, found := expiring.ExpiryAt(key)
		if !found {
			return 0, false
		}
		ms := expiry.UnixMilli()
		if ms < 0 {
			ms = 0
		}
		return math.MaxUint64 - uint64(ms), true
	}

	// LRU and LFU both need the object's access metadata, which only the
	// main table holds (spec §9's Open Question: volatile-ttl is the one
	// policy that scores off the expiring table's mapped value directly;
	// every other policy looks the object up, even under volatile-lru/lfu
	// where src is the expiring table and lookup_source is all_keys).
	lookup := src
	if !policy.AllKeys() {
		lookup = db.AllKeys()
	}
	obj, found := lookup.Find(key)
	if !found {
		return 0, false
	}

	if policy.IsLFU() {
		ldt, counter := obj.AccessMeta().DecodeLFU()
		decayed := accessmeta.Decay(counter, ldt, uint16(ctx.Clock.LFUMinutes()), ctx.Config.LFUDecayMinutes)
		return uint64(255 - decayed), true
	}

	// *-lru
	tick := obj.AccessMeta().DecodeLRU()
	return uint64(ctx.Clock.IdleSince(tick).Milliseconds()), true
}
