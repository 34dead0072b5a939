// Package memorystore is the key/value store collaborator the eviction
// core samples and deletes from: it implements eviction.Database,
// eviction.KeyTable and eviction.ExpiringTable, and maintains each
// object's accessmeta.Word on every read/write the way the real data
// structure commands would. Adapted from the teacher's
// cacheServer/memoryStore/cache.go keyStore (internalData map[string]
// GeneralValue, lazy TTL expiry on lookup) generalized to carry the LRU/
// LFU metadata the original keyStore never tracked.
package memorystore

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"rapidstore/bgfree"
	"rapidstore/eviction"
	"rapidstore/internal/accessmeta"
	"rapidstore/internal/clock"
)

var (
	ErrKeyNotFound    = fmt.Errorf("memorystore: key not found")
	ErrWrongValueType = fmt.Errorf("memorystore: value is not a number")
)

// entry is one stored value plus the bookkeeping the eviction core reads
// (accessmeta.Word) and the TTL the volatile-* policies need. It mirrors
// the teacher's GeneralValue{Value, TTL}, replacing the neverExpires
// sentinel with an explicit hasTTL flag.
type entry struct {
	value     any
	size      uint64
	meta      accessmeta.Word
	expiresAt time.Time
	hasTTL    bool
}

func (e *entry) AccessMeta() accessmeta.Word { return e.meta }
func (e *entry) Size() uint64                { return e.size }

func (e *entry) expired(now time.Time) bool {
	return e.hasTTL && now.After(e.expiresAt)
}

// DB is one logical database: a single map-backed key space, guarded by
// its own mutex so many DBs can be swept by the eviction loop without
// contending on each other.
type DB struct {
	id   int
	mu   sync.RWMutex
	data map[string]*entry

	clock  *clock.Clock
	policy eviction.Policy

	lfuLogFactor    int
	lfuDecayMinutes int

	bg     *bgfree.Worker
	rng    *rand.Rand
	logger *zap.Logger
}

// Option configures a DB at construction, following the functional-
// options idiom the teacher's RapidStoreServer/ServerConfig use.
type Option func(*DB)

func WithRand(rng *rand.Rand) Option {
	return func(d *DB) {
		if rng != nil {
			d.rng = rng
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(d *DB) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates an empty DB. cfg supplies the active policy and the LFU
// tuning parameters; bg is optional and only consulted by DeleteAsync.
func New(id int, clk *clock.Clock, cfg eviction.Config, bg *bgfree.Worker, opts ...Option) *DB {
	d := &DB{
		id:              id,
		data:            make(map[string]*entry),
		clock:           clk,
		policy:          cfg.Policy,
		lfuLogFactor:    cfg.LFULogFactor,
		lfuDecayMinutes: cfg.LFUDecayMinutes,
		bg:              bg,
		logger:          zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return d
}

// ID satisfies eviction.Database.
func (d *DB) ID() int { return d.id }

func (d *DB) freshMeta() accessmeta.Word {
	if d.policy.IsLFU() {
		return accessmeta.EncodeLFU(uint16(d.clock.LFUMinutes()), accessmeta.LFUInitVal)
	}
	return accessmeta.EncodeLRU(d.clock.LRUClock())
}

// touch applies the access-time bookkeeping a real GET/SET would trigger:
// bump the LRU tick, or probabilistically increment the decayed LFU
// counter (spec §4.2). Safe to call unconditionally; it is a no-op under
// the random and volatile-ttl policies, and every other non-LFU policy
// (noeviction included) stamps the LRU tick.
func (d *DB) touch(e *entry) {
	switch {
	case d.policy.IsLFU():
		ldt, counter := e.meta.DecodeLFU()
		decayed := accessmeta.Decay(counter, ldt, uint16(d.clock.LFUMinutes()), d.lfuDecayMinutes)
		bumped := accessmeta.LogIncrement(decayed, d.lfuLogFactor, d.rng)
		e.meta = accessmeta.EncodeLFU(uint16(d.clock.LFUMinutes()), bumped)
	case !d.policy.IsRandom() && !d.policy.IsTTL():
		e.meta = accessmeta.EncodeLRU(d.clock.LRUClock())
	}
}

func sizeOf(key string, value any) uint64 {
	size := uint64(len(key))
	switch v := value.(type) {
	case string:
		size += uint64(len(v))
	case []byte:
		size += uint64(len(v))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		size += 8
	case float32, float64:
		size += 8
	case bool:
		size += 1
	default:
		size += uint64(len(fmt.Sprintf("%v", v)))
	}
	return size
}

// SetKey stores value under key, replacing anything previously there. A
// present ttl makes the key volatile; its absence makes it permanent,
// generalizing the teacher's neverExpires sentinel into hasTTL=false.
func (d *DB) SetKey(key string, value any, ttl ...time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := &entry{value: value, size: sizeOf(key, value), meta: d.freshMeta()}
	if len(ttl) > 0 {
		e.hasTTL = true
		e.expiresAt = time.Now().Add(ttl[0])
	}
	d.data[key] = e
}

// GetKey returns the stored value, touching its access metadata, or nil
// if the key is absent or has passively expired.
func (d *DB) GetKey(key string) any {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.lookupLocked(key)
	if !ok {
		return nil
	}
	d.touch(e)
	return e.value
}

// lookupLocked returns the entry for key, deleting it first if it has
// passively expired -- the same lazy-expiry check the teacher's
// validKey performs on every lookup.
func (d *DB) lookupLocked(key string) (*entry, bool) {
	e, ok := d.data[key]
	if !ok {
		return nil, false
	}
	if e.expired(time.Now()) {
		delete(d.data, key)
		return nil, false
	}
	return e, true
}

// ExistsKey reports whether key is present and unexpired.
func (d *DB) ExistsKey(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.lookupLocked(key)
	return ok
}

// DeleteKey removes key unconditionally.
func (d *DB) DeleteKey(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, key)
}

// ExpireKey sets key's TTL, turning a permanent key volatile. It reports
// false if the key doesn't exist.
func (d *DB) ExpireKey(key string, duration time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.lookupLocked(key)
	if !ok {
		return false
	}
	e.hasTTL = true
	e.expiresAt = time.Now().Add(duration)
	return true
}

// TTLKey returns the remaining time until expiry, or ErrKeyNotFound if
// the key is absent. A permanent key reports a negative duration.
func (d *DB) TTLKey(key string) (time.Duration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.data[key]
	if !ok || e.expired(time.Now()) {
		return 0, ErrKeyNotFound
	}
	if !e.hasTTL {
		return -1, nil
	}
	remaining := time.Until(e.expiresAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Increment adds 1 to a numeric key, creating it at 1 if absent.
func (d *DB) Increment(key string) (int64, error) { return d.addDelta(key, 1) }

// Decrement subtracts 1 from a numeric key, creating it at -1 if absent.
func (d *DB) Decrement(key string) (int64, error) { return d.addDelta(key, -1) }

func (d *DB) addDelta(key string, delta int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.lookupLocked(key)
	if !ok {
		v := delta
		d.data[key] = &entry{value: v, size: sizeOf(key, v), meta: d.freshMeta()}
		return v, nil
	}
	rv := reflect.ValueOf(e.value)
	if !rv.Type().ConvertibleTo(reflect.TypeOf(int64(0))) {
		return 0, ErrWrongValueType
	}
	v := rv.Convert(reflect.TypeOf(int64(0))).Int() + delta
	e.value = v
	e.size = sizeOf(key, v)
	d.touch(e)
	return v, nil
}

// Append concatenates suffix onto a string key, creating it if absent.
func (d *DB) Append(key, suffix string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.lookupLocked(key)
	if !ok {
		d.data[key] = &entry{value: suffix, size: sizeOf(key, suffix), meta: d.freshMeta()}
		return nil
	}
	s, ok := e.value.(string)
	if !ok {
		return fmt.Errorf("memorystore: key %q is not a string", key)
	}
	s += suffix
	e.value = s
	e.size = sizeOf(key, s)
	d.touch(e)
	return nil
}

// MSet stores every pair in pairs, each as a permanent key.
func (d *DB) MSet(pairs map[string]any) bool {
	for k, v := range pairs {
		d.SetKey(k, v)
	}
	return true
}

// DeleteSync satisfies eviction.Database: remove key immediately and
// report the bytes reclaimed.
func (d *DB) DeleteSync(key string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.data[key]
	if !ok {
		return 0, false
	}
	delete(d.data, key)
	return e.size, true
}

// DeleteAsync satisfies eviction.Database: hand the value off to the
// background worker, reporting its size as "freed" only once the job
// actually runs.
func (d *DB) DeleteAsync(key string) bool {
	d.mu.Lock()
	e, ok := d.data[key]
	if !ok {
		d.mu.Unlock()
		return false
	}
	delete(d.data, key)
	d.mu.Unlock()

	if d.bg == nil {
		return true
	}
	freed := e.size
	return d.bg.Enqueue(func() uint64 { return freed })
}

// AllKeys satisfies eviction.Database: a point-in-time view over every
// unexpired key, snapshotting positions so sampler.Sample's index-based
// draws stay stable for the duration of one populate call.
func (d *DB) AllKeys() eviction.KeyTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.data))
	now := time.Now()
	for k, e := range d.data {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return &keyView{db: d, keys: keys}
}

// ExpiringKeys satisfies eviction.Database: the subset of AllKeys with a
// TTL set, the candidate scope for volatile-* policies.
func (d *DB) ExpiringKeys() eviction.ExpiringTable {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0)
	now := time.Now()
	for k, e := range d.data {
		if e.hasTTL && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	return &expiringView{keyView: keyView{db: d, keys: keys}}
}

// keyView is a snapshot of one DB's keys, implementing eviction.KeyTable.
type keyView struct {
	db   *DB
	keys []string
}

func (v *keyView) Len() int            { return len(v.keys) }
func (v *keyView) KeyAt(i int) string  { return v.keys[i] }

func (v *keyView) Find(key string) (eviction.Object, bool) {
	v.db.mu.Lock()
	defer v.db.mu.Unlock()
	e, ok := v.db.lookupLocked(key)
	if !ok {
		return nil, false
	}
	return e, true
}

func (v *keyView) RandomKey() (string, bool) {
	if len(v.keys) == 0 {
		return "", false
	}
	return v.keys[v.db.rng.Intn(len(v.keys))], true
}

// expiringView layers ExpiryAt onto a keyView, implementing
// eviction.ExpiringTable.
type expiringView struct {
	keyView
}

func (v *expiringView) ExpiryAt(key string) (time.Time, bool) {
	v.db.mu.RLock()
	defer v.db.mu.RUnlock()
	e, ok := v.db.data[key]
	if !ok || !e.hasTTL || e.expired(time.Now()) {
		return time.Time{}, false
	}
	return e.expiresAt, true
}

// DumpEntry is the JSON wire form of one entry, generalizing the
// teacher's GeneralValue{Value, TTL} with an explicit HasTTL flag instead
// of the neverExpires sentinel (JSON has no way to marshal that sentinel
// time unambiguously across the wire).
type DumpEntry struct {
	Value     any       `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	HasTTL    bool      `json:"has_ttl"`
}

// Dump serializes every unexpired key, the way the teacher's dumpState
// walks keyStore.internalData, but scoped to a single DB so the snapshot
// package can dump/restore each logical database independently.
func (d *DB) Dump() (map[string]DumpEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	now := time.Now()
	out := make(map[string]DumpEntry, len(d.data))
	for k, e := range d.data {
		if e.expired(now) {
			continue
		}
		out[k] = DumpEntry{Value: e.value, ExpiresAt: e.expiresAt, HasTTL: e.hasTTL}
	}
	return out, nil
}

// Load replaces the DB's contents with entries, the restore-side
// counterpart of Dump, mirroring the teacher's loadState. Every restored
// key starts with fresh access metadata: a snapshot carries no opinion
// about recency or frequency, so the eviction core treats every restored
// key as just-touched rather than favoring it for eviction on priors that
// no longer mean anything after a restart.
func (d *DB) Load(entries map[string]DumpEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = make(map[string]*entry, len(entries))
	for k, de := range entries {
		d.data[k] = &entry{
			value:     de.Value,
			size:      sizeOf(k, de.Value),
			meta:      d.freshMeta(),
			expiresAt: de.ExpiresAt,
			hasTTL:    de.HasTTL,
		}
	}
}
