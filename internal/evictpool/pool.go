// Package evictpool implements the fixed-capacity ordered candidate pool
// described in spec §3 and §4.3: a process-wide buffer of eviction
// candidates, sorted ascending by "idle" score, reused across invocations
// of populate to avoid reallocation.
package evictpool

// Size is EVPOOL_SIZE: the number of slots in the pool.
const Size = 16

// CachedSize is EVPOOL_CACHED_SIZE: the length of each slot's reusable
// inline key-name buffer.
const CachedSize = 255

// keyRef is the tagged-variant small-buffer optimization from spec §9: a
// key name either lives in the slot's own fixed-size inline buffer, or (if
// it is too long) in a freshly heap-allocated byte slice. The inline buffer
// belongs to the slot index, not to any particular key, and must survive
// shifts across insertions untouched.
type keyRef struct {
	inline    [CachedSize]byte
	inlineLen int
	heap      []byte
	onHeap    bool
}

func (k *keyRef) set(key string) {
	if len(key) > CachedSize {
		k.heap = []byte(key)
		k.onHeap = true
		k.inlineLen = 0
		return
	}
	n := copy(k.inline[:], key)
	k.inlineLen = n
	k.onHeap = false
	k.heap = nil
}

func (k *keyRef) clear() {
	k.heap = nil
	k.onHeap = false
	k.inlineLen = 0
}

func (k *keyRef) String() string {
	if k.onHeap {
		return string(k.heap)
	}
	return string(k.inline[:k.inlineLen])
}

// Slot is one entry in the pool.
type Slot struct {
	key      keyRef
	Idle     uint64 // higher => more evictable
	DBID     int
	occupied bool
}

// Key returns the slot's key name. Only meaningful when Occupied is true.
func (s *Slot) Key() string { return s.key.String() }

// Occupied reports whether the slot currently holds a candidate.
func (s *Slot) Occupied() bool { return s.occupied }

// Pool is the fixed-size ordered candidate buffer. Populated slots form a
// left-aligned, ascending-by-Idle prefix; empty slots trail behind them at
// the high indices (spec §3 invariant — see CheckInvariant's doc comment
// for why this is the only layout consistent with the populate algorithm
// in spec §4.3). PickAndRemoveBest always returns the highest-index
// populated slot, which therefore holds the highest (most evictable) Idle.
type Pool struct {
	slots [Size]Slot
}

// New returns an empty pool with its reusable per-slot buffers allocated.
func New() *Pool {
	return &Pool{}
}

// Len returns the number of populated slots.
func (p *Pool) Len() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].occupied {
			n++
		}
	}
	return n
}

// Slots exposes the underlying slots, empty ones included, for read-only
// iteration.
func (p *Pool) Slots() []Slot {
	return p.slots[:]
}

// ClearAt empties the slot at index i, dropping any heap-allocated key but
// preserving the slot's inline buffer for reuse.
func (p *Pool) ClearAt(i int) {
	p.slots[i].key.clear()
	p.slots[i].occupied = false
	p.slots[i].Idle = 0
	p.slots[i].DBID = 0
}

// Insert attempts to add a candidate to the pool, maintaining the ascending
// score invariant (spec §4.3 "Insertion algorithm"). Candidates worse than
// every existing entry, once the pool is full, are silently dropped.
//
// A key already present in the pool (from an earlier populate call that
// didn't consume it) is removed first, so re-sampling the same key never
// grows the pool past one slot per key (spec §8 round-trip property).
func (p *Pool) Insert(idle uint64, dbid int, key string) {
	if i, found := p.findSlotWithKey(key); found {
		p.removeAt(i)
	}

	k := p.findInsertionIndex(idle)

	rightmostOccupied := p.slots[Size-1].occupied

	if k == 0 && rightmostOccupied {
		// Worse than (or equal to) everything already present; pool is full.
		return
	}

	switch {
	case k < Size && !p.slots[k].occupied:
		// Target slot is empty: write straight in.
	case k < Size && !rightmostOccupied:
		// Shift [k, end-1] right by one, carrying each slot's own score/key
		// forward but leaving slot k's inline buffer where it is (it will be
		// overwritten below by the new candidate).
		for i := Size - 1; i > k; i-- {
			p.slots[i].Idle = p.slots[i-1].Idle
			p.slots[i].DBID = p.slots[i-1].DBID
			p.slots[i].occupied = p.slots[i-1].occupied
			p.copyKeyInto(i, i-1)
		}
	default:
		// Pool is full and insertion point is not the leftmost slot: drop
		// slot 0 (the current worst-of-the-best) and shift [1, k] left by
		// one, landing the new candidate at k-1.
		k--
		for i := 0; i < k; i++ {
			p.slots[i].Idle = p.slots[i+1].Idle
			p.slots[i].DBID = p.slots[i+1].DBID
			p.slots[i].occupied = p.slots[i+1].occupied
			p.copyKeyInto(i, i+1)
		}
	}

	p.slots[k].Idle = idle
	p.slots[k].DBID = dbid
	p.slots[k].occupied = true
	p.slots[k].key.set(key)
}

// copyKeyInto copies the key bytes from slots[src] into slots[dst]'s own
// storage (inline buffer if it fits, else a fresh heap allocation),
// preserving the invariant that each slot index keeps its own inline
// buffer rather than handing it to another index.
func (p *Pool) copyKeyInto(dst, src int) {
	if !p.slots[src].occupied {
		p.slots[dst].key.clear()
		return
	}
	p.slots[dst].key.set(p.slots[src].key.String())
}

// findSlotWithKey returns the index of the occupied slot currently holding
// key, if any.
func (p *Pool) findSlotWithKey(key string) (int, bool) {
	for i := 0; i < Size; i++ {
		if p.slots[i].occupied && p.slots[i].Key() == key {
			return i, true
		}
	}
	return 0, false
}

// removeAt drops the slot at index i and shifts every slot to its right one
// step left, preserving the left-aligned ascending-order invariant.
func (p *Pool) removeAt(i int) {
	for j := i; j < Size-1; j++ {
		p.slots[j].Idle = p.slots[j+1].Idle
		p.slots[j].DBID = p.slots[j+1].DBID
		p.slots[j].occupied = p.slots[j+1].occupied
		p.copyKeyInto(j, j+1)
	}
	p.ClearAt(Size - 1)
}

// findInsertionIndex finds the smallest k in [0, Size] such that slot k is
// empty or has Idle >= idle. k == Size means the candidate is better than
// every existing entry in a full pool (the loop fell off the end).
func (p *Pool) findInsertionIndex(idle uint64) int {
	k := 0
	for k < Size && p.slots[k].occupied && p.slots[k].Idle < idle {
		k++
	}
	return k
}

// PickAndRemoveBest returns and clears the rightmost populated slot — the
// best (highest-idle) candidate in the pool.
func (p *Pool) PickAndRemoveBest() (key string, dbid int, ok bool) {
	for i := Size - 1; i >= 0; i-- {
		if p.slots[i].occupied {
			key = p.slots[i].Key()
			dbid = p.slots[i].DBID
			p.ClearAt(i)
			return key, dbid, true
		}
	}
	return "", 0, false
}
