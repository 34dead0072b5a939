package evictpool

import "testing"

func TestInsertMaintainsOrder(t *testing.T) {
	p := New()
	scores := []uint64{50, 10, 90, 30, 70, 20, 60, 80, 40, 5}
	for i, s := range scores {
		p.Insert(s, 0, keyFor(i))
	}
	if !p.CheckInvariant() {
		t.Fatalf("pool invariant violated after inserts: %+v", p.Slots())
	}
}

func TestInsertDropsWorseThanAllWhenFull(t *testing.T) {
	p := New()
	for i := 0; i < Size; i++ {
		p.Insert(uint64((i+1)*10), 0, keyFor(i))
	}
	// Worse than every existing entry (score 1 < min score 10).
	p.Insert(1, 0, "worst")
	for _, s := range p.Slots() {
		if s.Occupied() && s.Key() == "worst" {
			t.Fatalf("candidate worse than all existing entries should be dropped")
		}
	}
	if !p.CheckInvariant() {
		t.Fatalf("pool invariant violated: %+v", p.Slots())
	}
}

func TestInsertEvictsWorstWhenFullAndBetter(t *testing.T) {
	p := New()
	for i := 0; i < Size; i++ {
		p.Insert(uint64((i+1)*10), 0, keyFor(i))
	}
	// Better than the current worst (10); should displace it.
	p.Insert(1000, 0, "best")
	found := false
	for _, s := range p.Slots() {
		if s.Occupied() && s.Key() == "best" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected 'best' candidate to be inserted")
	}
	if !p.CheckInvariant() {
		t.Fatalf("pool invariant violated: %+v", p.Slots())
	}
}

func TestPickAndRemoveBestReturnsHighestIdle(t *testing.T) {
	p := New()
	p.Insert(10, 0, "a")
	p.Insert(99, 1, "b")
	p.Insert(50, 2, "c")

	key, dbid, ok := p.PickAndRemoveBest()
	if !ok || key != "b" || dbid != 1 {
		t.Fatalf("PickAndRemoveBest() = (%q, %d, %v), want (\"b\", 1, true)", key, dbid, ok)
	}

	key, _, ok = p.PickAndRemoveBest()
	if !ok || key != "c" {
		t.Fatalf("second PickAndRemoveBest() = (%q, _, %v), want (\"c\", true)", key, ok)
	}
}

func TestPickAndRemoveBestOnEmptyPool(t *testing.T) {
	p := New()
	_, _, ok := p.PickAndRemoveBest()
	if ok {
		t.Fatalf("PickAndRemoveBest() on empty pool should report ok=false")
	}
}

func TestDuplicateCandidateYieldsAtMostOneSlot(t *testing.T) {
	p := New()
	p.Insert(10, 0, "dup")
	p.Insert(20, 0, "dup")
	count := 0
	for _, s := range p.Slots() {
		if s.Occupied() && s.Key() == "dup" {
			count++
		}
	}
	if count > 1 {
		t.Errorf("inserting the same key twice produced %d slots, want <= 1", count)
	}
}

func TestLongKeyUsesHeapAllocation(t *testing.T) {
	p := New()
	longKey := make([]byte, CachedSize+10)
	for i := range longKey {
		longKey[i] = 'x'
	}
	p.Insert(1, 0, string(longKey))
	key, _, ok := p.PickAndRemoveBest()
	if !ok || key != string(longKey) {
		t.Fatalf("long key round-trip failed")
	}
}

func TestShiftsPreserveInlineBuffersAcrossMany(t *testing.T) {
	p := New()
	for i := 0; i < 200; i++ {
		p.Insert(uint64(i%37), 0, keyFor(i))
		if !p.CheckInvariant() {
			t.Fatalf("invariant broken at insert %d: %+v", i, p.Slots())
		}
	}
}

func keyFor(i int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	return string(alphabet[i%len(alphabet)]) + string(rune('0'+i%10))
}
