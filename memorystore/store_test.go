package memorystore

import (
	"math/rand"
	"testing"
	"time"

	"rapidstore/eviction"
	"rapidstore/internal/clock"
)

func newTestDB(policy eviction.Policy) *DB {
	clk := clock.New(10)
	cfg := eviction.NewConfig(eviction.WithPolicy(policy))
	return New(0, clk, cfg, nil, WithRand(rand.New(rand.NewSource(1))))
}

func TestSetAndGetKeyRoundTrips(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("a", "hello")
	if got := db.GetKey("a"); got != "hello" {
		t.Errorf("GetKey() = %v, want hello", got)
	}
}

func TestGetKeyMissingReturnsNil(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	if got := db.GetKey("missing"); got != nil {
		t.Errorf("GetKey() = %v, want nil", got)
	}
}

func TestSetKeyWithTTLExpiresPassively(t *testing.T) {
	db := newTestDB(eviction.VolatileLRU)
	db.SetKey("a", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if got := db.GetKey("a"); got != nil {
		t.Errorf("GetKey() after TTL elapsed = %v, want nil", got)
	}
	if db.ExistsKey("a") {
		t.Errorf("ExistsKey() should be false after TTL elapsed")
	}
}

func TestExpireKeyMakesPermanentKeyVolatile(t *testing.T) {
	db := newTestDB(eviction.VolatileLRU)
	db.SetKey("a", "v")
	if ttl, err := db.TTLKey("a"); err != nil || ttl != -1 {
		t.Fatalf("TTLKey() before ExpireKey = %v, %v, want -1, nil", ttl, err)
	}
	if !db.ExpireKey("a", time.Hour) {
		t.Fatalf("ExpireKey() = false, want true")
	}
	ttl, err := db.TTLKey("a")
	if err != nil {
		t.Fatalf("TTLKey() error: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTLKey() = %v, want in (0, 1h]", ttl)
	}
}

func TestExpireKeyOnMissingKeyReturnsFalse(t *testing.T) {
	db := newTestDB(eviction.VolatileLRU)
	if db.ExpireKey("missing", time.Second) {
		t.Errorf("ExpireKey() on missing key = true, want false")
	}
}

func TestIncrementAndDecrement(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	if v, err := db.Increment("counter"); err != nil || v != 1 {
		t.Fatalf("Increment() on new key = %d, %v, want 1, nil", v, err)
	}
	if v, err := db.Increment("counter"); err != nil || v != 2 {
		t.Fatalf("Increment() = %d, %v, want 2, nil", v, err)
	}
	if v, err := db.Decrement("counter"); err != nil || v != 1 {
		t.Fatalf("Decrement() = %d, %v, want 1, nil", v, err)
	}
}

func TestIncrementOnNonNumericReturnsError(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("s", "not a number")
	if _, err := db.Increment("s"); err != ErrWrongValueType {
		t.Errorf("Increment() error = %v, want ErrWrongValueType", err)
	}
}

func TestAppendConcatenatesString(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("s", "hello")
	if err := db.Append("s", " world"); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if got := db.GetKey("s"); got != "hello world" {
		t.Errorf("GetKey() = %v, want \"hello world\"", got)
	}
}

func TestDeleteSyncReportsFreedBytesAndRemoves(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("a", "hello")
	freed, ok := db.DeleteSync("a")
	if !ok || freed == 0 {
		t.Fatalf("DeleteSync() = %d, %v, want nonzero, true", freed, ok)
	}
	if db.ExistsKey("a") {
		t.Errorf("key should be gone after DeleteSync")
	}
}

func TestDeleteSyncOnMissingKeyReturnsFalse(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	if _, ok := db.DeleteSync("missing"); ok {
		t.Errorf("DeleteSync() on missing key = true, want false")
	}
}

func TestAllKeysExcludesExpiredKeys(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("live", "v")
	db.SetKey("dead", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	table := db.AllKeys()
	found := map[string]bool{}
	for i := 0; i < table.Len(); i++ {
		found[table.KeyAt(i)] = true
	}
	if !found["live"] {
		t.Errorf("AllKeys() missing live key")
	}
	if found["dead"] {
		t.Errorf("AllKeys() should exclude expired key")
	}
}

func TestExpiringKeysOnlyIncludesVolatileKeys(t *testing.T) {
	db := newTestDB(eviction.VolatileLRU)
	db.SetKey("permanent", "v")
	db.SetKey("volatile", "v", time.Hour)

	table := db.ExpiringKeys()
	if table.Len() != 1 {
		t.Fatalf("ExpiringKeys().Len() = %d, want 1", table.Len())
	}
	if table.KeyAt(0) != "volatile" {
		t.Errorf("ExpiringKeys().KeyAt(0) = %q, want volatile", table.KeyAt(0))
	}
	if _, ok := table.ExpiryAt("volatile"); !ok {
		t.Errorf("ExpiryAt() for volatile key should be found")
	}
	if _, ok := table.ExpiryAt("permanent"); ok {
		t.Errorf("ExpiryAt() for permanent key should not be found")
	}
}

func TestFindReturnsObjectWithAccessMeta(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("a", "v")
	table := db.AllKeys()
	obj, ok := table.Find("a")
	if !ok {
		t.Fatalf("Find() = false, want true")
	}
	if obj.Size() == 0 {
		t.Errorf("Size() = 0, want nonzero")
	}
}

func TestLFUAccessIncrementsCounterOverManyTouches(t *testing.T) {
	db := newTestDB(eviction.AllKeysLFU)
	db.SetKey("hot", "v")
	for i := 0; i < 500; i++ {
		db.GetKey("hot")
	}
	table := db.AllKeys()
	obj, ok := table.Find("hot")
	if !ok {
		t.Fatalf("Find() = false, want true")
	}
	_, counter := obj.AccessMeta().DecodeLFU()
	if counter <= 5 {
		t.Errorf("counter after 500 touches = %d, want > initial value 5", counter)
	}
}

func TestDeleteAsyncWithoutWorkerStillRemoves(t *testing.T) {
	db := newTestDB(eviction.AllKeysLRU)
	db.SetKey("a", "v")
	if !db.DeleteAsync("a") {
		t.Fatalf("DeleteAsync() = false, want true")
	}
	if db.ExistsKey("a") {
		t.Errorf("key should be gone immediately after DeleteAsync even with a nil worker")
	}
}

func TestRandomKeyOnEmptyTableReturnsFalse(t *testing.T) {
	db := newTestDB(eviction.AllKeysRandom)
	table := db.AllKeys()
	if _, ok := table.RandomKey(); ok {
		t.Errorf("RandomKey() on empty table = true, want false")
	}
}
