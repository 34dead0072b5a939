package eviction_test

import (
	"testing"

	"rapidstore/eviction"
)

func TestParsePolicyRoundTrip(t *testing.T) {
	cases := []eviction.Policy{
		eviction.NoEviction, eviction.AllKeysLRU, eviction.VolatileLRU,
		eviction.AllKeysLFU, eviction.VolatileLFU, eviction.AllKeysRandom,
		eviction.VolatileRandom, eviction.VolatileTTL,
	}
	for _, want := range cases {
		got, err := eviction.ParsePolicy(want.String())
		if err != nil {
			t.Fatalf("ParsePolicy(%q) error: %v", want.String(), err)
		}
		if got != want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", want.String(), got, want)
		}
	}
}

func TestParsePolicyRejectsUnknown(t *testing.T) {
	if _, err := eviction.ParsePolicy("made-up-policy"); err == nil {
		t.Fatalf("ParsePolicy() on unknown value should error")
	}
}

func TestPolicyScopeFlags(t *testing.T) {
	if !eviction.AllKeysLRU.AllKeys() || eviction.VolatileLRU.AllKeys() {
		t.Errorf("AllKeys() scoping wrong for lru family")
	}
	if !eviction.VolatileTTL.UsesPool() || eviction.AllKeysRandom.UsesPool() {
		t.Errorf("UsesPool() wrong for ttl/random")
	}
	if !eviction.AllKeysRandom.IsRandom() || !eviction.VolatileRandom.IsRandom() {
		t.Errorf("IsRandom() should hold for both random policies")
	}
	if !eviction.AllKeysLFU.IsLFU() || eviction.AllKeysLRU.IsLFU() {
		t.Errorf("IsLFU() wrong")
	}
}
