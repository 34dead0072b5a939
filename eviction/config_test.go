package eviction_test

import (
	"testing"

	"rapidstore/eviction"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := eviction.DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestValidateRejectsZeroSamples(t *testing.T) {
	cfg := eviction.NewConfig(eviction.WithSamples(0))
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() should reject maxmemory-samples = 0")
	}
}

func TestValidateRejectsNegativeDecay(t *testing.T) {
	cfg := eviction.NewConfig(eviction.WithLFUDecayMinutes(-1))
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() should reject negative lfu-decay-time")
	}
}

func TestValidateRejectsUnknownPolicyValue(t *testing.T) {
	cfg := eviction.NewConfig()
	cfg.Policy = eviction.Policy(999)
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Validate() should reject an out-of-range policy value")
	}
}
