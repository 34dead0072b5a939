package server

import (
	"context"
	"testing"
	"time"

	"rapidstore/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.Databases = 2
	cfg.Server.Port = 0
	cfg.Monitoring.MetricsPort = 0
	cfg.Persistence.AppendLogPath = dir + "/append.log"
	cfg.Election.ZookeeperServers = nil // skip zookeeper dial in unit tests
	cfg.Snapshot.Path = ""              // skip snapshot restore in unit tests
	return cfg
}

func TestNewBuildsConfiguredNumberOfDatabases(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	if len(s.dbs) != 2 {
		t.Fatalf("len(dbs) = %d, want 2", len(s.dbs))
	}
	if s.DB(0) == nil || s.DB(1) == nil {
		t.Errorf("DB(0)/DB(1) should be non-nil")
	}
	if s.DB(99) != nil {
		t.Errorf("DB(99) should be nil for an out-of-range id")
	}
}

func TestNewRejectsInvalidEvictionPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Eviction.Policy = "not-a-real-policy"
	if _, err := New(cfg); err == nil {
		t.Errorf("New() with an invalid policy should return an error")
	}
}

func TestStartAndStopToggleLiveness(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !s.isLive.Load() {
		t.Errorf("expected server to be live after Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if s.isLive.Load() {
		t.Errorf("expected server to be not live after Stop")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop() error: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() should be a no-op, got error: %v", err)
	}
}

func TestHzLoopRunsEvictionPass(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HZ = 1000 // fast tick so the test doesn't wait long
	cfg.Eviction.Policy = "allkeys-lru"
	cfg.Eviction.MaxMemory = 1

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	s.accountant.UsedMemoryOverride = func() uint64 { return 1 << 30 }

	db := s.DB(0)
	db.SetKey("k1", "some fairly large value to push past the budget")

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop()

	time.Sleep(50 * time.Millisecond)

	if db.ExistsKey("k1") {
		t.Errorf("expected k1 to have been evicted by the hz loop")
	}
}

func TestNotifyEvictedAndSignalModifiedKeyDoNotPanic(t *testing.T) {
	s, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer s.Stop()

	s.NotifyEvicted(0, "some-key")
	s.SignalModifiedKey(0, "some-key")

	_, info := s.Stats()
	if info.WriteOps != 1 {
		t.Errorf("WriteOps = %d, want 1 after one SignalModifiedKey call", info.WriteOps)
	}
}
