package appendlog

import (
	"os"
	"testing"
	"time"
)

func makeTempLog(t *testing.T, maxSize uint32, syncPeriod time.Duration) (*Log, func()) {
	t.Helper()
	tf, err := os.CreateTemp("", "appendlog_test_*.log")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := tf.Name()
	_ = tf.Close()

	l, err := Open(path, maxSize, syncPeriod, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return l, func() {
		_ = l.Close()
		_ = os.Remove(path)
	}
}

func TestAppendIncrementsSequenceNumber(t *testing.T) {
	l, cleanup := makeTempLog(t, 4096, time.Second)
	defer cleanup()

	for i := 0; i < 5; i++ {
		if err := l.Append([]byte("entry")); err != nil {
			t.Fatalf("Append() #%d error: %v", i, err)
		}
	}
	if got := l.SequenceNumber(); got != 5 {
		t.Errorf("SequenceNumber() = %d, want 5", got)
	}
}

func TestBufferBytesGrowsThenSyncDrains(t *testing.T) {
	l, cleanup := makeTempLog(t, 4096, time.Hour)
	defer cleanup()

	if err := l.Append([]byte("payload")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if l.BufferBytes() == 0 {
		t.Fatalf("BufferBytes() should be nonzero after an unflushed append")
	}
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := l.BufferBytes(); got != 0 {
		t.Errorf("BufferBytes() after Sync() = %d, want 0", got)
	}
}

func TestAppendExpireNeverErrors(t *testing.T) {
	l, cleanup := makeTempLog(t, 4096, time.Second)
	defer cleanup()

	l.AppendExpire(2, "session:42")
	if got := l.SequenceNumber(); got != 1 {
		t.Errorf("SequenceNumber() = %d, want 1 after one AppendExpire", got)
	}
}

func TestRewriteBufferMirrorsAppendsDuringRewrite(t *testing.T) {
	l, cleanup := makeTempLog(t, 4096, time.Hour)
	defer cleanup()

	if got := l.RewriteBufferBytes(); got != 0 {
		t.Fatalf("RewriteBufferBytes() before any rewrite = %d, want 0", got)
	}

	l.BeginRewrite()
	if err := l.Append([]byte("during-rewrite")); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if l.RewriteBufferBytes() == 0 {
		t.Fatalf("RewriteBufferBytes() should be nonzero while a rewrite is buffering")
	}
	if err := l.EndRewrite(); err != nil {
		t.Fatalf("EndRewrite() error: %v", err)
	}
	if got := l.RewriteBufferBytes(); got != 0 {
		t.Errorf("RewriteBufferBytes() after EndRewrite() = %d, want 0", got)
	}
}
