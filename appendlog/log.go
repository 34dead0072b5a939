// Package appendlog implements the append-only command log collaborator
// from eviction spec §6: it reports append_log_buffer_bytes and
// append_log_rewrite_buffer_bytes to the memory accountant, and records
// eviction-driven expiries as log entries. The package only writes the
// log; it has no reader or replay. Adapted from the teacher's
// cacheServer/server/wal.go, generalized from a single-purpose
// key-command log into a general append-only entry log.
package appendlog

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	magicNumber   = uint32(0xD9B4BEF9)
	checksumTable = crc32.MakeTable(crc32.IEEE)
)

// Log is the append-only log: entries are buffered in memory and flushed
// to disk on a timer or when the buffer would overflow, mirroring the
// teacher's WriteAheadLog buffering/autoSync design.
type Log struct {
	mu         sync.Mutex
	file       *os.File
	buffer     *bytes.Buffer
	rewriteBuf *bytes.Buffer
	rewriting  bool

	syncPeriod     time.Duration
	lastFlush      time.Time
	sequenceNumber uint64

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// Open creates or appends to the log file at path, buffering up to
// maxSize bytes before forcing a flush, and starts the background
// autoSync goroutine.
func Open(path string, maxSize uint32, syncPeriod time.Duration, logger *zap.Logger) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("appendlog: open %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Log{
		file:       f,
		buffer:     bytes.NewBuffer(make([]byte, 0, maxSize)),
		syncPeriod: syncPeriod,
		lastFlush:  time.Now(),
		logger:     logger.Named("appendlog"),
		ctx:        ctx,
		cancel:     cancel,
	}
	go l.autoSync()
	return l, nil
}

// Append buffers entry, prefixed with a magic number and length and
// trailed with a CRC32 checksum, flushing first if the entry would
// overflow the buffer's capacity.
func (l *Log) Append(entry []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.buffer.Len()+8+len(entry)+4 > l.buffer.Cap() {
		if err := l.syncLocked(); err != nil {
			return err
		}
	}
	if err := binary.Write(l.buffer, binary.BigEndian, magicNumber); err != nil {
		return fmt.Errorf("appendlog: write magic number: %w", err)
	}
	if err := binary.Write(l.buffer, binary.BigEndian, uint32(len(entry))); err != nil {
		return fmt.Errorf("appendlog: write entry size: %w", err)
	}
	if _, err := l.buffer.Write(entry); err != nil {
		return fmt.Errorf("appendlog: write entry data: %w", err)
	}
	checksum := crc32.Checksum(entry, checksumTable)
	if err := binary.Write(l.buffer, binary.BigEndian, checksum); err != nil {
		return fmt.Errorf("appendlog: write checksum: %w", err)
	}
	atomic.AddUint64(&l.sequenceNumber, 1)
	if l.rewriting {
		l.rewriteBuf.Write(entry)
	}
	return nil
}

// AppendExpire satisfies eviction.AppendLogSink: it records the key's
// removal the way a DEL command would be logged, so the eviction loop's
// "notify append-log of an expiry" step (spec §4.6 step 6.c) has somewhere
// real to go.
func (l *Log) AppendExpire(dbID int, key string) {
	if err := l.Append(encodeExpireEntry(dbID, key)); err != nil {
		l.logger.Warn("failed to log eviction expiry",
			zap.Int("db", dbID), zap.String("key", key), zap.Error(err))
	}
}

func encodeExpireEntry(dbID int, key string) []byte {
	buf := make([]byte, 5, 5+len(key))
	buf[0] = 'X' // expire opcode
	binary.BigEndian.PutUint32(buf[1:5], uint32(dbID))
	return append(buf, key...)
}

func (l *Log) syncLocked() error {
	_, err := l.buffer.WriteTo(l.file)
	l.lastFlush = time.Now()
	if err != nil {
		return fmt.Errorf("appendlog: flush to disk: %w", err)
	}
	return nil
}

// Sync forces the in-memory buffer to disk.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.syncLocked()
}

func (l *Log) autoSync() {
	ticker := time.NewTicker(l.syncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			if time.Since(l.lastFlush) >= l.syncPeriod {
				if err := l.syncLocked(); err != nil {
					l.logger.Warn("periodic sync failed", zap.Error(err))
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close flushes, stops the background goroutine, and closes the file.
func (l *Log) Close() error {
	l.cancel()
	if err := l.Sync(); err != nil {
		return err
	}
	return l.file.Close()
}

// BufferBytes is append_log_buffer_bytes from eviction spec §6: bytes
// buffered in memory but not yet flushed to the log file.
func (l *Log) BufferBytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(l.buffer.Len())
}

// RewriteBufferBytes is append_log_rewrite_buffer_bytes: entries
// accumulated to replay onto a freshly rewritten (compacted) log while a
// rewrite is in progress; zero when no rewrite is running.
func (l *Log) RewriteBufferBytes() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rewriteBuf == nil {
		return 0
	}
	return uint64(l.rewriteBuf.Len())
}

// BeginRewrite starts mirroring newly appended entries into a separate
// buffer, the way a BGREWRITEAOF child needs the parent to replay writes
// made during the rewrite once the child finishes.
func (l *Log) BeginRewrite() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rewriting = true
	l.rewriteBuf = bytes.NewBuffer(nil)
}

// EndRewrite flushes the rewrite buffer onto the log and stops mirroring.
func (l *Log) EndRewrite() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rewriting = false
	if l.rewriteBuf == nil {
		return nil
	}
	_, err := l.rewriteBuf.WriteTo(l.file)
	l.rewriteBuf = nil
	if err != nil {
		return fmt.Errorf("appendlog: flush rewrite buffer: %w", err)
	}
	return nil
}

// SequenceNumber returns the number of entries appended since Open.
func (l *Log) SequenceNumber() uint64 {
	return atomic.LoadUint64(&l.sequenceNumber)
}
