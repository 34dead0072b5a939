package eviction

import (
	"time"

	"rapidstore/internal/accessmeta"
)

// Object is the per-value access metadata the eviction core needs from the
// key/value store (out of scope per spec §1, specified here only at the
// interface boundary per spec §6's "Key table" collaborator contract).
type Object interface {
	AccessMeta() accessmeta.Word
	Size() uint64
}

// KeyTable is the sampler.Table contract plus the lookups the candidate
// pool and random-policy path need: find, sample, and a random entry.
type KeyTable interface {
	Len() int
	KeyAt(i int) string
	Find(key string) (Object, bool)
	RandomKey() (string, bool)
}

// ExpiringTable is the subset of keys with a TTL, used by volatile-*
// policies. ExpiryAt returns the absolute expiry timestamp, which for
// volatile-ttl scoring IS the "value" the spec's §9 Open Question resolves
// to use directly, without a main-table lookup.
type ExpiringTable interface {
	KeyTable
	ExpiryAt(key string) (time.Time, bool)
}

// Database is one logical database: the all_keys/expiring_keys pair plus
// the two deletion entry points the loop drives (spec §4.6 step 6.c).
type Database interface {
	ID() int
	AllKeys() KeyTable
	ExpiringKeys() ExpiringTable
	// DeleteSync removes key immediately and reports the bytes it freed.
	DeleteSync(key string) (freedBytes uint64, ok bool)
	// DeleteAsync enqueues key's value destructor on the background
	// worker and reports whether it was accepted.
	DeleteAsync(key string) bool
}

// ReplicationSink is the replication collaborator from spec §6.
type ReplicationSink interface {
	PropagateExpire(dbID int, key string, lazy bool)
	FlushReplicaBuffers()
	ReplicaBufferBytes() uint64
	HasReplicas() bool
}

// AppendLogSink is the append-log collaborator from spec §6.
type AppendLogSink interface {
	// AppendExpire records the expiry of key the same way a real DEL/EXPIRE
	// command would be logged (spec §4.6 step 6.c: "notify ... append-log of
	// an expiry for the key").
	AppendExpire(dbID int, key string)
	BufferBytes() uint64
	RewriteBufferBytes() uint64
}

// EventNotifier is the keyspace-event collaborator from spec §6.
type EventNotifier interface {
	NotifyEvicted(dbID int, key string)
	SignalModifiedKey(dbID int, key string)
}

// BackgroundFreer is the lazy-free worker collaborator from spec §6.
type BackgroundFreer interface {
	PendingJobs() int
	Enqueue(job func() uint64) bool
}
