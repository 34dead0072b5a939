// Package replication tracks this node's replicas via zookeeper and
// implements the eviction core's ReplicationSink collaborator: it reports
// replica_output_buffer_bytes to the memory accountant (spec §4.5's
// transient overhead), counts the bytes of each eviction expiry against
// every known follower, and flushes those counters (spec §4.6 steps
// 6.c/6.d). The expire messages themselves are not sent to followers.
// Adapted from the teacher's
// cacheServer/server/election.go (ephemeral znode discovery) and
// routerServer/main.go (follower-list refresh, dial-and-write helper).
package replication

import (
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"
)

const (
	basePath     = "/rapidstore"
	followerPath = "/rapidstore/follower"
)

// follower is one known replica: its address plus a count of the bytes of
// eviction notifications encoded for it since the last flush (the bytes
// themselves are not kept).
type follower struct {
	addr          string
	bufferedBytes uint64
}

// Tracker is the ReplicationSink implementation. All follower state is
// guarded by mu; PropagateExpire/FlushReplicaBuffers/ReplicaBufferBytes
// are called from the single-threaded eviction loop but Refresh may race
// with a zookeeper watch callback, hence the lock (spec §5 notes the
// eviction core itself has no internal locking needs, but its
// collaborators are free to have their own).
type Tracker struct {
	conn   *zk.Conn
	logger *zap.Logger

	mu        sync.RWMutex
	followers map[string]*follower
	selfPath  string
}

// Connect opens a zookeeper session and ensures the base/follower paths
// exist, mirroring initLeader's setup in the teacher's election.go.
func Connect(servers []string, timeout time.Duration, logger *zap.Logger) (*Tracker, error) {
	conn, _, err := zk.Connect(servers, timeout)
	if err != nil {
		return nil, fmt.Errorf("replication: connect to zookeeper: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{conn: conn, logger: logger.Named("replication"), followers: map[string]*follower{}}
	if err := t.ensurePaths(); err != nil {
		conn.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tracker) ensurePaths() error {
	for _, p := range []string{basePath, followerPath} {
		exists, _, err := t.conn.Exists(p)
		if err != nil {
			return fmt.Errorf("replication: check %s: %w", p, err)
		}
		if !exists {
			if _, err := t.conn.Create(p, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
				return fmt.Errorf("replication: create %s: %w", p, err)
			}
		}
	}
	return nil
}

// RegisterAsFollower advertises this process as a replica reachable at
// addr via an ephemeral sequential znode, so it disappears on its own if
// the process dies without deregistering.
func (t *Tracker) RegisterAsFollower(addr string) error {
	path, err := t.conn.Create(followerPath+"/node_", []byte(addr), zk.FlagEphemeralSequential, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("replication: register follower: %w", err)
	}
	t.mu.Lock()
	t.selfPath = path
	t.mu.Unlock()
	return nil
}

// Refresh re-reads the follower list from zookeeper, preserving buffered-
// byte counters for followers that are still present and dropping ones
// that left.
func (t *Tracker) Refresh() error {
	children, _, err := t.conn.Children(followerPath)
	if err != nil {
		return fmt.Errorf("replication: list followers: %w", err)
	}
	sort.Strings(children)

	next := make(map[string]*follower, len(children))
	t.mu.Lock()
	for _, child := range children {
		if existing, ok := t.followers[child]; ok {
			next[child] = existing
			continue
		}
		data, _, err := t.conn.Get(followerPath + "/" + child)
		if err != nil {
			t.logger.Warn("could not read follower node", zap.String("node", child), zap.Error(err))
			continue
		}
		next[child] = &follower{addr: string(data)}
	}
	t.followers = next
	t.mu.Unlock()
	return nil
}

// HasReplicas satisfies ReplicationSink: whether any follower is known.
func (t *Tracker) HasReplicas() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.followers) > 0
}

// PropagateExpire satisfies ReplicationSink: it encodes an expire
// notification (lazy is carried in its flag byte) and adds the encoded
// length to every known follower's buffered-byte counter. The message is
// not retained or sent.
func (t *Tracker) PropagateExpire(dbID int, key string, lazy bool) {
	msg := encodeExpire(dbID, key, lazy)
	t.mu.Lock()
	for _, f := range t.followers {
		f.bufferedBytes += uint64(len(msg))
	}
	t.mu.Unlock()
}

func encodeExpire(dbID int, key string, lazy bool) []byte {
	buf := make([]byte, 6, 6+len(key))
	buf[0] = 'E'
	binary.BigEndian.PutUint32(buf[1:5], uint32(dbID))
	if lazy {
		buf[5] = 1
	}
	return append(buf, key...)
}

// ReplicaBufferBytes satisfies ReplicationSink and feeds the memory
// accountant's transient-overhead figure (spec §4.5): total bytes queued
// across every known follower.
func (t *Tracker) ReplicaBufferBytes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var total uint64
	for _, f := range t.followers {
		total += f.bufferedBytes
	}
	return total
}

// FlushReplicaBuffers satisfies ReplicationSink (spec §4.6 step 6.d): for
// each follower with a nonzero counter it dials a best-effort TCP
// connection and writes a single "FLUSH" line, grounded in routerServer's
// dial-and-write helper, and zeroes the counter regardless of delivery
// outcome. No expire notifications are written. A dead follower's
// backlog is the follower's problem to resync, not a reason to keep
// charging this process's eviction accounting for it.
func (t *Tracker) FlushReplicaBuffers() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for name, f := range t.followers {
		if f.bufferedBytes == 0 {
			continue
		}
		if err := dialAndNotify(f.addr); err != nil {
			t.logger.Debug("flush to follower failed", zap.String("follower", name), zap.Error(err))
		}
		f.bufferedBytes = 0
	}
}

func dialAndNotify(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(500 * time.Millisecond))
	_, err = conn.Write([]byte("FLUSH\n"))
	return err
}

// Close ends the zookeeper session.
func (t *Tracker) Close() error {
	t.conn.Close()
	return nil
}
