package eviction

import (
	"time"
)

// SafetyState holds the forbidden-state flags the eviction loop and the
// safety wrapper both consult (spec §4.6 steps 1-2, §4.7).
type SafetyState struct {
	// IsReplica marks this process as a replica of some master.
	IsReplica bool
	// ClientsPaused mirrors "any client is in paused state" — the dataset
	// must appear static to a paused client.
	ClientsPaused bool
	// Loading marks a bulk restore in progress (spec §4.7, see the
	// snapshot package).
	Loading bool
	// ScriptTimeout marks an embedded script executing past its timeout.
	ScriptTimeout bool
}

// backstopPollInterval is the 1ms sleep from spec §4.6 step 9.
const backstopPollInterval = time.Millisecond

// TryFreeMemory is the top-level entry point from spec §4.6.
func (ctx *Context) TryFreeMemory(safety SafetyState, dbs []Database) (Result, error) {
	if safety.IsReplica && ctx.Config.ReplicaIgnoreMaxMemory {
		return OK, nil
	}
	if safety.ClientsPaused {
		return OK, nil
	}

	st := ctx.Accountant.State()
	if !st.Over {
		return OK, nil
	}

	if ctx.Config.Policy == NoEviction {
		return ctx.backstop(ERR), ErrPolicyForbids
	}

	target := st.ToFree
	var freed uint64
	var evictedThisCall uint64

	for freed < target {
		key, dbid, found := ctx.selectVictim(dbs)
		if !found {
			if evictedThisCall > 0 {
				return ctx.backstopWithErr(ERR, ErrInsufficientProgress)
			}
			return ctx.backstopWithErr(ERR, ErrNoCandidates)
		}

		db := findDB(dbs, dbid)
		if db == nil {
			continue
		}

		usedBefore := ctx.Accountant.UsedMemory()

		lazy := ctx.Config.LazyFreeLazyEviction
		if ctx.Replication != nil {
			ctx.Replication.PropagateExpire(dbid, key, lazy)
		}
		if ctx.AppendLog != nil {
			ctx.AppendLog.AppendExpire(dbid, key)
		}

		var ok bool
		if lazy && ctx.BGFree != nil {
			ok = db.DeleteAsync(key)
		} else {
			var freedBytes uint64
			freedBytes, ok = db.DeleteSync(key)
			_ = freedBytes
		}
		if !ok {
			continue
		}

		usedAfter := ctx.Accountant.UsedMemory()
		if usedBefore > usedAfter {
			freed += usedBefore - usedAfter
		}

		if ctx.Events != nil {
			ctx.Events.NotifyEvicted(dbid, key)
			ctx.Events.SignalModifiedKey(dbid, key)
		}
		ctx.Stats.addEvicted(1)
		evictedThisCall++

		if ctx.Replication != nil && ctx.Replication.HasReplicas() {
			ctx.Replication.FlushReplicaBuffers()
		}

		if lazy && evictedThisCall%16 == 0 {
			if !ctx.Accountant.State().Over {
				return OK, nil
			}
		}
	}

	return OK, nil
}

// selectVictim performs spec §4.6 step 6.a: pool-based policies populate
// and scan; random policies rotate the db cursor and pick directly.
func (ctx *Context) selectVictim(dbs []Database) (key string, dbid int, found bool) {
	if ctx.Config.Policy.IsRandom() {
		return ctx.selectRandomVictim(dbs)
	}
	return ctx.selectPoolVictim(dbs)
}

func (ctx *Context) selectPoolVictim(dbs []Database) (string, int, bool) {
	anyNonEmpty := false
	for _, db := range dbs {
		if ctx.populate(db) {
			anyNonEmpty = true
		}
	}
	if !anyNonEmpty {
		return "", 0, false
	}

	// Pop candidates best-first; a key that vanished between populate and
	// now (an early ghost) is discarded and the next-best is tried, rather
	// than failing the whole selection (spec §4.6 step 6.b).
	for {
		key, dbid, ok := ctx.Pool.PickAndRemoveBest()
		if !ok {
			return "", 0, false
		}
		db := findDB(dbs, dbid)
		if db == nil {
			continue
		}
		if ctx.Config.Policy.IsTTL() {
			if _, found := db.ExpiringKeys().ExpiryAt(key); found {
				return key, dbid, true
			}
			continue
		}
		if _, found := db.AllKeys().Find(key); found {
			return key, dbid, true
		}
	}
}

func (ctx *Context) selectRandomVictim(dbs []Database) (string, int, bool) {
	n := len(dbs)
	if n == 0 {
		return "", 0, false
	}
	for i := 0; i < n; i++ {
		idx := (ctx.NextDB + i) % n
		db := dbs[idx]
		var table KeyTable
		if ctx.Config.Policy.AllKeys() {
			table = db.AllKeys()
		} else {
			table = db.ExpiringKeys()
		}
		if table.Len() == 0 {
			continue
		}
		key, ok := table.RandomKey()
		if !ok {
			continue
		}
		ctx.NextDB = (idx + 1) % n
		return key, db.ID(), true
	}
	return "", 0, false
}

func findDB(dbs []Database, id int) Database {
	for _, db := range dbs {
		if db.ID() == id {
			return db
		}
	}
	return nil
}

// backstop is spec §4.6 step 9: while result is ERR and the background
// free worker still has pending jobs, poll the accountant.
func (ctx *Context) backstop(result Result) Result {
	if result != ERR || ctx.BGFree == nil {
		return result
	}
	for ctx.BGFree.PendingJobs() > 0 {
		time.Sleep(backstopPollInterval)
		if !ctx.Accountant.State().Over {
			return OK
		}
	}
	return result
}

func (ctx *Context) backstopWithErr(result Result, err error) (Result, error) {
	r := ctx.backstop(result)
	if r == OK {
		return OK, nil
	}
	return r, err
}
