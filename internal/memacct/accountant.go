// Package memacct implements the memory accountant from spec §4.5: it
// reports total allocator-attributed bytes, subtracts transient
// replication/append-log overhead, and reports whether the result is over
// the configured maxmemory budget.
package memacct

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// OverheadSource reports the current byte size of a buffer that should be
// excluded from the "logical" memory figure charged against maxmemory
// (spec §4.5 step 3): replica output buffers and append-log buffers are
// transient and self-draining, so charging them would cause eviction
// storms that make the buffers grow further.
type OverheadSource func() uint64

// Accountant computes the over/under-budget state described in spec §4.5.
type Accountant struct {
	MaxMemory uint64 // bytes; 0 = unlimited

	// Overheads are summed and subtracted from total used memory to get
	// "logical" memory. Typically: replica output buffers, append-log
	// buffer, append-log rewrite buffer.
	Overheads []OverheadSource

	// proc, when non-nil, is consulted for the process RSS the same way
	// the teacher's CollectGcStats samples CPU via gopsutil; falls back to
	// runtime.MemStats.HeapInuse when proc is nil or the syscall fails
	// (e.g. sandboxed or non-Linux test environments).
	proc *process.Process

	// UsedMemoryOverride, when set, replaces the gopsutil/runtime probe
	// entirely. Tests (and harnesses that already track allocator bytes
	// themselves, e.g. memorystore) use this instead of depending on the
	// real process RSS.
	UsedMemoryOverride func() uint64
}

// New creates an Accountant. It attempts to resolve a gopsutil process
// handle for the current PID up front; failures are non-fatal, UsedMemory
// silently falls back to the Go runtime's own view of heap usage.
func New(maxMemory uint64) *Accountant {
	a := &Accountant{MaxMemory: maxMemory}
	if p, err := process.NewProcess(int32(pid())); err == nil {
		a.proc = p
	}
	return a
}

// UsedMemory is the zmalloc_used_memory() equivalent: total bytes the
// allocator attributes to this process.
func (a *Accountant) UsedMemory() uint64 {
	if a.UsedMemoryOverride != nil {
		return a.UsedMemoryOverride()
	}
	if a.proc != nil {
		if info, err := a.proc.MemoryInfo(); err == nil && info != nil {
			return info.RSS
		}
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.HeapInuse
}

func (a *Accountant) overhead() uint64 {
	var total uint64
	for _, src := range a.Overheads {
		total += src()
	}
	return total
}

// State is the result of maxmemory_state() (spec §4.5).
type State struct {
	Over    bool
	Total   uint64 // raw allocator-reported bytes
	Logical uint64 // total minus transient overhead
	ToFree  uint64 // bytes that must be freed to reach budget; 0 when Over is false
	Level   float64
}

// State computes the over/under-budget decision described in spec §4.5.
func (a *Accountant) State() State {
	return a.stateWithTotal(a.UsedMemory())
}

// stateWithTotal runs the decision logic against an explicit total,
// letting tests exercise the overhead/budget arithmetic without depending
// on the live process's actual memory footprint.
func (a *Accountant) stateWithTotal(total uint64) State {
	if a.MaxMemory == 0 || total <= a.MaxMemory {
		level := 0.0
		if a.MaxMemory > 0 {
			level = float64(total) / float64(a.MaxMemory)
		}
		return State{Total: total, Logical: total, Level: level}
	}

	overhead := a.overhead()
	var logical uint64
	if total > overhead {
		logical = total - overhead
	}

	if logical <= a.MaxMemory {
		return State{Total: total, Logical: logical, Level: float64(logical) / float64(a.MaxMemory)}
	}

	toFree := logical - a.MaxMemory
	return State{
		Over:    true,
		Total:   total,
		Logical: logical,
		ToFree:  toFree,
		Level:   float64(logical) / float64(a.MaxMemory),
	}
}
