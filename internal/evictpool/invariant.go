package evictpool

import "golang.org/x/exp/constraints"

// isNonDecreasing reports whether vals is sorted ascending, the same small
// generic helper style the teacher's binary tree (memoryStore/internal/DS)
// uses golang.org/x/exp/constraints for. Used by CheckInvariant below and by
// tests that want to assert the pool's ordering property directly.
func isNonDecreasing[T constraints.Ordered](vals []T) bool {
	for i := 1; i < len(vals); i++ {
		if vals[i] < vals[i-1] {
			return false
		}
	}
	return true
}

// CheckInvariant reports whether the pool currently satisfies spec §3's
// ordering invariant: populated slots form a contiguous prefix (from index
// 0) and Idle is non-decreasing across them, with empty slots trailing at
// the high indices. This is the layout that makes the populate algorithm
// in spec §4.3 self-consistent: "if rightmost slot is empty" is how that
// algorithm detects free capacity to grow the prefix, and "free slot 0 when
// full" is how it discards the worst (lowest-idle) kept candidate to make
// room — both only make sense with occupied entries at the low indices.
// It is exported for tests and callers asserting pool health after a
// populate burst; production code does not call it on the hot path.
func (p *Pool) CheckInvariant() bool {
	seenEmpty := false
	idles := make([]uint64, 0, Size)
	for i := 0; i < Size; i++ {
		if p.slots[i].occupied {
			if seenEmpty {
				// An occupied slot after an empty one means the populated
				// region is not a left-aligned prefix.
				return false
			}
			idles = append(idles, p.slots[i].Idle)
		} else {
			seenEmpty = true
		}
	}
	return isNonDecreasing(idles)
}
