// Package sampler implements the dictGetSomeKeys-equivalent contract from
// spec §4.4: drawing a small pseudo-random, duplicate-free subset of a key
// table's entries without requiring a full scan.
package sampler

import "math/rand"

// Table is the minimal contract a key table must satisfy to be sampled.
// Len and KeyAt together let the sampler pick random positions without the
// table exposing its internal bucket layout.
type Table interface {
	Len() int
	KeyAt(i int) string
}

// Sample draws up to n distinct entries from table at pseudo-random
// positions. It returns fewer than n when the table is sparser than n, and
// never returns duplicates within a single call. No ordering is
// guaranteed, matching spec §4.4.
func Sample(table Table, n int, rng *rand.Rand) []string {
	size := table.Len()
	if size == 0 || n <= 0 {
		return nil
	}
	if n > size {
		n = size
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	// For small n relative to size, rejection sampling on positions is
	// cheap and avoids allocating a shuffle of the whole table -- the same
	// tradeoff dictGetSomeKeys makes by walking a bounded number of
	// buckets rather than scanning the whole dict.
	seen := make(map[int]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		pos := rng.Intn(size)
		if _, dup := seen[pos]; dup {
			continue
		}
		seen[pos] = struct{}{}
		out = append(out, table.KeyAt(pos))
	}
	return out
}
