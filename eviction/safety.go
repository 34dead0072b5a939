package eviction

// TryFreeMemorySafely is the safety wrapper from spec §4.7: it short-
// circuits to OK whenever the process is in a state where running the
// loop at all would be unsafe or pointless, then delegates to
// TryFreeMemory. Loading and ScriptTimeout are forbidden states the loop
// itself never checks — only this wrapper does, because callers that
// already hold the loop's own guarantees (e.g. a direct test of
// TryFreeMemory) should not be silently gated by them.
func (ctx *Context) TryFreeMemorySafely(safety SafetyState, dbs []Database) (Result, error) {
	if safety.Loading {
		return OK, nil
	}
	if safety.ScriptTimeout {
		return OK, nil
	}
	return ctx.TryFreeMemory(safety, dbs)
}
