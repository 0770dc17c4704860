package metrics

import (
	"sync"
	"sync/atomic"
)

// escalationStats holds counters for the escalation runner. Kept
// simple/thread-safe for use from the runner and exposition.
type escalationStats struct {
	passes    uint64
	evaluated uint64
	executed  uint64
	failed    uint64
	deduped   uint64
}

var esc escalationStats

// RecordEscalationPass accumulates the counters of one finished pass.
func RecordEscalationPass(evaluated, executed, failed, deduped int) {
	atomic.AddUint64(&esc.passes, 1)
	atomic.AddUint64(&esc.evaluated, uint64(evaluated))
	atomic.AddUint64(&esc.executed, uint64(executed))
	atomic.AddUint64(&esc.failed, uint64(failed))
	atomic.AddUint64(&esc.deduped, uint64(deduped))
}

// EscalationSnapshot returns a copy of the escalation counters.
func EscalationSnapshot() (passes, evaluated, executed, failed, deduped uint64) {
	return atomic.LoadUint64(&esc.passes),
		atomic.LoadUint64(&esc.evaluated),
		atomic.LoadUint64(&esc.executed),
		atomic.LoadUint64(&esc.failed),
		atomic.LoadUint64(&esc.deduped)
}

// rateLimitStats holds counters for rate limit drops (HTTP 429).
type rateLimitStats struct {
	total    uint64
	mu       sync.Mutex
	byPrefix map[string]uint64
}

var rl rateLimitStats

// IncRateLimitDrop increments drop counters for the given prefix. Use
// prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	atomic.AddUint64(&rl.total, 1)
	rl.mu.Lock()
	if rl.byPrefix == nil {
		rl.byPrefix = make(map[string]uint64)
	}
	rl.byPrefix[prefix]++
	rl.mu.Unlock()
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&rl.total)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	by = make(map[string]uint64, len(rl.byPrefix))
	for k, v := range rl.byPrefix {
		by[k] = v
	}
	return total, by
}
