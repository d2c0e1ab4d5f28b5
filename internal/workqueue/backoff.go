package workqueue

import (
	"hash/fnv"
	"math/rand"
	"time"
)

// newRunRand seeds a *rand.Rand deterministically from runID, so two
// dispatches of the same run (same runID, same retry sequence of
// attempts) produce the same jitter sequence — useful for replaying a
// run's timing in tests without wall-clock flakiness.
func newRunRand(runID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(runID))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// backoffDelay implements spec.md §4.4 step 6: baseDelay × 2^(attempt-1),
// jittered by a uniform factor in [0.8, 1.2]. attempt is 1-based (the
// attempt that just failed).
func backoffDelay(rng *rand.Rand, base time.Duration, attempt int) time.Duration {
	factor := 1 << uint(attempt-1)
	delay := base * time.Duration(factor)
	jitter := 0.8 + rng.Float64()*0.4
	return time.Duration(float64(delay) * jitter)
}
