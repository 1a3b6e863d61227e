package consume

import "time"

// RedeliveryPolicy decides how the loop handles a failed dispatch: how long
// to wait between attempts, when attempts are exhausted, and whether an
// exhausted record goes to the dead-letter topic or is dropped. It is
// independent from the ledger's own attempts counter, which tracks
// business-level attempts regardless of transport redelivery.
type RedeliveryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	DeadLetter  bool
}

// Delay returns the fixed delay before the next attempt.
func (p RedeliveryPolicy) Delay(_ int) time.Duration {
	return p.Backoff
}

// Exhausted reports whether the given 1-indexed attempt was the last one.
func (p RedeliveryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
