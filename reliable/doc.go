// Package reliable tracks outbound messages that need guaranteed delivery.
//
// A Tracker holds one Record per unconfirmed confirmation id and schedules
// retransmission with linear, capped backoff: the first retry fires Initial
// after tracking, and after the n-th retry the next one fires
// min(Cap, n*Step) later. Records leave the tracker when they are confirmed,
// when the retry policy abandons them, or when the owning peer clears the
// tracker on teardown.
//
// The tracker performs no I/O and reads no clock; callers pass the current
// time, which keeps the schedule deterministic under test:
//
//	tr := reliable.NewTracker(reliable.DefaultPolicy())
//	tr.Track(id, data, now)
//	for _, rec := range tr.DueForRetry(now) {
//	    send(rec.Data)
//	    tr.OnRetryAttempted(rec, now)
//	}
//
// A Tracker is not safe for concurrent use. It belongs to a single pump loop.
package reliable
