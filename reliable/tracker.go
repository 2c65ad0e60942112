package reliable

import (
	"container/heap"
	"time"

	"github.com/sirupsen/logrus"
)

// Record is one outbound message awaiting confirmation.
type Record struct {
	ConfirmID uint32
	Attempts  int
	NextRetry time.Time
	Data      []byte
	Confirmed bool
	TrackedAt time.Time

	index int
	seq   uint64
}

// Tracker schedules retransmission of unconfirmed records.
type Tracker struct {
	policy    Policy
	records   map[uint32]*Record
	queue     retryQueue
	seq       uint64
	onAbandon func(*Record)
}

// NewTracker creates an empty tracker. An invalid policy falls back to
// DefaultPolicy.
func NewTracker(policy Policy) *Tracker {
	if err := policy.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewTracker",
			"error":    err.Error(),
		}).Warn("Invalid retry policy, using defaults")
		policy = DefaultPolicy()
	}

	return &Tracker{
		policy:  policy,
		records: make(map[uint32]*Record),
	}
}

// Policy returns the tracker's retry policy.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// OnAbandon registers a callback invoked for records dropped because they
// reached Policy.MaxAttempts.
func (t *Tracker) OnAbandon(fn func(*Record)) {
	t.onAbandon = fn
}

// Track registers data under id and schedules its first retry. Tracking an
// id that is already pending replaces its data and restarts its schedule.
func (t *Tracker) Track(id uint32, data []byte, now time.Time) *Record {
	if rec, ok := t.records[id]; ok {
		rec.Data = data
		rec.Attempts = 0
		rec.TrackedAt = now
		rec.NextRetry = now.Add(t.policy.Initial)
		heap.Fix(&t.queue, rec.index)
		return rec
	}

	t.seq++
	rec := &Record{
		ConfirmID: id,
		Data:      data,
		TrackedAt: now,
		NextRetry: now.Add(t.policy.Initial),
		seq:       t.seq,
	}
	t.records[id] = rec
	heap.Push(&t.queue, rec)

	return rec
}

// Confirm marks the record confirmed and removes it from scheduling. It
// reports whether a pending record existed; unknown and repeated ids are
// ignored.
func (t *Tracker) Confirm(id uint32) bool {
	rec, ok := t.records[id]
	if !ok {
		return false
	}

	rec.Confirmed = true
	delete(t.records, id)
	if rec.index >= 0 {
		heap.Remove(&t.queue, rec.index)
	}
	return true
}

// DueForRetry returns the unconfirmed records whose retry time has been
// reached, earliest first. The records stay scheduled; callers report each
// transmission with OnRetryAttempted. Records that exhausted MaxAttempts are
// removed and handed to the abandon callback instead.
func (t *Tracker) DueForRetry(now time.Time) []*Record {
	var due, abandoned []*Record

	for t.queue.Len() > 0 && !t.queue[0].NextRetry.After(now) {
		rec := heap.Pop(&t.queue).(*Record)
		if t.policy.MaxAttempts > 0 && rec.Attempts >= t.policy.MaxAttempts {
			delete(t.records, rec.ConfirmID)
			abandoned = append(abandoned, rec)
			continue
		}
		due = append(due, rec)
	}

	for _, rec := range due {
		heap.Push(&t.queue, rec)
	}

	for _, rec := range abandoned {
		logrus.WithFields(logrus.Fields{
			"function":   "Tracker.DueForRetry",
			"confirm_id": rec.ConfirmID,
			"attempts":   rec.Attempts,
		}).Debug("Abandoning reliable record")
		if t.onAbandon != nil {
			t.onAbandon(rec)
		}
	}

	return due
}

// OnRetryAttempted records a retransmission of rec at now and schedules the
// next one. Confirmed or removed records are ignored.
func (t *Tracker) OnRetryAttempted(rec *Record, now time.Time) {
	if rec == nil || rec.Confirmed || rec.index < 0 {
		return
	}
	if cur, ok := t.records[rec.ConfirmID]; !ok || cur != rec {
		return
	}

	rec.Attempts++
	rec.NextRetry = now.Add(t.policy.Delay(rec.Attempts))
	heap.Fix(&t.queue, rec.index)
}

// Pending reports whether id is tracked and unconfirmed.
func (t *Tracker) Pending(id uint32) bool {
	_, ok := t.records[id]
	return ok
}

// Len returns the number of unconfirmed records.
func (t *Tracker) Len() int {
	return len(t.records)
}

// NextDeadline returns the earliest scheduled retry, if any.
func (t *Tracker) NextDeadline() (time.Time, bool) {
	if t.queue.Len() == 0 {
		return time.Time{}, false
	}
	return t.queue[0].NextRetry, true
}

// Clear drops every record without confirming it. Used on peer teardown.
func (t *Tracker) Clear() {
	for _, rec := range t.queue {
		rec.index = -1
	}
	t.queue = nil
	t.records = make(map[uint32]*Record)
}
