/*
Mail Transfer Agent core - embeddable SMTP submission, spool and relay engine.
Copyright © 2024 Mail Transfer Agent core contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package cleanup tracks spool entries that the Delivery Worker has
// finished with (delivered, expired, or permanently failed) but could
// not remove from disk — a Spool.Delete that returned an error. It
// retries the deletion on its own schedule, independent of delivery
// retries, and escalates to a critical log line once it gives up.
package cleanup

import (
	"time"

	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/message"
)

// DefaultMaxAttempts is the number of deletion attempts made before an
// entry is abandoned, per SPEC_FULL.md §6.7.
const DefaultMaxAttempts = 3

// entry is one message's pending-deletion bookkeeping.
type entry struct {
	id           message.SpooledMessageId
	attemptCount int
	nextRetryAt  time.Time
	firstFailure time.Time
}

// Queue is the set of messages whose Spool.Delete has failed at least
// once and is still being retried. It is not safe for concurrent use
// from multiple goroutines; the Delivery Worker owns it from a single
// maintenance loop.
type Queue struct {
	logger      log.Logger
	maxAttempts int
	entries     map[message.SpooledMessageId]*entry
}

// New returns an empty cleanup Queue. logger.Critical is called
// whenever an entry is abandoned after maxAttempts; a maxAttempts <= 0
// is replaced with DefaultMaxAttempts.
func New(logger log.Logger, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		logger:      logger,
		maxAttempts: maxAttempts,
		entries:     make(map[message.SpooledMessageId]*entry),
	}
}

// Add records a failed deletion of id at now, scheduling the first
// retry per the 2^attempt_count second backoff. If id is already
// tracked, this is a no-op — RecordFailure is the entry point for
// subsequent failures.
func (q *Queue) Add(id message.SpooledMessageId, now time.Time) {
	if _, ok := q.entries[id]; ok {
		return
	}
	q.entries[id] = &entry{
		id:           id,
		attemptCount: 1,
		nextRetryAt:  now.Add(backoff(1)),
		firstFailure: now,
	}
}

// backoff returns 2^attemptCount seconds, per SPEC_FULL.md §6.7.
func backoff(attemptCount int) time.Duration {
	return time.Duration(1<<uint(attemptCount)) * time.Second
}

// Due returns the ids whose next retry is at or before now.
func (q *Queue) Due(now time.Time) []message.SpooledMessageId {
	var ids []message.SpooledMessageId
	for id, e := range q.entries {
		if !e.nextRetryAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// RecordFailure is called after a retried deletion attempt for id
// fails again. Once attemptCount reaches maxAttempts, the entry is
// dropped and a critical line is logged — the file is abandoned on
// disk and requires operator intervention. Otherwise the next retry is
// rescheduled with the next backoff step.
func (q *Queue) RecordFailure(id message.SpooledMessageId, now time.Time, cause error) {
	e, ok := q.entries[id]
	if !ok {
		return
	}
	e.attemptCount++
	if e.attemptCount >= q.maxAttempts {
		delete(q.entries, id)
		q.logger.Critical("giving up on spool cleanup, file requires manual removal",
			"message_id", string(id),
			"attempts", e.attemptCount,
			"first_failure", e.firstFailure,
			"cause", cause.Error(),
		)
		return
	}
	e.nextRetryAt = now.Add(backoff(e.attemptCount))
}

// Succeed removes id from tracking after a retried deletion succeeds.
func (q *Queue) Succeed(id message.SpooledMessageId) {
	delete(q.entries, id)
}

// Len reports the number of entries still pending cleanup.
func (q *Queue) Len() int {
	return len(q.entries)
}


