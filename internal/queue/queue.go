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

// Package queue is the Delivery Worker's in-memory bookkeeping for
// spooled messages awaiting delivery: per-message DeliveryState, its
// resolved MailServer candidates and recipient domain, and the retry
// backoff/eligibility/expiration rules. It never touches message
// bodies and never calls the Spool directly — the worker is the glue
// between the two.
package queue

import (
	"math/rand"
	"sync"
	"time"

	"github.com/mtacore/mtacore/internal/message"
)

// Entry is one message's queue-side tracking record.
type Entry struct {
	ID               message.SpooledMessageId
	RecipientDomain  string
	Servers          []message.MailServer
	State            *message.DeliveryState
}

// BackoffConfig parameterizes the retry delay formula
// delay = min(Base*2^(n-1), Max) * Uniform(1-Jitter, 1+Jitter).
type BackoffConfig struct {
	Base               time.Duration
	Max                time.Duration
	Jitter             float64
	MessageExpiration  time.Duration
}

// DefaultBackoff matches SPEC_FULL.md §6.5's stated defaults.
var DefaultBackoff = BackoffConfig{
	Base:              60 * time.Second,
	Max:               86400 * time.Second,
	Jitter:            0.2,
	MessageExpiration: 5 * 24 * time.Hour,
}

// shardCount is the number of concurrency-independent buckets the
// queue's key space is split across. A prime is used so sequential
// SpooledMessageId hashes don't alias onto the same shard.
const shardCount = 31

type shard struct {
	mu      sync.RWMutex
	entries map[message.SpooledMessageId]*Entry
}

// Queue is a shard-concurrent map of in-flight delivery bookkeeping.
// Per-key operations take only that key's shard lock; List and Filter
// lock one shard at a time, so their result is not a cross-shard
// atomic snapshot.
type Queue struct {
	shards [shardCount]*shard
	backoff BackoffConfig
}

// New returns an empty Queue using the given backoff configuration.
func New(backoff BackoffConfig) *Queue {
	q := &Queue{backoff: backoff}
	for i := range q.shards {
		q.shards[i] = &shard{entries: make(map[message.SpooledMessageId]*Entry)}
	}
	return q
}

func (q *Queue) shardFor(id message.SpooledMessageId) *shard {
	var h uint32
	for i := 0; i < len(id); i++ {
		h = h*31 + uint32(id[i])
	}
	return q.shards[h%shardCount]
}

// Get returns the Entry for id, or nil if not present.
func (q *Queue) Get(id message.SpooledMessageId) *Entry {
	sh := q.shardFor(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.entries[id]
}

// Put inserts or replaces the Entry for its id.
func (q *Queue) Put(e *Entry) {
	sh := q.shardFor(e.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.entries[e.ID] = e
}

// Remove drops the Entry for id from the queue. Called once a message
// reaches a terminal state and has been handed off (Spool.delete for
// success/expiry, Cleanup Queue for a failed deletion).
func (q *Queue) Remove(id message.SpooledMessageId) {
	sh := q.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, id)
}

// Len reports the total number of tracked entries across all shards.
func (q *Queue) Len() int {
	n := 0
	for _, sh := range q.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Filter selects entries for which pred returns true. Iteration takes
// a per-shard read lock one shard at a time rather than a single
// queue-wide lock, so List does not block concurrent per-key ops for
// its full duration — callers needing a fully consistent snapshot
// should not rely on cross-shard atomicity.
func (q *Queue) Filter(pred func(*Entry) bool) []*Entry {
	var out []*Entry
	for _, sh := range q.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			if pred(e) {
				out = append(out, e)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// List returns every tracked entry.
func (q *Queue) List() []*Entry {
	return q.Filter(func(*Entry) bool { return true })
}

// UpdateStatus sets e's status in place. Callers hold no lock across
// this call other than what Get/Put already provide; DeliveryState
// itself is not internally synchronized, so exactly one goroutine
// (the worker's single attempt-in-flight-per-id invariant) may mutate
// a given Entry's State at a time.
func UpdateStatus(e *Entry, status message.Status) {
	e.State.Status = status
}

// SetNextRetryAt sets when e next becomes eligible.
func SetNextRetryAt(e *Entry, at time.Time) {
	e.State.NextRetryAt = at
}

// RecordAttempt appends an attempt outcome to e's history and updates
// its status, per message.DeliveryState.RecordAttempt.
func RecordAttempt(e *Entry, server string, at time.Time, err error, final bool) {
	e.State.RecordAttempt(server, at, err, final)
}

// Eligible reports whether e is due for a delivery attempt right now:
// status Pending, Retry or InProgress (a crash-recovered InProgress is
// treated as eligible for re-attempt, see DESIGN.md), and next_retry_at
// not in the future.
func Eligible(e *Entry, now time.Time) bool {
	switch e.State.Status {
	case message.StatusPending, message.StatusRetry, message.StatusInProgress:
	default:
		return false
	}
	return !e.State.NextRetryAt.After(now)
}

// Expired reports whether e has outlived its expiration window measured
// from queued_at.
func (q *Queue) Expired(e *Entry, now time.Time) bool {
	return now.Sub(e.State.QueuedAt) > q.backoff.MessageExpiration
}

// NextDelay computes the backoff delay for the attempt-th retry (1 =
// first retry after the initial attempt), per the formula
// min(Base*2^(n-1), Max) * Uniform(1-Jitter, 1+Jitter).
func (q *Queue) NextDelay(attempt int) time.Duration {
	return q.backoff.computeDelay(attempt, rand.Float64)
}

func (b BackoffConfig) computeDelay(attempt int, randFloat func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := float64(uint(1) << uint(attempt-1))
	d := time.Duration(float64(b.Base) * exp)
	if d > b.Max {
		d = b.Max
	}
	jitter := 1 + (randFloat()*2-1)*b.Jitter
	return time.Duration(float64(d) * jitter)
}


