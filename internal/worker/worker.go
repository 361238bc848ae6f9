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

// Package worker is the Delivery Worker: it reconciles the Spool
// against the Delivery Queue on a timer, attempts delivery of every
// eligible message on a separate timer, and drives the Cleanup Queue's
// deferred-deletion retries on a third. All three timers run
// independently so a slow delivery attempt never delays the next scan.
package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mtacore/mtacore/framework/dns"
	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/cleanup"
	"github.com/mtacore/mtacore/internal/message"
	"github.com/mtacore/mtacore/internal/queue"
	"github.com/mtacore/mtacore/internal/spool"
	"github.com/mtacore/mtacore/internal/tlsctx"
)

// Intervals, per SPEC_FULL.md §6.6.
const (
	ScanInterval    = 30 * time.Second
	ProcessInterval = 10 * time.Second
	CleanupInterval = 60 * time.Second
)

// MaxParallelDeliveries bounds the number of concurrent relay attempts
// in flight, mirroring the teacher's delivery semaphore.
const MaxParallelDeliveries = 16

// Config parameterizes a Worker.
type Config struct {
	Hostname       string
	Resolver       dns.Resolver
	TLSPolicy      tlsctx.OutboundPolicy
	Backoff        queue.BackoffConfig
	MaxCleanupTry  int
}

// Worker ties the Spool, Delivery Queue and Cleanup Queue together and
// drives outbound delivery attempts.
type Worker struct {
	cfg     Config
	spool   *spool.Spool
	queue   *queue.Queue
	cleanup *cleanup.Queue
	log     log.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	stop    chan struct{}
	stopped chan struct{}

	sendingMu sync.Mutex
	sending   int
}

// New builds a Worker over an already-opened Spool.
func New(cfg Config, sp *spool.Spool, logger log.Logger) *Worker {
	if cfg.Resolver == nil {
		cfg.Resolver = dns.DefaultResolver()
	}
	if cfg.Backoff == (queue.BackoffConfig{}) {
		cfg.Backoff = queue.DefaultBackoff
	}
	return &Worker{
		cfg:     cfg,
		spool:   sp,
		queue:   queue.New(cfg.Backoff),
		cleanup: cleanup.New(logger, cfg.MaxCleanupTry),
		log:     logger,
		sem:     make(chan struct{}, MaxParallelDeliveries),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Queue exposes the Delivery Queue for the control surface.
func (w *Worker) Queue() *queue.Queue { return w.queue }

// Cleanup exposes the retry-pending-deletion queue for the control surface.
func (w *Worker) Cleanup() *cleanup.Queue { return w.cleanup }

// Run blocks, driving the scan/process/cleanup timers until Stop is
// called or ctx is cancelled. Intended to be launched in its own
// goroutine by the embedding application.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.stopped)

	scanTick := time.NewTicker(ScanInterval)
	processTick := time.NewTicker(ProcessInterval)
	cleanupTick := time.NewTicker(CleanupInterval)
	defer scanTick.Stop()
	defer processTick.Stop()
	defer cleanupTick.Stop()

	w.scan(ctx)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return
		case <-w.stop:
			w.wg.Wait()
			return
		case <-scanTick.C:
			w.scan(ctx)
		case <-processTick.C:
			w.processEligible(ctx)
		case <-cleanupTick.C:
			w.runCleanup(ctx)
		}
	}
}

// Stop requests the Run loop to exit. It does not itself wait for
// in-flight deliveries; callers needing that should select on the
// channel returned by Stopped after calling Stop.
func (w *Worker) Stop() {
	close(w.stop)
}

// Stopped returns a channel closed once Run has returned.
func (w *Worker) Stopped() <-chan struct{} {
	return w.stopped
}

// Sending reports whether any delivery attempt is currently in
// flight. The control surface's status response reports it.
func (w *Worker) Sending() bool {
	w.sendingMu.Lock()
	defer w.sendingMu.Unlock()
	return w.sending > 0
}

func (w *Worker) markSending(delta int) {
	w.sendingMu.Lock()
	w.sending += delta
	w.sendingMu.Unlock()
}

// scan reconciles the Spool's on-disk entries against the in-memory
// Delivery Queue: any id present in the Spool but untracked by the
// Queue is registered as a fresh Pending entry. The Spool does not
// store delivery progress (see the record type in internal/spool), so
// nothing is rehydrated.
func (w *Worker) scan(ctx context.Context) {
	ids, err := w.spool.List()
	if err != nil {
		w.log.Error("worker: scanning spool", err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		if w.queue.Get(id) != nil {
			continue
		}
		msg, err := w.spool.Read(id)
		if err != nil {
			w.log.Error("worker: reading scanned message", err, "message_id", string(id))
			continue
		}
		w.queue.Put(&queue.Entry{
			ID:              id,
			RecipientDomain: domainOf(msg.Envelope.RcptTo),
			State:           message.NewDeliveryState(now),
		})
	}
}

// processEligible attempts delivery of every queue entry currently due
// for an attempt, bounded by the delivery semaphore.
func (w *Worker) processEligible(ctx context.Context) {
	now := time.Now()
	due := w.queue.Filter(func(e *queue.Entry) bool { return queue.Eligible(e, now) })
	for _, e := range due {
		e := e
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.deliverOne(ctx, e)
		}()
	}
}

// deliverOne drives one delivery attempt for e: resolving MX servers
// if not already cached, trying each candidate in order until one
// accepts or all are exhausted, and persisting the resulting state.
func (w *Worker) deliverOne(ctx context.Context, e *queue.Entry) {
	w.markSending(1)
	defer w.markSending(-1)

	now := time.Now()
	if w.queue.Expired(e, now) {
		queue.UpdateStatus(e, message.StatusExpired)
		w.finish(ctx, e)
		return
	}

	queue.UpdateStatus(e, message.StatusInProgress)

	msg, err := w.spool.Read(e.ID)
	if err != nil {
		w.log.Error("worker: reading message for delivery", err, "message_id", string(e.ID))
		return
	}

	if len(e.Servers) == 0 || anyExpired(e.Servers, now) {
		domain := domainOf(msg.Envelope.RcptTo)
		servers, err := resolveServers(ctx, w.cfg.Resolver, domain, "", now)
		if err != nil {
			queue.RecordAttempt(e, domain, now, err, false)
			w.scheduleRetry(e)
			w.persist(msg, e)
			return
		}
		e.Servers = servers
	}

	rel := newRelayer(w.cfg.Hostname, w.cfg.TLSPolicy)
	var last relayResult
	for _, server := range e.Servers {
		last = rel.relayTo(ctx, server, e.RecipientDomain, msg.Envelope.MailFrom, msg.Envelope.RcptTo, msg)
		if last.kind == outcomeDelivered {
			break
		}
		if last.kind == outcomeFailed {
			break
		}
		// outcomeRetry: fall through and try the next candidate server.
	}

	switch last.kind {
	case outcomeDelivered:
		queue.RecordAttempt(e, "", now, nil, false)
		w.spool.Delete(e.ID)
		w.queue.Remove(e.ID)
		return
	case outcomeFailed:
		queue.RecordAttempt(e, "", now, last.err, true)
		w.finish(ctx, e)
		return
	default:
		queue.RecordAttempt(e, "", now, last.err, false)
		w.scheduleRetry(e)
		w.persist(msg, e)
	}
}

// scheduleRetry computes and sets e's next eligible time from the
// backoff schedule.
func (w *Worker) scheduleRetry(e *queue.Entry) {
	attempt := e.State.Attempted()
	queue.SetNextRetryAt(e, time.Now().Add(w.queue.NextDelay(attempt)))
}

// finish hands a terminally-Failed or Expired entry off for removal;
// a Spool.Delete failure is handed to the Cleanup Queue instead of
// being retried on the delivery schedule.
func (w *Worker) finish(ctx context.Context, e *queue.Entry) {
	if err := w.spool.Delete(e.ID); err != nil {
		w.cleanup.Add(e.ID, time.Now())
	}
	w.queue.Remove(e.ID)
}

// persist rewrites the message's spooled metadata record. Delivery
// state is not part of that record, so attempt history and retry timing
// do not survive a restart.
func (w *Worker) persist(msg *message.Message, e *queue.Entry) {
	if err := w.spool.Update(msg); err != nil {
		w.log.Error("worker: persisting delivery state", err, "message_id", string(e.ID))
	}
}

// runCleanup retries Spool.Delete for every entry the Cleanup Queue
// reports as due, escalating to a critical log line once an entry
// exhausts its attempt budget (handled inside cleanup.Queue itself).
func (w *Worker) runCleanup(ctx context.Context) {
	now := time.Now()
	for _, id := range w.cleanup.Due(now) {
		if err := w.spool.Delete(id); err != nil {
			w.cleanup.RecordFailure(id, now, err)
			continue
		}
		w.cleanup.Succeed(id)
	}
}

func domainOf(rcpts []string) string {
	if len(rcpts) == 0 {
		return ""
	}
	at := strings.LastIndexByte(rcpts[0], '@')
	if at < 0 {
		return rcpts[0]
	}
	return rcpts[0][at+1:]
}

func anyExpired(servers []message.MailServer, now time.Time) bool {
	for _, s := range servers {
		if s.Expired(now) {
			return true
		}
	}
	return false
}


