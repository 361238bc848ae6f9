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

// Package control is the operator-facing control surface: a versioned
// request/response envelope the embedding application can drive
// directly (no network listener of its own — the embedder decides
// whether to expose it over a unix socket, an admin HTTP route, or a
// CLI) for inspecting and nudging the Delivery Queue, its cached MX
// data, and overall system status.
package control

import (
	"fmt"
	"time"

	"github.com/mtacore/mtacore/internal/cleanup"
	"github.com/mtacore/mtacore/internal/message"
	"github.com/mtacore/mtacore/internal/queue"
	"github.com/mtacore/mtacore/internal/spool"
)

// ProtocolVersion is the current control envelope version. A Request
// carrying a different value is rejected outright so an embedder never
// silently misinterprets a command added or changed in a later release.
const ProtocolVersion = 1

// Command names. Grouped by the module they address.
const (
	CommandQueueList     = "queue.list"
	CommandQueueView     = "queue.view"
	CommandQueueRetry    = "queue.retry"
	CommandQueueDelete   = "queue.delete"
	CommandQueueStats    = "queue.stats"
	CommandDNSCacheList  = "dns_cache.list"
	CommandDNSCacheClear = "dns_cache.clear"
	CommandSystemStatus  = "system.status"
)

// Request is one control command invocation.
type Request struct {
	Version   int    `json:"version"`
	Command   string `json:"command"`
	MessageID string `json:"message_id,omitempty"`
}

// Response is the result of handling a Request. Exactly one of the
// data fields is populated on success, matching which Command was sent.
type Response struct {
	Version int    `json:"version"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`

	Queue    []QueueEntryView `json:"queue,omitempty"`
	DNSCache []DNSCacheView   `json:"dns_cache,omitempty"`
	Stats    *QueueStats      `json:"stats,omitempty"`
	Status   *SystemStatus    `json:"status,omitempty"`
}

// QueueEntryView is the read-only projection of a queue.Entry exposed
// to operators: enough to triage a stuck message without handing out
// the live *message.DeliveryState to mutate.
type QueueEntryView struct {
	ID              message.SpooledMessageId `json:"id"`
	RecipientDomain string                   `json:"recipient_domain"`
	Status          string                   `json:"status"`
	Attempts        []message.AttemptRecord  `json:"attempts,omitempty"`
	QueuedAt        time.Time                `json:"queued_at"`
	NextRetryAt     time.Time                `json:"next_retry_at,omitempty"`
	LastError       string                   `json:"last_error,omitempty"`
}

// DNSCacheView reports the MX candidates currently cached against one
// queue entry (the cache is per-entry, stamped at resolution time — see
// internal/worker's mx.go — not a single domain-wide table).
type DNSCacheView struct {
	MessageID message.SpooledMessageId `json:"message_id"`
	Domain    string                   `json:"domain"`
	Servers   []message.MailServer     `json:"servers"`
}

// QueueStats summarizes the Delivery Queue by status.
type QueueStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Retry      int `json:"retry"`
	Failed     int `json:"failed"`
	Delivered  int `json:"delivered"`
	Expired    int `json:"expired"`
}

// Worker is the subset of *internal/worker.Worker system.status needs.
type Worker interface {
	Sending() bool
}

// SystemStatus reports overall liveness.
type SystemStatus struct {
	QueueLen   int           `json:"queue_len"`
	CleanupLen int           `json:"cleanup_len"`
	Sending    bool          `json:"sending"`
	Uptime     time.Duration `json:"uptime"`
}

// Handler dispatches Requests against the live Delivery Queue, Spool
// and Cleanup Queue.
type Handler struct {
	Queue     *queue.Queue
	Spool     *spool.Spool
	Cleanup   *cleanup.Queue
	Worker    Worker
	StartedAt time.Time
}

// Handle processes req and returns a Response. It never panics on a
// malformed or unknown Request; everything is reported through the
// Error field.
func (h *Handler) Handle(req Request) Response {
	if req.Version != ProtocolVersion {
		return errResponse(fmt.Errorf("unsupported protocol version %d (server speaks %d)", req.Version, ProtocolVersion))
	}

	switch req.Command {
	case CommandQueueList:
		return h.queueList()
	case CommandQueueView:
		return h.queueView(req.MessageID)
	case CommandQueueRetry:
		return h.queueRetry(req.MessageID)
	case CommandQueueDelete:
		return h.queueDelete(req.MessageID)
	case CommandQueueStats:
		return h.queueStats()
	case CommandDNSCacheList:
		return h.dnsCacheList()
	case CommandDNSCacheClear:
		return h.dnsCacheClear()
	case CommandSystemStatus:
		return h.systemStatus()
	default:
		return errResponse(fmt.Errorf("unknown command %q", req.Command))
	}
}

func (h *Handler) queueList() Response {
	entries := h.Queue.List()
	views := make([]QueueEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView(e))
	}
	return Response{Version: ProtocolVersion, OK: true, Queue: views}
}

func (h *Handler) queueView(id string) Response {
	e := h.Queue.Get(message.SpooledMessageId(id))
	if e == nil {
		return errResponse(fmt.Errorf("no queue entry with id %q", id))
	}
	return Response{Version: ProtocolVersion, OK: true, Queue: []QueueEntryView{entryView(e)}}
}

// queueRetry resets id to Pending and clears its scheduling and MX-walk
// state, per SPEC_FULL.md §8: next_retry_at and current_server_index
// are cleared so the next scan/process cycle re-resolves MX and
// attempts delivery immediately rather than waiting out the backoff the
// message had accumulated.
func (h *Handler) queueRetry(id string) Response {
	e := h.Queue.Get(message.SpooledMessageId(id))
	if e == nil {
		return errResponse(fmt.Errorf("no queue entry with id %q", id))
	}
	queue.UpdateStatus(e, message.StatusPending)
	queue.SetNextRetryAt(e, time.Time{})
	e.State.CurrentServerIndex = 0
	e.Servers = nil
	return Response{Version: ProtocolVersion, OK: true, Queue: []QueueEntryView{entryView(e)}}
}

// queueDelete removes id from the Delivery Queue and requests its
// removal from the Spool, per SPEC_FULL.md §8.
func (h *Handler) queueDelete(id string) Response {
	mid := message.SpooledMessageId(id)
	if h.Queue.Get(mid) == nil {
		return errResponse(fmt.Errorf("no queue entry with id %q", id))
	}
	if err := h.Spool.Delete(mid); err != nil {
		return errResponse(fmt.Errorf("deleting spooled message: %w", err))
	}
	h.Queue.Remove(mid)
	return Response{Version: ProtocolVersion, OK: true}
}

func (h *Handler) queueStats() Response {
	stats := &QueueStats{}
	for _, e := range h.Queue.List() {
		stats.Total++
		switch e.State.Status {
		case message.StatusPending:
			stats.Pending++
		case message.StatusInProgress:
			stats.InProgress++
		case message.StatusRetry:
			stats.Retry++
		case message.StatusFailed:
			stats.Failed++
		case message.StatusDelivered:
			stats.Delivered++
		case message.StatusExpired:
			stats.Expired++
		}
	}
	return Response{Version: ProtocolVersion, OK: true, Stats: stats}
}

func (h *Handler) dnsCacheList() Response {
	var views []DNSCacheView
	for _, e := range h.Queue.List() {
		if len(e.Servers) == 0 {
			continue
		}
		views = append(views, DNSCacheView{
			MessageID: e.ID,
			Domain:    e.RecipientDomain,
			Servers:   e.Servers,
		})
	}
	return Response{Version: ProtocolVersion, OK: true, DNSCache: views}
}

// dnsCacheClear drops every entry's cached MX candidates, forcing a
// fresh resolveServers call the next time each message is attempted.
func (h *Handler) dnsCacheClear() Response {
	for _, e := range h.Queue.List() {
		e.Servers = nil
	}
	return Response{Version: ProtocolVersion, OK: true}
}

func (h *Handler) systemStatus() Response {
	status := &SystemStatus{
		QueueLen:   h.Queue.Len(),
		CleanupLen: h.Cleanup.Len(),
	}
	if h.Worker != nil {
		status.Sending = h.Worker.Sending()
	}
	if !h.StartedAt.IsZero() {
		status.Uptime = time.Since(h.StartedAt)
	}
	return Response{Version: ProtocolVersion, OK: true, Status: status}
}

func entryView(e *queue.Entry) QueueEntryView {
	v := QueueEntryView{
		ID:              e.ID,
		RecipientDomain: e.RecipientDomain,
		Status:          e.State.Status.String(),
		Attempts:        e.State.Attempts,
		QueuedAt:        e.State.QueuedAt,
		NextRetryAt:     e.State.NextRetryAt,
	}
	if e.State.LastError != nil {
		v.LastError = e.State.LastError.Error()
	}
	return v
}

func errResponse(err error) Response {
	return Response{Version: ProtocolVersion, OK: false, Error: err.Error()}
}


