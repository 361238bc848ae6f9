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

// Package message defines the data model shared by the session driver,
// spool and delivery worker: the Message a client submitted, the mutable
// Context it travels in during a session, and the DeliveryState the queue
// tracks once it owns the message.
package message

import (
	"fmt"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mtacore/mtacore/framework/buffer"
	"github.com/mtacore/mtacore/internal/msgid"
)

// SpooledMessageId is the string form of a Message's id, used wherever an
// id needs to cross a filesystem or wire boundary.
type SpooledMessageId string

// Envelope is the sender and ordered recipient list a message was
// submitted with. Duplicate recipients are preserved: the protocol layer
// does not deduplicate RCPT TO commands.
type Envelope struct {
	MailFrom string
	RcptTo   []string
}

// ReceptionMeta records the circumstances under which a Message was
// received, independent of its content. Peer is stored as its string
// form (e.g. "203.0.113.7:51324") rather than net.Addr: net.Addr is an
// interface over unexported concrete types, which does not round-trip
// through JSON — a problem the Spool's on-disk format would otherwise
// inherit.
type ReceptionMeta struct {
	Peer          string
	HeloDomain    string
	TLSVersion    uint16
	TLSCipher     uint16
	TLSServerName string
}

// Message is an accepted mail item: envelope plus opaque header/body
// content, addressed by a time-ordered id. Once persisted by the Spool,
// its Envelope and Body are immutable — plugins and the delivery worker
// may only append metadata alongside it, never rewrite its content.
type Message struct {
	ID SpooledMessageId

	Envelope Envelope
	Header   textproto.Header
	Body     buffer.Buffer

	ReceivedAt time.Time
	Reception  ReceptionMeta

	// Metadata is the persisted string->string bag plugins use to stash
	// derived facts (e.g. a spam score or an authentication result) that
	// must survive a restart. Distinct from Context.Metadata, which also
	// exists pre-persistence during the live session.
	Metadata map[string]string
}

// NewMessage allocates a Message with a freshly generated id and the
// given reception timestamp. The caller fills in Envelope, Header and
// Body before handing it to the Spool.
func NewMessage(receivedAt time.Time) (*Message, error) {
	id, err := msgid.NewAt(receivedAt)
	if err != nil {
		return nil, fmt.Errorf("message: generating id: %w", err)
	}
	return &Message{
		ID:         SpooledMessageId(id.String()),
		ReceivedAt: receivedAt,
		Metadata:   make(map[string]string),
	}, nil
}

// Validate checks the invariants that must hold before a Message can be
// persisted: a non-empty recipient list and a body within sizeLimit.
// sizeLimit <= 0 disables the size check (the SMTP FSM is expected to
// have already enforced the advertised SIZE during reception).
func (m *Message) Validate(sizeLimit int64) error {
	if len(m.Envelope.RcptTo) == 0 {
		return fmt.Errorf("message: envelope has no recipients")
	}
	if sizeLimit > 0 && m.Body != nil {
		if n := m.Body.Len(); int64(n) > sizeLimit {
			return fmt.Errorf("message: body size %d exceeds limit %d", n, sizeLimit)
		}
	}
	return nil
}


