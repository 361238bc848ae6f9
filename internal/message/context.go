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

package message

// Reply is a plugin-settable override of the SMTP status line the
// session driver would otherwise send for the current command. A nil
// Reply means "use the FSM's default reply".
type Reply struct {
	Code         int
	EnhancedCode [3]int
	Message      string
}

// Context is the mutable state a message carries through a single SMTP
// session: the Message under construction, a metadata bag plugins can
// read and write before it is persisted, a response register plugins use
// to override the next reply, and — once delivery has started — the
// DeliveryState the queue is tracking for it.
//
// A Context is owned by one session goroutine at a time and is not
// itself safe for concurrent use.
type Context struct {
	Msg *Message

	// Metadata mirrors Message.Metadata but is writable before the
	// message exists (e.g. set during MAIL FROM/RCPT TO processing,
	// merged into Msg.Metadata once Msg is allocated at DATA).
	Metadata map[string]string

	// Reply, if non-nil, is sent instead of the FSM's default reply for
	// the command currently being processed. Cleared after each command.
	Reply *Reply

	Delivery *DeliveryState
}

// NewContext returns an empty Context ready to accumulate envelope state
// before a Message exists.
func NewContext() *Context {
	return &Context{
		Metadata: make(map[string]string),
	}
}

// SetReply installs a reply override for the command currently being
// processed.
func (c *Context) SetReply(code int, enhanced [3]int, msg string) {
	c.Reply = &Reply{Code: code, EnhancedCode: enhanced, Message: msg}
}

// TakeReply returns and clears any pending reply override.
func (c *Context) TakeReply() *Reply {
	r := c.Reply
	c.Reply = nil
	return r
}

// Finalize merges the session-accumulated metadata bag into msg and
// attaches it to the Context, ready to be handed to the Spool.
func (c *Context) Finalize(msg *Message) {
	for k, v := range c.Metadata {
		msg.Metadata[k] = v
	}
	c.Msg = msg
}


