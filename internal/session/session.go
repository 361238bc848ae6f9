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

// Package session is the Session Driver: it owns one accepted TCP
// connection end to end, running the wire reader/writer, the SMTP
// FSM, TLS upgrade and plugin dispatch, and handing the finished
// Message to the Spool on a successful final dot.
package session

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mtacore/mtacore/framework/buffer"
	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/message"
	"github.com/mtacore/mtacore/internal/plugin"
	"github.com/mtacore/mtacore/internal/smtpfsm"
	"github.com/mtacore/mtacore/internal/spool"
	"github.com/mtacore/mtacore/internal/tlsctx"
	"github.com/mtacore/mtacore/internal/wire"
)

// Timeouts, per SPEC_FULL.md §6.2.
const (
	CommandTimeout         = 300 * time.Second
	DataInitTimeout        = 120 * time.Second
	DataBlockTimeout       = 180 * time.Second
	DataTerminationTimeout = 600 * time.Second
	ConnectionTimeout      = 1800 * time.Second
)

// Config parameterizes a Driver.
type Config struct {
	FSM       smtpfsm.Config
	TLSLoader tlsctx.Loader
	Spool     *spool.Spool
	Registry  *plugin.Registry
	Log       log.Logger
	PeerAddr  string
}

// Driver runs one SMTP session on an accepted connection to
// completion: command loop, DATA collection, STARTTLS upgrade, plugin
// dispatch before STARTTLS, after MAIL FROM, after each RCPT TO and
// after the final dot, and spool handoff. No plugin hook is dispatched
// at connect time.
type Driver struct {
	cfg  Config
	conn *wire.Conn
	fsm  *smtpfsm.Session
	st   smtpfsm.State

	connectedAt time.Time
}

// New wraps conn and prepares a fresh session in the Connect state.
func New(cfg Config, conn *wire.Conn) *Driver {
	return &Driver{
		cfg:  cfg,
		conn: conn,
		fsm:  &smtpfsm.Session{Cfg: cfg.FSM},
		st:   smtpfsm.Connect,
	}
}

// Serve runs the command loop until the peer quits, a fatal I/O error
// occurs, or the connection-wide deadline is exceeded. It always
// broadcasts ConnectionOpened/ConnectionClosed around the loop, even
// on an abrupt failure.
func (d *Driver) Serve() {
	d.connectedAt = time.Now()
	ctx := message.NewContext()

	if d.cfg.Registry != nil {
		d.cfg.Registry.Broadcast(plugin.EventConnectionOpened, ctx)
		defer d.cfg.Registry.Broadcast(plugin.EventConnectionClosed, ctx)
	}

	defer d.conn.Close()

	d.reply(220, fmt.Sprintf("%s ESMTP", d.cfg.FSM.Hostname))
	d.st = smtpfsm.Greeted

	for {
		if time.Since(d.connectedAt) > ConnectionTimeout {
			d.reply(421, "connection timeout exceeded")
			return
		}

		line, err := d.conn.ReadLine(time.Now().Add(CommandTimeout))
		if err != nil {
			return
		}

		next, r, event := smtpfsm.Step(d.st, line, d.fsm)

		if event == smtpfsm.EventStartTLS {
			if !d.runPluginHook(plugin.HookStartTLS, ctx) {
				d.writeRejection(ctx)
				continue
			}
			d.conn.WriteReply(d.deadline(), wire.Reply{Code: r.Code, Text: r.Text})
			if !d.upgradeTLS() {
				return
			}
			d.st = smtpfsm.ResetAfterStartTLS(d.fsm)
			continue
		}

		d.st = next

		switch event {
		case smtpfsm.EventMailFrom:
			ctx.Metadata["mail_from"] = d.fsm.MailFromAddr
			if !d.runPluginHook(plugin.HookMailFrom, ctx) {
				d.writeRejectionAndReset(ctx)
				continue
			}
		case smtpfsm.EventRcptTo:
			if !d.runPluginHook(plugin.HookRcptTo, ctx) {
				d.writeRejectionAndReset(ctx)
				continue
			}
		}

		out := wire.Reply{Code: r.Code, Text: r.Text}
		if o := ctx.TakeReply(); o != nil {
			out = wire.Reply{Code: o.Code, Text: []string{o.Message}}
		}
		d.conn.WriteReply(d.deadline(), out)

		switch event {
		case smtpfsm.EventDataStart:
			if !d.collectData(ctx) {
				return
			}
		case smtpfsm.EventQuit:
			return
		}
	}
}

func (d *Driver) deadline() time.Time {
	return time.Now().Add(CommandTimeout)
}

func (d *Driver) reply(code int, text string) {
	d.conn.WriteReply(d.deadline(), wire.Reply{Code: code, Text: []string{text}})
}

// runPluginHook dispatches hook against ctx and returns whether the
// session may proceed (true) or must be rejected (false).
func (d *Driver) runPluginHook(hook plugin.HookPoint, ctx *message.Context) bool {
	if d.cfg.Registry == nil {
		return true
	}
	accepted, _ := d.cfg.Registry.Dispatch(hook, ctx)
	return accepted
}

// writeRejection sends the plugin's response override, or a generic
// 550.
func (d *Driver) writeRejection(ctx *message.Context) {
	r := ctx.TakeReply()
	if r == nil {
		d.reply(550, "rejected by policy")
		return
	}
	d.reply(r.Code, r.Message)
}

// writeRejectionAndReset sends the rejection response and resets the
// transaction to Ready, per SPEC_FULL.md §6.2's "reset to Greeted"
// rule (Ready being this implementation's name for that state, see
// internal/smtpfsm's DESIGN.md entry on the Greeted/Ready ambiguity).
func (d *Driver) writeRejectionAndReset(ctx *message.Context) {
	d.writeRejection(ctx)
	d.st = smtpfsm.ResetTransaction(d.fsm)
}

// upgradeTLS performs the STARTTLS handshake in place over the
// session's wire.Conn. The 220 go-ahead reply has already been sent
// by the caller.
func (d *Driver) upgradeTLS() bool {
	if d.cfg.TLSLoader == nil {
		return false
	}
	cfg, err := d.cfg.TLSLoader.ConfigureTLS()
	if err != nil {
		return false
	}
	tlsConn, err := tlsctx.Upgrade(context.Background(), d.conn.Conn(), cfg)
	if err != nil {
		return false
	}
	d.conn.Upgrade(tlsConn)
	return true
}

// collectData reads the DATA block, dispatches the pre-spool plugin
// hook, and on acceptance finalizes and spools the message. It returns
// false if the connection should be torn down (I/O error, timeout).
func (d *Driver) collectData(ctx *message.Context) bool {
	raw, err := d.conn.ReadDotBytes(time.Now().Add(DataBlockTimeout), int64(d.cfg.FSM.MaxMessageSize))
	if err != nil {
		if errors.Is(err, wire.ErrSizeExceeded) {
			var r smtpfsm.Reply
			d.st, r = smtpfsm.Oversize(d.fsm)
			d.conn.WriteReply(time.Now().Add(DataTerminationTimeout), wire.Reply{Code: r.Code, Text: r.Text})
			return true
		}
		d.st = smtpfsm.CompleteData(d.fsm)
		return false
	}

	msg, err := message.NewMessage(time.Now())
	if err != nil {
		d.reply(451, "internal error")
		d.st = smtpfsm.CompleteData(d.fsm)
		return true
	}
	msg.Envelope = message.Envelope{MailFrom: d.fsm.MailFromAddr, RcptTo: append([]string(nil), d.fsm.RcptToAddrs...)}
	msg.Reception = message.ReceptionMeta{
		Peer:       d.cfg.PeerAddr,
		HeloDomain: d.fsm.EhloName,
	}

	header, body, err := splitHeaderBody(raw)
	if err != nil {
		d.reply(451, "malformed message header")
		d.st = smtpfsm.CompleteData(d.fsm)
		return true
	}
	msg.Header = header
	msg.Body = body

	ctx.Finalize(msg)

	if !d.runPluginHook(plugin.HookData, ctx) {
		d.writeRejection(ctx)
		d.st = smtpfsm.CompleteData(d.fsm)
		return true
	}

	if err := msg.Validate(int64(d.cfg.FSM.MaxMessageSize)); err != nil {
		var r smtpfsm.Reply
		d.st, r = smtpfsm.Oversize(d.fsm)
		d.conn.WriteReply(time.Now().Add(DataTerminationTimeout), wire.Reply{Code: r.Code, Text: r.Text})
		return true
	}

	id, err := d.cfg.Spool.Persist(msg)
	if err != nil {
		d.cfg.Log.Error("session: spooling message", err, "peer", d.cfg.PeerAddr)
		d.reply(451, "could not spool message")
		d.st = smtpfsm.ResetTransaction(d.fsm)
		return true
	}

	d.conn.WriteReply(time.Now().Add(DataTerminationTimeout), wire.Reply{Code: 250, Text: []string{fmt.Sprintf("OK %s", id)}})
	d.st = smtpfsm.CompleteData(d.fsm)
	return true
}

// splitHeaderBody parses the leading RFC 5322 header off raw and
// returns the remaining bytes as the message body.
func splitHeaderBody(raw []byte) (textproto.Header, buffer.Buffer, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	rest, err := io.ReadAll(br)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	return header, buffer.MemoryBuffer{Slice: rest}, nil
}


