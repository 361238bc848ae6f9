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

package smtpfsm

import "fmt"

// Reply is the status line(s) a Step produced. Multi-line replies share
// one code, rendered by the caller as "code-text" continuation lines
// followed by a final "code text" line.
type Reply struct {
	Code int
	Text []string
}

func reply(code int, text string) Reply { return Reply{Code: code, Text: []string{text}} }

// Event classifies what a successful command means to the session
// driver, mainly so it knows when to dispatch plugins and when to
// expect a DATA block to follow.
type Event int

const (
	EventNone Event = iota
	EventGreet
	EventEhlo
	EventStartTLS
	EventMailFrom
	EventRcptTo
	EventDataStart // DATA accepted (354 sent); driver should now read the dot-terminated block
	EventQuit
)

// Config is the static, per-listener configuration Step consults to
// render EHLO/HELO replies and decide whether STARTTLS is offered.
type Config struct {
	Hostname       string
	SoftwareName   string
	Extensions     []string // static EHLO lines, in configured order, e.g. "8BITMIME", "PIPELINING"
	MaxMessageSize int64    // 0 disables the SIZE extension
	TLSAvailable   bool
}

// Session is the FSM's per-connection runtime state: the envelope
// accumulated so far, whether TLS is active, and misbehavior counters.
// It is distinct from message.Context, which is the persisted data
// model — Session holds protocol bookkeeping the FSM needs that never
// outlives the connection.
type Session struct {
	Cfg Config

	EhloName  string
	TLSActive bool

	MailFromAddr   string
	MailFromParams string
	RcptToAddrs    []string

	BadCmdCount int
}

// resetTransaction drops MAIL FROM/RCPT TO state, returning the session
// to the point right after a successful EHLO/HELO.
func (s *Session) resetTransaction() {
	s.MailFromAddr = ""
	s.MailFromParams = ""
	s.RcptToAddrs = nil
}

// Step parses line and advances state, returning the new state, the
// reply to send, and the Event the session driver should act on.
func Step(state State, line string, s *Session) (State, Reply, Event) {
	cmd, err := ParseCommand(line)
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.UnknownVerb {
			return state, reply(500, "Unrecognized command"), EventNone
		}
		return state, reply(501, "Syntax error: "+err.Error()), EventNone
	}

	if !stateAllowed(cmd.Verb, state) {
		return state, reply(503, "Command out of sequence"), EventNone
	}

	switch cmd.Verb {
	case HELO:
		s.EhloName = cmd.Arg
		s.resetTransaction()
		return Ready, reply(250, fmt.Sprintf("%s Hello", s.Cfg.Hostname)), EventEhlo

	case EHLO:
		s.EhloName = cmd.Arg
		s.resetTransaction()
		return Ready, s.ehloReply(), EventEhlo

	case STARTTLS:
		if !s.Cfg.TLSAvailable || s.TLSActive {
			return state, reply(502, "Command not implemented"), EventNone
		}
		return state, reply(220, "Ready to start TLS"), EventStartTLS

	case MAILFROM:
		s.MailFromAddr = cmd.Arg
		s.MailFromParams = cmd.Params
		return MailFrom, reply(250, "OK"), EventMailFrom

	case RCPTTO:
		if cmd.Arg == "" {
			return state, reply(553, "Recipient address required"), EventNone
		}
		s.RcptToAddrs = append(s.RcptToAddrs, cmd.Arg)
		return RcptTo, reply(250, "OK"), EventRcptTo

	case DATA:
		return Data, reply(354, "Start mail input; end with <CRLF>.<CRLF>"), EventDataStart

	case RSET:
		s.resetTransaction()
		next := state
		if next == MailFrom || next == RcptTo || next == Data {
			next = Ready
		}
		return next, reply(250, "OK"), EventNone

	case QUIT:
		return Quit, reply(221, fmt.Sprintf("%s closing connection", s.Cfg.Hostname)), EventQuit

	case NOOP:
		return state, reply(250, "OK"), EventNone

	case HELP:
		return state, reply(214, "See RFC 5321"), EventNone

	case VRFY:
		return state, reply(252, "Cannot verify user, but will accept message"), EventNone

	default:
		return state, reply(500, "Unrecognized command"), EventNone
	}
}

// CompleteData is called by the session driver after a dot-terminated
// block has been read and (if accepted) handed off to the spool. ok
// true returns the session to Ready for the next MAIL FROM; false (a
// spool failure) does the same, since the RFC treats the transaction as
// over either way once a final reply has been sent for DATA.
func CompleteData(s *Session) State {
	s.resetTransaction()
	return Ready
}

// Oversize is called by the session driver when the dot-terminated
// block read for DATA exceeds the advertised SIZE. It returns the 552
// reply and the state to resume in, which is the same post-EHLO ready
// state a normal PostDot reaches (see DESIGN.md for why this package
// treats the base spec's "reset to Greeted" as that state rather than
// the pre-EHLO one: requiring a fresh EHLO after every message would
// break multi-message connections, and the spec states the "must
// re-EHLO" rule explicitly and only for STARTTLS).
func Oversize(s *Session) (State, Reply) {
	s.resetTransaction()
	return Ready, reply(552, "Message size exceeds fixed maximum message size")
}

// ResetAfterStartTLS is called once a STARTTLS handshake completes. Per
// RFC 3207, all prior envelope and identity state is discarded and the
// client must re-issue EHLO.
func ResetAfterStartTLS(s *Session) State {
	s.EhloName = ""
	s.TLSActive = true
	s.resetTransaction()
	return Greeted
}

// ResetTransaction discards MAIL FROM/RCPT TO state and returns the
// session to Ready. Exposed for the session driver to call after a
// plugin veto mid-transaction, the same outcome CompleteData reaches
// after a normal or rejected DATA block.
func ResetTransaction(s *Session) State {
	s.resetTransaction()
	return Ready
}

func (s *Session) ehloReply() Reply {
	lines := []string{fmt.Sprintf("%s Hello %s", s.Cfg.Hostname, s.EhloName)}
	lines = append(lines, s.Cfg.Extensions...)
	if s.Cfg.MaxMessageSize > 0 {
		lines = append(lines, fmt.Sprintf("SIZE %d", s.Cfg.MaxMessageSize))
	}
	if s.Cfg.TLSAvailable && !s.TLSActive {
		lines = append(lines, "STARTTLS")
	}
	lines = append(lines, "HELP")
	return Reply{Code: 250, Text: lines}
}


