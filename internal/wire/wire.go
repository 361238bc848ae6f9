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

// Package wire handles the line-level mechanics of the SMTP wire format:
// reading one CRLF-terminated command line at a time under a length
// bound and a deadline, reading a dot-terminated DATA block with
// dot-stuffing removed, and writing replies. It knows nothing about
// SMTP verbs or session state — that is internal/smtpfsm's job.
package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"time"
)

// ErrSizeExceeded is returned (wrapped) by ReadLine/ReadDotBytes when
// the peer's data exceeds the bound the caller passed in, as distinct
// from an underlying I/O failure — the session driver replies with a
// protocol-level rejection rather than tearing down the connection.
var ErrSizeExceeded = errors.New("wire: size limit exceeded")

// Conn wraps a net.Conn with the buffered, length-bounded reader the
// SMTP FSM drives. Replacing the underlying net.Conn (via Upgrade) lets
// a STARTTLS handshake swap in a *tls.Conn; the bound *bufio.Reader is
// rebuilt fresh each time, so bytes buffered before the swap are
// discarded.
type Conn struct {
	conn net.Conn
	lr   *io.LimitedReader
	rdr  *textproto.Reader
}

// MaxCommandLine is the length bound placed on a single command line.
// Deliberately generous relative to the RFC 5321 512-octet minimum so
// that well-behaved-but-verbose ESMTP parameters are not rejected.
const MaxCommandLine = 4096

// New wraps conn for line-oriented command reading.
func New(conn net.Conn) *Conn {
	c := &Conn{conn: conn}
	c.rebuild()
	return c
}

func (c *Conn) rebuild() {
	c.lr = &io.LimitedReader{R: c.conn, N: MaxCommandLine}
	c.rdr = textproto.NewReader(bufio.NewReader(c.lr))
}

// Upgrade replaces the underlying connection (e.g. with a *tls.Conn
// after a completed STARTTLS handshake) and rebuilds the buffered
// reader so no plaintext bytes buffered before the handshake leak into
// the encrypted session.
func (c *Conn) Upgrade(conn net.Conn) {
	c.conn = conn
	c.rebuild()
}

// Conn returns the current underlying connection.
func (c *Conn) Conn() net.Conn {
	return c.conn
}

// ReadLine reads one CRLF-terminated line, with its terminator
// stripped, under deadline. Returns an error if the deadline is
// exceeded, the connection closes, or the line exceeds MaxCommandLine.
func (c *Conn) ReadLine(deadline time.Time) (string, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return "", err
	}
	c.lr.N = MaxCommandLine
	line, err := c.rdr.ReadLine()
	if err != nil {
		return "", err
	}
	if c.lr.N == 0 {
		return "", fmt.Errorf("%w: command line exceeds %d bytes", ErrSizeExceeded, MaxCommandLine)
	}
	return line, nil
}

// ReadDotBytes reads a dot-terminated DATA block (RFC 5321 §4.5.2),
// removing byte-stuffing, under deadline and sizeLimit. Line endings
// are returned exactly as received. An error wrapping ErrSizeExceeded is
// returned if sizeLimit is exceeded before the terminating line is
// seen; the caller should reply 552 and reset rather than treat this
// as a connection-level failure.
func (c *Conn) ReadDotBytes(deadline time.Time, sizeLimit int64) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	c.lr.N = sizeLimit
	var b []byte
	for {
		line, err := c.rdr.R.ReadBytes('\n')
		if err != nil {
			if c.lr.N == 0 {
				return nil, fmt.Errorf("%w: message body exceeds %d bytes", ErrSizeExceeded, sizeLimit)
			}
			return nil, err
		}
		if s := string(line); s == ".\r\n" || s == ".\n" {
			return b, nil
		}
		if line[0] == '.' {
			line = line[1:]
		}
		b = append(b, line...)
	}
}

// WriteLine writes s followed by CRLF under deadline.
func (c *Conn) WriteLine(deadline time.Time, s string) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := io.WriteString(c.conn, s+"\r\n")
	return err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}


