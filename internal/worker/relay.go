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

package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"

	"github.com/mtacore/mtacore/internal/message"
	"github.com/mtacore/mtacore/internal/tlsctx"
)

// outcomeKind classifies how a relay attempt ended, driving the
// DeliveryState transition the caller applies.
type outcomeKind int

const (
	outcomeDelivered outcomeKind = iota
	outcomeRetry
	outcomeFailed
)

// relayResult is what one relayTo attempt produced.
type relayResult struct {
	kind outcomeKind
	err  error
}

// relayer performs the SMTP client transaction against one candidate
// MX host: connect, EHLO, opportunistic STARTTLS, MAIL FROM, RCPT TO
// per recipient, DATA, advisory QUIT. It intentionally handles one
// server per call — trying the next MX candidate on failure is the
// caller's (Worker.deliverOne's) responsibility, so a transient error
// against server N does not need to unwind this function's state.
type relayer struct {
	Hostname       string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	DataTimeout    time.Duration
	Dialer         func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSPolicy      tlsctx.OutboundPolicy
}

func newRelayer(hostname string, policy tlsctx.OutboundPolicy) *relayer {
	return &relayer{
		Hostname:       hostname,
		ConnectTimeout: 30 * time.Second,
		CommandTimeout: 5 * time.Minute,
		DataTimeout:    12 * time.Minute,
		Dialer:         (&net.Dialer{}).DialContext,
		TLSPolicy:      policy,
	}
}

// relayTo attempts delivery of msg to every recipient in rcpts through
// server, returning a single result for the whole recipient batch —
// SPEC_FULL.md's worker does not track per-recipient partial success
// within one server attempt; a rejected recipient fails the batch, to
// be retried (or bounced) as a unit like the rest of the message.
func (r *relayer) relayTo(ctx context.Context, server message.MailServer, domain string, from string, rcpts []string, msg *message.Message) relayResult {
	addr := net.JoinHostPort(server.Host, fmt.Sprintf("%d", portOrDefault(server.Port)))

	dialCtx, cancel := context.WithTimeout(ctx, r.ConnectTimeout)
	conn, err := r.Dialer(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: dial %s: %w", addr, err)}
	}

	cl, err := smtp.NewClient(conn, server.Host)
	if err != nil {
		conn.Close()
		return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: smtp handshake with %s: %w", addr, err)}
	}
	cl.CommandTimeout = r.CommandTimeout
	cl.SubmissionTimeout = r.DataTimeout
	defer func() {
		_ = cl.Quit()
	}()

	if err := cl.Hello(r.Hostname); err != nil {
		return relayResult{kind: classifyErr(err), err: fmt.Errorf("relay: EHLO to %s: %w", server.Host, err)}
	}

	if ok, _ := cl.Extension("STARTTLS"); ok {
		cfg := &tls.Config{ServerName: server.Host}
		if err := cl.StartTLS(cfg); err != nil {
			if !r.TLSPolicy.AllowsFallback(domain) {
				return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: STARTTLS to %s failed and fallback is disallowed: %w", server.Host, err)}
			}
			// Even when policy allows fallback, this attempt ends as a
			// retry: the connection state after a failed handshake is
			// unreliable. relayTo issues STARTTLS whenever the server
			// offers it, so a later attempt does not switch to plaintext.
			return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: STARTTLS to %s failed, will retry: %w", server.Host, err)}
		}
	}

	if err := cl.Mail(from, nil); err != nil {
		return relayResult{kind: classifyErr(err), err: fmt.Errorf("relay: MAIL FROM to %s: %w", server.Host, err)}
	}
	for _, rcpt := range rcpts {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return relayResult{kind: classifyErr(err), err: fmt.Errorf("relay: RCPT TO %s on %s: %w", rcpt, server.Host, err)}
		}
	}

	wc, err := cl.Data()
	if err != nil {
		return relayResult{kind: classifyErr(err), err: fmt.Errorf("relay: DATA to %s: %w", server.Host, err)}
	}
	if err := textproto.WriteHeader(wc, msg.Header); err != nil {
		wc.Close()
		return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: writing header to %s: %w", server.Host, err)}
	}
	body, err := msg.Body.Open()
	if err != nil {
		wc.Close()
		return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: opening body: %w", err)}
	}
	_, copyErr := io.Copy(wc, body)
	body.Close()
	if copyErr != nil {
		wc.Close()
		return relayResult{kind: outcomeRetry, err: fmt.Errorf("relay: streaming body to %s: %w", server.Host, copyErr)}
	}
	if err := wc.Close(); err != nil {
		return relayResult{kind: classifyErr(err), err: fmt.Errorf("relay: final dot to %s: %w", server.Host, err)}
	}

	return relayResult{kind: outcomeDelivered}
}

func portOrDefault(p int) int {
	if p == 0 {
		return 25
	}
	return p
}

// classifyErr maps a go-smtp/network error to a delivery outcome: 5xx
// SMTP replies are permanent failures, 4xx and connection-level errors
// (timeouts, resets, DNS hiccups) are transient and eligible for retry.
func classifyErr(err error) outcomeKind {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		if smtpErr.Code >= 500 {
			return outcomeFailed
		}
		return outcomeRetry
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return outcomeRetry
	}
	return outcomeRetry
}


