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

// Package tlsctx supplies the *tls.Config the Session Driver upgrades a
// connection with on STARTTLS, and the laxity policy the Delivery
// Worker consults when connecting outbound to a remote MX.
package tlsctx

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/mtacore/mtacore/internal/message"
)

// Loader supplies the server-side TLS configuration for a listener. It
// is called once at listener startup rather than per connection: unlike
// the teacher's TLSLoader (invoked per-connection to allow live
// certificate reload), this package expects the embedder to reload by
// re-registering a new Loader result, matching the base spec's static
// "TLS materials" configuration surface.
type Loader interface {
	ConfigureTLS() (*tls.Config, error)
}

// StaticLoader wraps an already-built *tls.Config.
type StaticLoader struct {
	Config *tls.Config
}

func (l StaticLoader) ConfigureTLS() (*tls.Config, error) {
	if l.Config == nil {
		return nil, fmt.Errorf("tlsctx: no TLS configuration supplied")
	}
	return l.Config, nil
}

// Upgrade performs the server-side STARTTLS handshake over conn using
// cfg, returning the resulting *tls.Conn on success. The caller is
// expected to have already sent "220 Ready to start TLS" and applied
// the TLS setup deadline to conn before calling.
func Upgrade(ctx context.Context, conn net.Conn, cfg *tls.Config) (*tls.Conn, error) {
	tlsConn := tls.Server(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tlsctx: handshake: %w", err)
	}
	return tlsConn, nil
}

// OutboundPolicy decides the minimum acceptable TLS outcome for an
// outbound connection to a recipient domain's MX: strict by default,
// relaxed to allow plaintext/unauthenticated fallback only when the
// global laxity toggle or a DomainConfig override permits it for that
// specific domain.
type OutboundPolicy struct {
	// GlobalLax, if true, permits plaintext/unauthenticated fallback for
	// any domain lacking a more specific DomainConfig entry.
	GlobalLax bool

	// PerDomain overrides GlobalLax for specific recipient domains. A
	// domain present here always wins over GlobalLax.
	PerDomain map[string]message.DomainConfig
}

// AllowsFallback reports whether plaintext/unauthenticated delivery may
// proceed for domain after STARTTLS was unavailable or failed. The
// per-domain override, when present, always wins over the global
// toggle — this is the "two-tier... per-domain override wins" rule
// SPEC_FULL.md §6.6 specifies.
func (p OutboundPolicy) AllowsFallback(domain string) bool {
	if dc, ok := p.PerDomain[domain]; ok {
		return dc.TLSLax
	}
	return p.GlobalLax
}


