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

import "time"

// MailServer is one candidate relay target for a domain, as resolved
// from MX records (or a DomainConfig override) and cached by the
// delivery worker's resolver.
type MailServer struct {
	Host     string
	Port     int
	Priority uint16

	// CacheExpiresAt is when this entry should be dropped and MX
	// resolution redone, bounding how long a worker will keep retrying a
	// host that DNS has since withdrawn.
	CacheExpiresAt time.Time
}

// Expired reports whether the cached entry is stale as of now.
func (ms MailServer) Expired(now time.Time) bool {
	return !ms.CacheExpiresAt.IsZero() && now.After(ms.CacheExpiresAt)
}

// DomainConfig is the per-recipient-domain policy override consulted
// before the normal MX lookup and TLS laxity defaults are applied.
type DomainConfig struct {
	// MXOverride, if set as "host:port", replaces MX resolution entirely
	// for this domain.
	MXOverride string

	// TLSLax permits delivery to continue over an unauthenticated or
	// unencrypted connection if the remote does not support STARTTLS,
	// rather than deferring the message.
	TLSLax bool
}


