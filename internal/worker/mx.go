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
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/mtacore/mtacore/framework/dns"
	"github.com/mtacore/mtacore/internal/message"
)

// mxCacheTTL is how long a resolved MX set is trusted before a fresh
// lookup is performed again for the same domain.
const mxCacheTTL = 10 * time.Minute

// resolveServers returns domain's MX hosts ordered by ascending
// priority, with a uniform random permutation applied within each
// priority band (RFC 5321 §5.1). A DomainConfig.MXOverride bypasses
// DNS entirely and is returned as the sole candidate. The result is
// stamped with CacheExpiresAt so callers can reuse it without a fresh
// lookup until it elapses.
func resolveServers(ctx context.Context, resolver dns.Resolver, domain string, override string, now time.Time) ([]message.MailServer, error) {
	if override != "" {
		return []message.MailServer{{
			Host:           override,
			Port:           25,
			Priority:       0,
			CacheExpiresAt: now.Add(mxCacheTTL),
		}}, nil
	}

	records, err := resolver.LookupMX(ctx, domain)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		// RFC 5321 §5.1: no MX means try the domain itself on port 25.
		return []message.MailServer{{
			Host:           domain,
			Port:           25,
			Priority:       0,
			CacheExpiresAt: now.Add(mxCacheTTL),
		}}, nil
	}

	servers := make([]message.MailServer, 0, len(records))
	for _, mx := range records {
		servers = append(servers, message.MailServer{
			Host:           strings.TrimSuffix(mx.Host, "."),
			Port:           25,
			Priority:       mx.Pref,
			CacheExpiresAt: now.Add(mxCacheTTL),
		})
	}

	sort.SliceStable(servers, func(i, j int) bool { return servers[i].Priority < servers[j].Priority })
	shuffleWithinPriority(servers)
	return servers, nil
}

// shuffleWithinPriority randomly permutes the contiguous runs of equal
// Priority in an already priority-sorted slice, so MX hosts of equal
// preference are tried in a different order on each delivery attempt.
func shuffleWithinPriority(servers []message.MailServer) {
	start := 0
	for start < len(servers) {
		end := start + 1
		for end < len(servers) && servers[end].Priority == servers[start].Priority {
			end++
		}
		rand.Shuffle(end-start, func(i, j int) {
			servers[start+i], servers[start+j] = servers[start+j], servers[start+i]
		})
		start = end
	}
}


