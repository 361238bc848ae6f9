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

package session

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of concurrently-running sessions a listener
// will hand off to, so an accept loop applies back-pressure instead of
// spawning one goroutine per incoming connection without limit.
type Limiter struct {
	sem *semaphore.Weighted
}

// NewLimiter returns a Limiter admitting at most max concurrent
// sessions. A non-positive max is treated as 1.
func NewLimiter(max int64) *Limiter {
	if max <= 0 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(max)}
}

// Acquire blocks until a slot is free or ctx is done, whichever comes
// first. The caller must call Release once the session finishes.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// Release frees the slot taken by the matching Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}
