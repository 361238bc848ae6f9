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

// Package shutdown coordinates a graceful stop of the embedded MTA:
// stop accepting new connections, stop the Delivery Worker's timers,
// give in-flight deliveries and sessions a grace period to finish, then
// return control to the embedding application so it can exit.
package shutdown

import (
	"os"
	"time"

	"github.com/mtacore/mtacore/framework/log"
)

// GracePeriod bounds how long Drain waits for the Delivery Worker to
// drain its in-flight deliveries before giving up and returning anyway.
const GracePeriod = 30 * time.Second

// Worker is the subset of *internal/worker.Worker graceful shutdown
// depends on.
type Worker interface {
	Stop()
	Stopped() <-chan struct{}
	Sending() bool
}

// Coordinator drives one graceful-shutdown sequence for a running
// server: wait for a terminating signal, stop accepting new
// connections, stop the Delivery Worker, and wait up to GracePeriod for
// it to drain.
type Coordinator struct {
	Worker        Worker
	Log           log.Logger
	GracePeriod   time.Duration
	StopAccept    func() // closes the listener(s); may be nil
	AbortSessions func() // aborts any sessions still open after the grace period; may be nil
}

// Wait blocks until a terminating signal arrives, then runs Drain and
// returns the signal observed.
func (c *Coordinator) Wait() os.Signal {
	sig := WaitForSignal(func(forced os.Signal) {
		c.Log.Printf("forced shutdown due to signal (%v)!", forced)
	})
	c.Log.Printf("signal received (%v), draining; next signal will force immediate shutdown.", sig)
	c.Drain()
	return sig
}

// Drain stops new connections from being accepted, stops the Delivery
// Worker, and waits up to GracePeriod for it to finish in-flight
// deliveries before returning. Split out from Wait so it can be driven
// directly in tests without sending the process a real signal.
func (c *Coordinator) Drain() {
	if c.StopAccept != nil {
		c.StopAccept()
	}

	c.Worker.Stop()

	grace := c.GracePeriod
	if grace <= 0 {
		grace = GracePeriod
	}

	select {
	case <-c.Worker.Stopped():
		c.Log.Printf("delivery worker drained cleanly")
	case <-time.After(grace):
		c.Log.Printf("grace period exceeded with deliveries still in flight, proceeding with shutdown")
		if c.AbortSessions != nil {
			c.AbortSessions()
		}
	}
}


