//+build windows

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

package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForSignal blocks until os.Interrupt, SIGTERM or SIGHUP is
// received and returns it, arming a second-signal-forces-exit handler
// as its POSIX counterpart does.
func WaitForSignal(onForced func(os.Signal)) os.Signal {
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	s := <-sig

	go func() {
		forced := WaitForSignal(nil)
		if onForced != nil {
			onForced(forced)
		}
		os.Exit(1)
	}()

	return s
}


