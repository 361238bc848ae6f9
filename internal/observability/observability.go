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

// Package observability defines a narrow seam for counter/gauge events.
// The core never imports a metrics backend itself: a host application
// wanting Prometheus (or any other collector) wiring implements Observer
// over its own registry, per SPEC_FULL.md's metrics-collector Non-goal.
// Neither session.Config nor worker.Config carries an Observer, and no
// package in the core calls one.
package observability

// Observer receives named counter and observation events. Labels may
// be nil. Implementations must be safe for concurrent use.
type Observer interface {
	// Inc increments a named counter by one.
	Inc(name string, labels map[string]string)
	// Observe records a value against a named histogram or summary.
	Observe(name string, value float64, labels map[string]string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Inc(string, map[string]string)              {}
func (Nop) Observe(string, float64, map[string]string) {}
