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

//go:build !cgo

package plugin

import "errors"

// ErrCGoDisabled is returned by Load in builds compiled with CGO_ENABLED=0.
// Such builds can still use in-process Modules registered directly
// against a Registry; only loading external shared objects requires cgo.
var ErrCGoDisabled = errors.New("plugin: this build lacks cgo support, shared-object plugins cannot be loaded")

// Load always fails in a non-cgo build.
func Load(path string, args string) (Module, error) {
	return nil, ErrCGoDisabled
}


