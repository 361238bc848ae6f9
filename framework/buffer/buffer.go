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

// Package buffer provides bounded, in-memory temporary storage for
// message bodies as they move from the Session Driver to the Spool.
package buffer

import (
	"io"
)

// Buffer is abstract temporary storage for a message body.
//
// Storage is assumed immutable: any modification uses a new Buffer
// rather than mutating in place, which keeps it goroutine-safe.
//
// Lifetime convention: the creator is responsible for calling Remove once
// the Buffer is no longer needed. A Buffer passed to a function is not
// guaranteed to remain valid after that function returns unless the
// function re-buffers it itself.
type Buffer interface {
	// Open creates a new Reader reading from the underlying storage.
	Open() (io.ReadCloser, error)

	// Len reports the length of the stored blob.
	Len() int

	// Remove discards the buffered body and releases associated
	// resources. Readers previously created via Open remain usable.
	// Whether Open still succeeds afterward depends on the
	// implementation: MemoryBuffer's Remove is a no-op.
	Remove() error
}


