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

package buffer

import (
	"bytes"
)

// BytesReader wraps bytes.Reader, retaining the original slice so it can
// be recovered with Bytes(). Useful when passing to code that special-cases
// readers exposing a Bytes() method to avoid a copy.
type BytesReader struct {
	*bytes.Reader
	value []byte
}

// Bytes returns the unread portion of the slice BytesReader was built from.
func (br BytesReader) Bytes() []byte {
	return br.value[int(br.Size())-br.Len():]
}

// Copy returns a BytesReader over the same slice as br, at the same
// position.
func (br BytesReader) Copy() BytesReader {
	return NewBytesReader(br.Bytes())
}

// Close is a no-op so BytesReader satisfies io.ReadCloser directly.
func (br BytesReader) Close() error {
	return nil
}

func NewBytesReader(b []byte) BytesReader {
	// Value type, not pointer: BytesReader already wraps two pointers, so
	// double indirection would buy nothing.
	return BytesReader{
		Reader: bytes.NewReader(b),
		value:  b,
	}
}


