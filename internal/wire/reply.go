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

package wire

import (
	"strings"
	"time"
)

// Reply is a multi-line SMTP status reply: a three-digit code followed
// by one or more text lines, the last of which gets the "code SP text"
// continuation marker and all prior lines the "code - text" form.
type Reply struct {
	Code int
	Text []string
}

// SingleLine builds a one-line reply.
func SingleLine(code int, text string) Reply {
	return Reply{Code: code, Text: []string{text}}
}

// WriteReply writes r as one or more lines under deadline, all of them
// in a single write.
func (c *Conn) WriteReply(deadline time.Time, r Reply) error {
	lines := r.Text
	if len(lines) == 0 {
		lines = []string{""}
	}
	var b strings.Builder
	for i, line := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if i > 0 {
			b.WriteString("\r\n")
		}
		writeCode(&b, r.Code)
		b.WriteString(sep)
		b.WriteString(line)
	}
	return c.WriteLine(deadline, b.String())
}

func writeCode(b *strings.Builder, code int) {
	digits := [3]byte{'0', '0', '0'}
	for i := 2; i >= 0 && code > 0; i-- {
		digits[i] = byte('0' + code%10)
		code /= 10
	}
	b.Write(digits[:])
}


