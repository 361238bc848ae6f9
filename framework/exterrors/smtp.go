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

package exterrors

import "fmt"

// EnhancedCode is the three-digit RFC 3463 enhanced status code
// (class.subject.detail), e.g. {4, 4, 7} for a temporary DNS failure.
type EnhancedCode [3]int

func (c EnhancedCode) String() string {
	return fmt.Sprintf("%d.%d.%d", c[0], c[1], c[2])
}

// SMTPError is the error taxonomy shared by the Session Driver, the
// Delivery Queue and the Delivery Worker: every failure that can be
// attributed to an SMTP reply, whether read off the wire from a remote MX
// or synthesized locally (spool full, size exceeded, plugin rejection), is
// normalized to this shape before it is logged, persisted or replayed to a
// client.
type SMTPError struct {
	Code         int
	EnhancedCode EnhancedCode
	Message      string

	// TargetName identifies the recipient domain or server this error
	// came from, for multi-recipient envelopes where only some
	// recipients failed.
	TargetName string
}

func (s *SMTPError) Error() string {
	if s.TargetName != "" {
		return fmt.Sprintf("%d %s %s (%s)", s.Code, s.EnhancedCode, s.Message, s.TargetName)
	}
	return fmt.Sprintf("%d %s %s", s.Code, s.EnhancedCode, s.Message)
}

// Temporary classifies the error per RFC 5321: 4xx replies are temporary,
// 5xx are permanent.
func (s *SMTPError) Temporary() bool {
	return s.Code/100 == 4
}

func (s *SMTPError) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"smtp_code":    s.Code,
		"smtp_enhc":    s.EnhancedCode.String(),
		"smtp_message": s.Message,
	}
	if s.TargetName != "" {
		f["target"] = s.TargetName
	}
	return f
}


