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

// Package log implements a minimalistic structured logging library used
// throughout the core. It is intentionally small: the host application is
// expected to own metrics and log shipping, this package only formats and
// fans out.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mtacore/mtacore/framework/exterrors"
	"go.uber.org/zap"
)

// Logger writes formatted output to an underlying Output.
//
// Logger is stateless and can be copied freely; the underlying Output is
// shared, not copied, so goroutine-safety is the Output's responsibility.
//
// Every message is prefixed with the logger Name. Timestamp and debug-flag
// formatting is done by the Output.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are additional key-value pairs merged into every Msg/Error
	// call made through this Logger.
	Fields map[string]interface{}
}

// Zap returns a *zap.Logger backed by this Logger, for subsystems (the
// Delivery Worker's attempt tracing, plugin dispatch) that want zap's
// structured field builders.
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapLogger{L: l})
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes a structured event log message.
//
//	name: msg	{"key":"value","key2":"value2"}
//
// fields must alternate key (string), value.
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Critical writes a structured event log message tagged as requiring
// operator attention (used when the Cleanup Queue gives up on a message
// and similar unrecoverable-but-not-fatal conditions).
func (l Logger) Critical(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2+1)
	fieldsToMap(fields, m)
	m["severity"] = "critical"
	l.log(false, l.formatMsg(msg, m))
}

// Error writes a structured event log message describing a handled error.
// If err carries exterrors fields, they are merged into the output.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+1)
	for k, v := range errFields {
		allFields[k] = v
	}
	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func (l Logger) DebugMsg(kind string, fields ...interface{}) {
	if !l.Debug {
		return
	}
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(true, l.formatMsg(kind, m))
}

func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	var lastKey string
	for i, val := range fields {
		if i%2 == 0 {
			key, ok := val.(string)
			if !ok {
				out[fmt.Sprint("field", i)] = val
				continue
			}
			lastKey = key
		} else {
			out[lastKey] = val
		}
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	formatted := strings.Builder{}
	formatted.WriteString(msg)
	formatted.WriteRune('\t')

	if len(l.Fields)+len(fields) != 0 {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		for k, v := range l.Fields {
			fields[k] = v
		}
		if err := marshalOrderedJSON(&formatted, fields); err != nil {
			return fmt.Sprintf("[broken log formatting: %v] %v %+v", err, msg, fields)
		}
	}

	return formatted.String()
}

// LogFormatter can be implemented by field values to control how they are
// rendered in structured output.
type LogFormatter interface {
	FormatLog() string
}

// Write implements io.Writer; every call is logged as one message.
func (l Logger) Write(s []byte) (int, error) {
	l.log(false, strings.TrimRight(string(s), "\n"))
	return len(s), nil
}

// DebugWriter returns an io.Writer that logs everything written to it as
// debug messages, or io.Discard if Logger.Debug is false.
func (l Logger) DebugWriter() io.Writer {
	if !l.Debug {
		return io.Discard
	}
	l.Debug = true
	return &l
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}

	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
	}
}

// DefaultLogger is used by the package-level convenience functions below.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, false)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Debugln(val ...interface{})               { DefaultLogger.Debugln(val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
func Println(val ...interface{})               { DefaultLogger.Println(val...) }


