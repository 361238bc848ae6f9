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

// Package spool persists accepted messages to disk as a pair of files
// per id: "<id>.bin" (JSON-encoded message.Context minus the body) and
// "<id>.eml" (the raw header+body bytes). Every write goes through a
// temp-file-then-rename so a reader never observes a partially written
// file, and deletion is two-phase (rename to ".deleted", then remove)
// so a crash between the two leaves a tombstone Sweep can find and
// finish on the next startup.
package spool

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mtacore/mtacore/framework/buffer"
	"github.com/mtacore/mtacore/internal/message"
)

// ErrAlreadyExists is returned by Persist when id already has a spooled
// entry on disk.
var ErrAlreadyExists = errors.New("spool: message id already exists")

// sensitivePrefixes are rejected at construction: a spool root under
// one of these is almost certainly a misconfiguration that would let
// ordinary message deletion remove something the operator did not
// intend to be disposable.
var sensitivePrefixes = []string{"/etc", "/boot", "/sys", "/proc", "/dev"}

// Spool is a content-addressed on-disk store of message.Context values,
// keyed by message.SpooledMessageId.
type Spool struct {
	root string
}

// Open validates root as a safe spool directory and returns a Spool
// rooted there. It does not create the directory; the caller is
// expected to have provisioned it as part of deployment.
func Open(root string) (*Spool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("spool: resolving root: %w", err)
	}
	for _, p := range sensitivePrefixes {
		if abs == p || strings.HasPrefix(abs, p+string(filepath.Separator)) {
			return nil, fmt.Errorf("spool: refusing to use sensitive path %q as spool root", abs)
		}
	}
	if fi, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("spool: %w", err)
	} else if !fi.IsDir() {
		return nil, fmt.Errorf("spool: %q is not a directory", abs)
	}
	return &Spool{root: abs}, nil
}

func (s *Spool) binPath(id message.SpooledMessageId) string {
	return filepath.Join(s.root, string(id)+".bin")
}

func (s *Spool) emlPath(id message.SpooledMessageId) string {
	return filepath.Join(s.root, string(id)+".eml")
}

func (s *Spool) deletedPath(id message.SpooledMessageId) string {
	return filepath.Join(s.root, string(id)+".deleted")
}

// record is the on-disk shape of everything about a Message except its
// header+body, which lives in the companion .eml file verbatim.
//
// DeliveryState is deliberately not part of this record: it is
// in-memory-only state owned by the Delivery Queue (internal/queue),
// not the Spool. On restart the Queue holds nothing, so the worker's
// scan walks Spool.List() and seeds a fresh Pending entry for every id
// it finds — attempt history and backoff timing from before the
// restart are not recoverable, only the durable fact that the message
// is still un-relayed.
type record struct {
	Envelope   message.Envelope
	ReceivedAt time.Time
	Reception  message.ReceptionMeta
	Metadata   map[string]string
}

// writeAtomic writes data to path via a ".tmp" sibling followed by a
// rename, so a concurrent reader never observes a partial file.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Persist writes msg to disk for the first time. ErrAlreadyExists is
// returned, without touching disk, if id already has a spooled entry.
func (s *Spool) Persist(msg *message.Message) (message.SpooledMessageId, error) {
	if _, err := os.Stat(s.binPath(msg.ID)); err == nil {
		return "", ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return "", err
	}

	eml, err := encodeEML(msg)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(s.emlPath(msg.ID), eml); err != nil {
		return "", err
	}

	rec := toRecord(msg)
	encoded, err := json.Marshal(rec)
	if err != nil {
		os.Remove(s.emlPath(msg.ID))
		return "", err
	}
	if err := writeAtomic(s.binPath(msg.ID), encoded); err != nil {
		os.Remove(s.emlPath(msg.ID))
		return "", err
	}

	return msg.ID, nil
}

// Read loads the Message stored under id.
func (s *Spool) Read(id message.SpooledMessageId) (*message.Message, error) {
	encoded, err := os.ReadFile(s.binPath(id))
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(encoded, &rec); err != nil {
		return nil, fmt.Errorf("spool: decoding %s: %w", id, err)
	}

	header, body, err := decodeEML(s.emlPath(id))
	if err != nil {
		return nil, err
	}

	msg := fromRecord(id, rec)
	msg.Header = header
	msg.Body = body
	return msg, nil
}

// Update overwrites the metadata record for an already-persisted
// message (envelope, reception metadata and the Metadata map) without
// touching its immutable .eml body. Delivery state is not part of the
// record.
func (s *Spool) Update(msg *message.Message) error {
	if _, err := os.Stat(s.emlPath(msg.ID)); err != nil {
		return err
	}
	rec := toRecord(msg)
	encoded, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return writeAtomic(s.binPath(msg.ID), encoded)
}

// List returns the ids of every message currently spooled, in
// directory-entry order. It does not report ids left mid-delete (a
// ".deleted" tombstone with no matching ".bin").
func (s *Spool) List() ([]message.SpooledMessageId, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var ids []message.SpooledMessageId
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".bin") {
			ids = append(ids, message.SpooledMessageId(strings.TrimSuffix(name, ".bin")))
		}
	}
	return ids, nil
}

// Delete removes a message in two phases: rename both files to a
// ".deleted" tombstone (atomic, so a reader sees either the full
// message or nothing), then remove the tombstone. A crash between the
// two phases is cleaned up by Sweep on the next startup.
func (s *Spool) Delete(id message.SpooledMessageId) error {
	tombstone := s.deletedPath(id)
	if err := os.Rename(s.binPath(id), tombstone); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(s.emlPath(id), tombstone+".eml"); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(tombstone); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(tombstone + ".eml"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sweep removes any ".deleted"/".deleted.eml" tombstones left behind by
// a Delete that crashed between its rename and remove phases. Call once
// at startup before serving traffic.
func (s *Spool) Sweep() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return err
	}
	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".deleted") || strings.HasSuffix(name, ".deleted.eml") || strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(s.root, name)); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func toRecord(msg *message.Message) record {
	return record{
		Envelope:   msg.Envelope,
		ReceivedAt: msg.ReceivedAt,
		Reception:  msg.Reception,
		Metadata:   msg.Metadata,
	}
}

func fromRecord(id message.SpooledMessageId, rec record) *message.Message {
	return &message.Message{
		ID:         id,
		Envelope:   rec.Envelope,
		ReceivedAt: rec.ReceivedAt,
		Reception:  rec.Reception,
		Metadata:   rec.Metadata,
	}
}

// encodeEML serializes msg's header followed by its raw body into one
// byte sequence, the same "<id>.eml" shape a filesystem tool or another
// MTA's spool inspector would expect.
func encodeEML(msg *message.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, msg.Header); err != nil {
		return nil, fmt.Errorf("spool: writing header: %w", err)
	}
	if msg.Body != nil {
		r, err := msg.Body.Open()
		if err != nil {
			return nil, err
		}
		defer r.Close()
		if _, err := io.Copy(&buf, r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeEML(path string) (textproto.Header, buffer.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("spool: reading header: %w", err)
	}
	rest, err := io.ReadAll(br)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	return header, buffer.MemoryBuffer{Slice: rest}, nil
}


