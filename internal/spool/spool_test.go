package spool

import (
	"os"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mtacore/mtacore/framework/buffer"
	"github.com/mtacore/mtacore/internal/message"
)

func newTestSpool(t *testing.T) *Spool {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func newTestMessage(t *testing.T) *message.Message {
	t.Helper()
	m, err := message.NewMessage(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	m.Envelope = message.Envelope{MailFrom: "alice@example.org", RcptTo: []string{"bob@example.com"}}
	var hdr textproto.Header
	hdr.Add("Subject", "hello")
	m.Header = hdr
	m.Body = buffer.MemoryBuffer{Slice: []byte("body text\r\n")}
	m.Reception = message.ReceptionMeta{Peer: "203.0.113.7:51324", HeloDomain: "client.example.org"}
	return m
}

func TestPersistAndRead(t *testing.T) {
	s := newTestSpool(t)
	m := newTestMessage(t)

	id, err := s.Persist(m)
	if err != nil {
		t.Fatal(err)
	}
	if id != m.ID {
		t.Fatalf("got id %q, want %q", id, m.ID)
	}

	got, err := s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Envelope.MailFrom != "alice@example.org" {
		t.Fatalf("envelope not round-tripped: %+v", got.Envelope)
	}
	if got.Reception.Peer != "203.0.113.7:51324" {
		t.Fatalf("reception meta not round-tripped: %+v", got.Reception)
	}
	if got.Header.Get("Subject") != "hello" {
		t.Fatalf("header not round-tripped: %v", got.Header)
	}

	r, err := got.Body.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "body text\r\n" {
		t.Fatalf("body not round-tripped: %q", buf[:n])
	}
}

func TestPersistDuplicateRejected(t *testing.T) {
	s := newTestSpool(t)
	m := newTestMessage(t)

	if _, err := s.Persist(m); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Persist(m); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestListAndDelete(t *testing.T) {
	s := newTestSpool(t)
	m := newTestMessage(t)
	id, err := s.Persist(m)
	if err != nil {
		t.Fatal(err)
	}

	ids, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("unexpected list result: %v", ids)
	}

	if err := s.Delete(id); err != nil {
		t.Fatal(err)
	}

	ids, err = s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty spool after delete, got %v", ids)
	}
}

func TestSweepRemovesTombstonesAndTempFiles(t *testing.T) {
	s := newTestSpool(t)

	mustTouch(t, s.root+"/abc.deleted")
	mustTouch(t, s.root+"/abc.deleted.eml")
	mustTouch(t, s.root+"/def.bin.tmp")

	if err := s.Sweep(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected all tombstones/temp files swept, got %v", entries)
	}
}

func mustTouch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestOpenRejectsSensitivePath(t *testing.T) {
	if _, err := Open("/etc"); err == nil {
		t.Fatal("expected error for sensitive path")
	}
}

func TestUpdatePreservesBody(t *testing.T) {
	s := newTestSpool(t)
	m := newTestMessage(t)
	id, err := s.Persist(m)
	if err != nil {
		t.Fatal(err)
	}

	m.Metadata["spam-score"] = "0.9"
	if err := s.Update(m); err != nil {
		t.Fatal(err)
	}

	got, err := s.Read(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["spam-score"] != "0.9" {
		t.Fatalf("metadata update not persisted: %v", got.Metadata)
	}

	r, err := got.Body.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	if string(buf[:n]) != "body text\r\n" {
		t.Fatalf("body not preserved across Update: %q", buf[:n])
	}
}


