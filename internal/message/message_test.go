package message

import (
	"errors"
	"testing"
	"time"

	"github.com/mtacore/mtacore/framework/buffer"
)

func TestNewMessageAssignsSortableID(t *testing.T) {
	now := time.Now()
	m, err := NewMessage(now)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.ID) == 0 {
		t.Fatal("expected non-empty id")
	}
	if m.Metadata == nil {
		t.Fatal("expected initialized metadata bag")
	}
}

func TestValidateRequiresRecipients(t *testing.T) {
	m, err := NewMessage(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(0); err == nil {
		t.Fatal("expected error for empty recipient list")
	}

	m.Envelope.RcptTo = []string{"bob@example.com"}
	if err := m.Validate(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateEnforcesSizeLimit(t *testing.T) {
	m, err := NewMessage(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	m.Envelope.RcptTo = []string{"bob@example.com"}
	m.Body = buffer.MemoryBuffer{Slice: make([]byte, 100)}

	if err := m.Validate(10); err == nil {
		t.Fatal("expected error for oversized body")
	}
	if err := m.Validate(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestContextFinalizeMergesMetadata(t *testing.T) {
	c := NewContext()
	c.Metadata["spam-score"] = "0.1"

	m, err := NewMessage(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	c.Finalize(m)

	if m.Metadata["spam-score"] != "0.1" {
		t.Fatalf("metadata not merged: %v", m.Metadata)
	}
	if c.Msg != m {
		t.Fatal("Finalize did not attach message to context")
	}
}

func TestContextReplyOverride(t *testing.T) {
	c := NewContext()
	if c.TakeReply() != nil {
		t.Fatal("expected no reply by default")
	}

	c.SetReply(451, [3]int{4, 3, 0}, "try again")
	r := c.TakeReply()
	if r == nil || r.Code != 451 {
		t.Fatalf("unexpected reply: %+v", r)
	}
	if c.TakeReply() != nil {
		t.Fatal("expected reply to be cleared after TakeReply")
	}
}

func TestDeliveryStateRecordAttempt(t *testing.T) {
	ds := NewDeliveryState(time.Now())
	if ds.Status != StatusPending {
		t.Fatalf("expected StatusPending, got %v", ds.Status)
	}

	ds.RecordAttempt("mx1.example.com", time.Now(), errors.New("connection refused"), false)
	if ds.Status != StatusRetry {
		t.Fatalf("expected StatusRetry, got %v", ds.Status)
	}
	if ds.Attempted() != 1 {
		t.Fatalf("expected 1 attempt, got %d", ds.Attempted())
	}

	ds.RecordAttempt("mx1.example.com", time.Now(), errors.New("connection refused"), true)
	if ds.Status != StatusFailed {
		t.Fatalf("expected StatusFailed, got %v", ds.Status)
	}
	if !ds.Status.Terminal() {
		t.Fatal("expected StatusFailed to be terminal")
	}

	ds2 := NewDeliveryState(time.Now())
	ds2.RecordAttempt("mx1.example.com", time.Now(), nil, false)
	if ds2.Status != StatusDelivered {
		t.Fatalf("expected StatusDelivered, got %v", ds2.Status)
	}
}

func TestMailServerExpired(t *testing.T) {
	ms := MailServer{Host: "mx1.example.com"}
	if ms.Expired(time.Now()) {
		t.Fatal("zero CacheExpiresAt should never be expired")
	}

	ms.CacheExpiresAt = time.Now().Add(-time.Minute)
	if !ms.Expired(time.Now()) {
		t.Fatal("expected expired MailServer")
	}
}


