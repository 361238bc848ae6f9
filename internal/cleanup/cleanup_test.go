package cleanup

import (
	"errors"
	"testing"
	"time"

	"github.com/mtacore/mtacore/framework/log"
)

func testLogger() log.Logger {
	return log.Logger{Out: log.NopOutput{}, Name: "cleanup_test"}
}

func TestAddIsIdempotent(t *testing.T) {
	q := New(testLogger(), 3)
	now := time.Now()

	q.Add("abc", now)
	q.Add("abc", now.Add(time.Minute))

	if q.Len() != 1 {
		t.Fatalf("expected 1 tracked entry, got %d", q.Len())
	}
}

func TestDueRespectsBackoff(t *testing.T) {
	q := New(testLogger(), 5)
	now := time.Now()
	q.Add("abc", now)

	if due := q.Due(now); len(due) != 0 {
		t.Fatalf("expected nothing due immediately, got %v", due)
	}
	if due := q.Due(now.Add(3 * time.Second)); len(due) != 1 {
		t.Fatalf("expected entry due after 2s backoff, got %v", due)
	}
}

func TestRecordFailureEscalatesAfterMaxAttempts(t *testing.T) {
	q := New(testLogger(), 2)
	now := time.Now()
	q.Add("abc", now)

	q.RecordFailure("abc", now.Add(time.Second), errors.New("permission denied"))
	if q.Len() != 0 {
		t.Fatalf("expected entry dropped after reaching maxAttempts, got Len=%d", q.Len())
	}
}

func TestRecordFailureReschedulesBelowMax(t *testing.T) {
	q := New(testLogger(), 5)
	now := time.Now()
	q.Add("abc", now)

	q.RecordFailure("abc", now.Add(time.Second), errors.New("busy"))
	if q.Len() != 1 {
		t.Fatalf("expected entry still tracked below maxAttempts, got Len=%d", q.Len())
	}
}

func TestSucceedRemovesEntry(t *testing.T) {
	q := New(testLogger(), 3)
	now := time.Now()
	q.Add("abc", now)
	q.Succeed("abc")

	if q.Len() != 0 {
		t.Fatalf("expected entry removed after Succeed, got Len=%d", q.Len())
	}
}


