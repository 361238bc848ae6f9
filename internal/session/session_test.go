package session

import (
	"bufio"
	"net"
	"net/textproto"
	"testing"
	"time"

	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/smtpfsm"
	"github.com/mtacore/mtacore/internal/spool"
	"github.com/mtacore/mtacore/internal/wire"
)

func testConfig(t *testing.T, sp *spool.Spool) Config {
	return Config{
		FSM: smtpfsm.Config{
			Hostname:       "mx.example.org",
			SoftwareName:   "mtacore",
			MaxMessageSize: 1 << 20,
		},
		Spool:    sp,
		Log:      log.Logger{Out: log.NopOutput{}, Name: "session_test"},
		PeerAddr: "198.51.100.7:4000",
	}
}

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp, err := spool.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

// runSession runs a full SMTP conversation against a Driver over a
// net.Pipe, returning every reply line observed, greeting included.
func runSession(t *testing.T, cfg Config, script []string) []string {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	d := New(cfg, wire.New(serverConn))
	done := make(chan struct{})
	go func() {
		d.Serve()
		close(done)
	}()

	reader := textproto.NewReader(bufio.NewReader(clientConn))
	var replies []string

	readReply := func() {
		for {
			line, err := reader.ReadLine()
			if err != nil {
				return
			}
			replies = append(replies, line)
			if len(line) >= 4 && line[3] == ' ' {
				return
			}
		}
	}

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	readReply()

	for _, cmd := range script {
		clientConn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, err := clientConn.Write([]byte(cmd + "\r\n")); err != nil {
			t.Fatalf("write %q: %v", cmd, err)
		}
		clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
		readReply()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish after QUIT")
	}
	return replies
}

func TestFullDeliveryTransaction(t *testing.T) {
	sp := newTestSpool(t)
	cfg := testConfig(t, sp)

	replies := runSession(t, cfg, []string{
		"EHLO client.example.org",
		"MAIL FROM:<alice@example.org>",
		"RCPT TO:<bob@example.com>",
		"DATA",
		"Subject: hi\r\n\r\nhello there\r\n.",
		"QUIT",
	})

	if len(replies) == 0 {
		t.Fatal("expected at least one reply")
	}
	last := replies[len(replies)-1]
	if last[:3] != "221" {
		t.Fatalf("expected final reply to be 221 for QUIT, got %q", last)
	}

	ids, err := sp.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected exactly one spooled message, got %d", len(ids))
	}
}

func TestOutOfSequenceCommandRejected(t *testing.T) {
	sp := newTestSpool(t)
	cfg := testConfig(t, sp)

	replies := runSession(t, cfg, []string{
		"MAIL FROM:<alice@example.org>",
		"QUIT",
	})
	if len(replies) < 2 || replies[0][:3] != "220" || replies[1][:3] != "503" {
		t.Fatalf("expected 503 for MAIL FROM before EHLO, got %v", replies)
	}
}


