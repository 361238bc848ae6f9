package smtpfsm

import "testing"

func newTestSession() *Session {
	return &Session{
		Cfg: Config{
			Hostname:       "mx.example.com",
			Extensions:     []string{"8BITMIME"},
			MaxMessageSize: 1024,
			TLSAvailable:   true,
		},
	}
}

func mustStep(t *testing.T, state State, line string, s *Session) (State, Reply, Event) {
	t.Helper()
	ns, r, ev := Step(state, line, s)
	if r.Code >= 400 {
		t.Fatalf("%q unexpectedly rejected: %d %v", line, r.Code, r.Text)
	}
	return ns, r, ev
}

func TestHappyPathTransitions(t *testing.T) {
	s := newTestSession()
	state := Greeted

	state, _, ev := mustStep(t, state, "EHLO client.example.org", s)
	if state != Ready || ev != EventEhlo {
		t.Fatalf("after EHLO: state=%v event=%v", state, ev)
	}

	state, _, ev = mustStep(t, state, "MAIL FROM:<alice@example.org>", s)
	if state != MailFrom || ev != EventMailFrom || s.MailFromAddr != "alice@example.org" {
		t.Fatalf("after MAIL FROM: state=%v addr=%q", state, s.MailFromAddr)
	}

	state, _, ev = mustStep(t, state, "RCPT TO:<bob@example.com>", s)
	if state != RcptTo || ev != EventRcptTo {
		t.Fatalf("after RCPT TO: state=%v", state)
	}

	state, _, ev = mustStep(t, state, "RCPT TO:<carol@example.com>", s)
	if state != RcptTo || len(s.RcptToAddrs) != 2 {
		t.Fatalf("after second RCPT TO: addrs=%v", s.RcptToAddrs)
	}

	state, r, ev := mustStep(t, state, "DATA", s)
	if state != Data || ev != EventDataStart || r.Code != 354 {
		t.Fatalf("after DATA: state=%v code=%d", state, r.Code)
	}

	state = CompleteData(s)
	if state != Ready {
		t.Fatalf("after CompleteData: state=%v", state)
	}
	if s.MailFromAddr != "" || len(s.RcptToAddrs) != 0 {
		t.Fatal("expected envelope cleared after CompleteData")
	}
}

func TestOutOfSequenceRejected(t *testing.T) {
	s := newTestSession()
	_, r, _ := Step(Greeted, "RCPT TO:<bob@example.com>", s)
	if r.Code != 503 {
		t.Fatalf("expected 503, got %d", r.Code)
	}
}

func TestUnknownVerbRejected(t *testing.T) {
	s := newTestSession()
	_, r, _ := Step(Greeted, "BOGUS", s)
	if r.Code != 500 {
		t.Fatalf("expected 500, got %d", r.Code)
	}
}

func TestSyntaxErrorOnMissingAddress(t *testing.T) {
	s := newTestSession()
	state := Ready
	_, r, _ := Step(state, "MAIL FROM bob", s)
	if r.Code != 501 {
		t.Fatalf("expected 501, got %d", r.Code)
	}
}

func TestRsetClearsEnvelope(t *testing.T) {
	s := newTestSession()
	state := Ready
	state, _, _ = mustStep(t, state, "MAIL FROM:<alice@example.org>", s)
	state, _, _ = mustStep(t, state, "RCPT TO:<bob@example.com>", s)

	state, r, _ := Step(state, "RSET", s)
	if state != Ready || r.Code != 250 {
		t.Fatalf("after RSET: state=%v code=%d", state, r.Code)
	}
	if s.MailFromAddr != "" {
		t.Fatal("expected MAIL FROM cleared by RSET")
	}
}

func TestStartTLSRequiresConfiguredAndPlaintext(t *testing.T) {
	s := newTestSession()
	s.Cfg.TLSAvailable = false
	_, r, _ := Step(Ready, "STARTTLS", s)
	if r.Code != 502 {
		t.Fatalf("expected 502 when TLS unavailable, got %d", r.Code)
	}

	s.Cfg.TLSAvailable = true
	s.TLSActive = true
	_, r, _ = Step(Ready, "STARTTLS", s)
	if r.Code != 502 {
		t.Fatalf("expected 502 when TLS already active, got %d", r.Code)
	}
}

func TestResetAfterStartTLSRequiresFreshEhlo(t *testing.T) {
	s := newTestSession()
	s.EhloName = "client.example.org"

	state := ResetAfterStartTLS(s)
	if state != Greeted {
		t.Fatalf("expected Greeted, got %v", state)
	}
	if s.EhloName != "" {
		t.Fatal("expected EHLO identity cleared post-STARTTLS")
	}
	if !s.TLSActive {
		t.Fatal("expected TLSActive set")
	}

	_, r, _ := Step(Greeted, "MAIL FROM:<alice@example.org>", s)
	if r.Code != 503 {
		t.Fatalf("expected 503 before fresh EHLO, got %d", r.Code)
	}
}

func TestEhloAdvertisesSizeAndStartTLS(t *testing.T) {
	s := newTestSession()
	_, r, _ := Step(Greeted, "EHLO client.example.org", s)

	found := map[string]bool{}
	for _, line := range r.Text {
		found[line] = true
	}
	if !found["SIZE 1024"] {
		t.Fatalf("expected SIZE line in %v", r.Text)
	}
	if !found["STARTTLS"] {
		t.Fatalf("expected STARTTLS line in %v", r.Text)
	}
	if !found["8BITMIME"] {
		t.Fatalf("expected configured extension in %v", r.Text)
	}
}

func TestOversizeResetsToReadyNotGreeted(t *testing.T) {
	s := newTestSession()
	state, r := Oversize(s)
	if state != Ready {
		t.Fatalf("expected Ready, got %v", state)
	}
	if r.Code != 552 {
		t.Fatalf("expected 552, got %d", r.Code)
	}
}


