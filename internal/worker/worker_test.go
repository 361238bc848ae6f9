package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mtacore/mtacore/framework/buffer"
	"github.com/mtacore/mtacore/framework/log"
	"github.com/mtacore/mtacore/internal/message"
	"github.com/mtacore/mtacore/internal/spool"
)

type fakeResolver struct {
	mx []*net.MX
}

func (f fakeResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) { return nil, nil }
func (f fakeResolver) LookupHost(ctx context.Context, host string) ([]string, error) { return nil, nil }
func (f fakeResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error)  { return f.mx, nil }
func (f fakeResolver) LookupTXT(ctx context.Context, name string) ([]string, error)  { return nil, nil }
func (f fakeResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nil, nil
}

func TestDomainOf(t *testing.T) {
	if got := domainOf([]string{"bob@example.com"}); got != "example.com" {
		t.Fatalf("got %q", got)
	}
	if got := domainOf(nil); got != "" {
		t.Fatalf("expected empty domain for no recipients, got %q", got)
	}
}

func TestResolveServersOrdersByPriority(t *testing.T) {
	r := fakeResolver{mx: []*net.MX{
		{Host: "mx2.example.com.", Pref: 20},
		{Host: "mx1.example.com.", Pref: 10},
	}}
	servers, err := resolveServers(context.Background(), r, "example.com", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 || servers[0].Host != "mx1.example.com" || servers[1].Host != "mx2.example.com" {
		t.Fatalf("unexpected server order: %+v", servers)
	}
}

func TestResolveServersUsesOverride(t *testing.T) {
	servers, err := resolveServers(context.Background(), fakeResolver{}, "example.com", "override.example.net", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || servers[0].Host != "override.example.net" {
		t.Fatalf("expected override host, got %+v", servers)
	}
}

func TestResolveServersFallsBackToDomainWhenNoMX(t *testing.T) {
	servers, err := resolveServers(context.Background(), fakeResolver{}, "example.com", "", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 1 || servers[0].Host != "example.com" {
		t.Fatalf("expected fallback to domain itself, got %+v", servers)
	}
}

func newTestWorker(t *testing.T) (*Worker, *spool.Spool) {
	t.Helper()
	dir := t.TempDir()
	sp, err := spool.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	logger := log.Logger{Out: log.NopOutput{}, Name: "worker_test"}
	w := New(Config{Hostname: "mx.example.org"}, sp, logger)
	return w, sp
}

func newQueuedMessage(t *testing.T, sp *spool.Spool) message.SpooledMessageId {
	t.Helper()
	m, err := message.NewMessage(time.Now())
	if err != nil {
		t.Fatal(err)
	}
	m.Envelope = message.Envelope{MailFrom: "alice@example.org", RcptTo: []string{"bob@example.com"}}
	var hdr textproto.Header
	hdr.Add("Subject", "hi")
	m.Header = hdr
	m.Body = buffer.MemoryBuffer{Slice: []byte("body\r\n")}
	id, err := sp.Persist(m)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestScanRegistersUnknownSpoolEntries(t *testing.T) {
	w, sp := newTestWorker(t)
	id := newQueuedMessage(t, sp)

	w.scan(context.Background())

	e := w.queue.Get(id)
	if e == nil {
		t.Fatal("expected scan to register the spooled message")
	}
	if e.State.Status != message.StatusPending {
		t.Fatalf("expected fresh entry to start Pending, got %v", e.State.Status)
	}
	if e.RecipientDomain != "example.com" {
		t.Fatalf("expected recipient domain example.com, got %q", e.RecipientDomain)
	}
}

func TestScanDoesNotReplaceTrackedEntries(t *testing.T) {
	w, sp := newTestWorker(t)
	id := newQueuedMessage(t, sp)
	w.scan(context.Background())
	original := w.queue.Get(id)
	original.State.Status = message.StatusRetry

	w.scan(context.Background())

	if w.queue.Get(id).State.Status != message.StatusRetry {
		t.Fatal("expected second scan to leave already-tracked entry untouched")
	}
}

