package plugin

import (
	"testing"

	"github.com/mtacore/mtacore/internal/message"
)

type fakeValidator struct {
	name    string
	verdict int
	calls   *[]string
}

func (f *fakeValidator) Name() string { return f.name }
func (f *fakeValidator) Validate(hook HookPoint, ctx *message.Context) int {
	*f.calls = append(*f.calls, f.name)
	return f.verdict
}

type fakeEventHandler struct {
	name   string
	events *[]LifecycleEvent
}

func (f *fakeEventHandler) Name() string { return f.name }
func (f *fakeEventHandler) HandleEvent(event LifecycleEvent, ctx *message.Context) {
	*f.events = append(*f.events, event)
}

func TestDispatchRunsAllWhenAllAccept(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeValidator{name: "spf", verdict: 0, calls: &calls})
	r.Register(&fakeValidator{name: "dkim", verdict: 0, calls: &calls})

	accepted, verdict := r.Dispatch(HookRcptTo, message.NewContext())
	if !accepted || verdict != 0 {
		t.Fatalf("expected acceptance, got accepted=%v verdict=%d", accepted, verdict)
	}
	if len(calls) != 2 || calls[0] != "spf" || calls[1] != "dkim" {
		t.Fatalf("expected both modules called in order, got %v", calls)
	}
}

func TestDispatchAbortsOnFirstRejection(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeValidator{name: "spf", verdict: 550, calls: &calls})
	r.Register(&fakeValidator{name: "dkim", verdict: 0, calls: &calls})

	accepted, verdict := r.Dispatch(HookMailFrom, message.NewContext())
	if accepted || verdict != 550 {
		t.Fatalf("expected rejection with verdict 550, got accepted=%v verdict=%d", accepted, verdict)
	}
	if len(calls) != 1 || calls[0] != "spf" {
		t.Fatalf("expected dispatch to stop after first rejecting module, got %v", calls)
	}
}

func TestDispatchSkipsNonValidatorModules(t *testing.T) {
	var events []LifecycleEvent
	r := NewRegistry()
	r.Register(&fakeEventHandler{name: "logger", events: &events})

	accepted, verdict := r.Dispatch(HookConnect, message.NewContext())
	if !accepted || verdict != 0 {
		t.Fatalf("expected acceptance when no Validator modules are registered, got %v %d", accepted, verdict)
	}
}

func TestBroadcastDeliversToAllEventHandlers(t *testing.T) {
	var events []LifecycleEvent
	r := NewRegistry()
	r.Register(&fakeEventHandler{name: "audit", events: &events})
	r.Register(&fakeEventHandler{name: "metrics", events: &events})

	r.Broadcast(EventConnectionOpened, message.NewContext())

	if len(events) != 2 || events[0] != EventConnectionOpened || events[1] != EventConnectionOpened {
		t.Fatalf("expected both handlers to observe the event, got %v", events)
	}
}

func TestBroadcastIgnoresValidatorVerdict(t *testing.T) {
	var calls []string
	r := NewRegistry()
	r.Register(&fakeValidator{name: "spf", verdict: 550, calls: &calls})

	// Validator-only modules have no HandleEvent method, so Broadcast
	// must skip them without panicking and without any verdict to check.
	r.Broadcast(EventConnectionClosed, message.NewContext())
}

func TestRegistryLen(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("expected empty registry to have Len 0")
	}
	r.Register(&fakeValidator{name: "spf", calls: &[]string{}})
	if r.Len() != 1 {
		t.Fatalf("expected Len 1 after Register, got %d", r.Len())
	}
}

func TestHookPointString(t *testing.T) {
	cases := map[HookPoint]string{
		HookConnect:  "connect",
		HookStartTLS: "starttls",
		HookMailFrom: "mailfrom",
		HookRcptTo:   "rcptto",
		HookData:     "data",
	}
	for hook, want := range cases {
		if got := hook.String(); got != want {
			t.Errorf("HookPoint(%d).String() = %q, want %q", hook, got, want)
		}
	}
}


