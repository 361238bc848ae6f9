package shutdown

import (
	"sync"
	"testing"
	"time"

	"github.com/mtacore/mtacore/framework/log"
)

type fakeWorker struct {
	mu      sync.Mutex
	stopped chan struct{}
	stopCh  chan struct{}
	sending bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{stopped: make(chan struct{}), stopCh: make(chan struct{})}
}

func (f *fakeWorker) Stop() {
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
}

func (f *fakeWorker) Stopped() <-chan struct{} { return f.stopped }

func (f *fakeWorker) Sending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sending
}

// finishAfter simulates the worker's Run loop closing stopped once it
// observes Stop, after the given delay.
func (f *fakeWorker) finishAfter(d time.Duration) {
	go func() {
		<-f.stopCh
		time.Sleep(d)
		close(f.stopped)
	}()
}

func testLogger() log.Logger {
	return log.Logger{Out: log.NopOutput{}, Name: "shutdown_test"}
}

func TestDrainReturnsOnceWorkerStops(t *testing.T) {
	w := newFakeWorker()
	w.finishAfter(10 * time.Millisecond)

	var stoppedAccept bool
	c := &Coordinator{
		Worker:      w,
		Log:         testLogger(),
		GracePeriod: time.Second,
		StopAccept:  func() { stoppedAccept = true },
	}

	start := time.Now()
	c.Drain()
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Drain took too long waiting for a worker that stopped promptly")
	}
	if !stoppedAccept {
		t.Fatal("expected StopAccept to be called")
	}
}

func TestDrainAbortsSessionsAfterGracePeriod(t *testing.T) {
	w := newFakeWorker()
	// Never closes f.stopped: simulates a worker stuck mid-delivery.

	var aborted bool
	c := &Coordinator{
		Worker:        w,
		Log:           testLogger(),
		GracePeriod:   20 * time.Millisecond,
		AbortSessions: func() { aborted = true },
	}

	c.Drain()
	if !aborted {
		t.Fatal("expected AbortSessions to be called once the grace period elapsed")
	}
}

func TestDrainDefaultsGracePeriod(t *testing.T) {
	w := newFakeWorker()
	w.finishAfter(0)

	c := &Coordinator{Worker: w, Log: testLogger()}
	done := make(chan struct{})
	go func() {
		c.Drain()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain did not return for a worker that stopped immediately")
	}
}


