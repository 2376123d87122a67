package stream

import (
	"sync"
	"testing"
	"time"
)

type recordingSignaller struct {
	mu       sync.Mutex
	enables  []string
	disables []string
}

func (r *recordingSignaller) StreamEnable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enables = append(r.enables, deviceID)
}

func (r *recordingSignaller) StreamDisable(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disables = append(r.disables, deviceID)
}

func TestViewerGate_SignalsOnlyOnTransitions(t *testing.T) {
	sig := &recordingSignaller{}
	g := NewViewerGate(sig)

	if n := g.Attach("dev-1"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if n := g.Attach("dev-1"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if len(sig.enables) != 1 {
		t.Errorf("enables = %v, want exactly one for the 0->1 transition", sig.enables)
	}

	if n := g.Detach("dev-1"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
	if len(sig.disables) != 0 {
		t.Errorf("disables = %v, want none while viewers remain", sig.disables)
	}

	if n := g.Detach("dev-1"); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if len(sig.disables) != 1 {
		t.Errorf("disables = %v, want exactly one for the 1->0 transition", sig.disables)
	}
}

func TestViewerGate_ReattachSignalsAgain(t *testing.T) {
	sig := &recordingSignaller{}
	g := NewViewerGate(sig)

	g.Attach("dev-1")
	g.Detach("dev-1")
	g.Attach("dev-1")

	if len(sig.enables) != 2 {
		t.Errorf("enables = %v, want one per 0->1 transition", sig.enables)
	}
}

func TestViewerGate_DetachWithoutViewers(t *testing.T) {
	sig := &recordingSignaller{}
	g := NewViewerGate(sig)

	if n := g.Detach("dev-1"); n != 0 {
		t.Errorf("count = %d, want 0", n)
	}
	if len(sig.disables) != 0 {
		t.Errorf("disables = %v, want none for a no-op detach", sig.disables)
	}
	if g.Count("dev-1") != 0 {
		t.Error("count should stay zero")
	}
}

// stallingSignaller holds the first enable delivery until released and
// records the order signals went out in.
type stallingSignaller struct {
	mu      sync.Mutex
	order   []string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingSignaller) StreamEnable(deviceID string) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, "enable")
}

func (s *stallingSignaller) StreamDisable(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, "disable")
}

func TestViewerGate_SignalOrderWithSlowDelivery(t *testing.T) {
	sig := &stallingSignaller{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	g := NewViewerGate(sig)

	attached := make(chan struct{})
	go func() {
		g.Attach("dev-1")
		close(attached)
	}()
	<-sig.entered // enable delivery in flight

	detached := make(chan struct{})
	go func() {
		g.Detach("dev-1")
		close(detached)
	}()

	// The detach must wait for the stalled enable, not overtake it.
	select {
	case <-detached:
		t.Fatal("detach completed while the enable signal was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(sig.release)
	<-attached
	<-detached

	sig.mu.Lock()
	order := append([]string(nil), sig.order...)
	sig.mu.Unlock()
	if len(order) != 2 || order[0] != "enable" || order[1] != "disable" {
		t.Fatalf("signal order = %v, want [enable disable]", order)
	}
	if g.Count("dev-1") != 0 {
		t.Errorf("count = %d, want 0", g.Count("dev-1"))
	}
}

func TestViewerGate_IndependentDevices(t *testing.T) {
	sig := &recordingSignaller{}
	g := NewViewerGate(sig)

	g.Attach("dev-1")
	g.Attach("dev-2")
	g.Detach("dev-1")

	if g.Count("dev-2") != 1 {
		t.Errorf("dev-2 count = %d, want 1", g.Count("dev-2"))
	}
	if len(sig.enables) != 2 || len(sig.disables) != 1 {
		t.Errorf("signals = %v/%v, want two enables one disable", sig.enables, sig.disables)
	}
}
