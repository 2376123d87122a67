package stream

import "sync"

// Signaller delivers stream start/stop control messages to a device's agent.
// Implementations must tolerate the agent being offline.
type Signaller interface {
	StreamEnable(deviceID string)
	StreamDisable(deviceID string)
}

// ViewerGate counts stream consumers per device. The agent is told to start
// streaming exactly once when the count leaves zero and to stop exactly once
// when it returns to zero.
type ViewerGate struct {
	mu     sync.Mutex
	counts map[string]int
	signal Signaller
}

// NewViewerGate returns a gate that signals transitions through s.
func NewViewerGate(s Signaller) *ViewerGate {
	return &ViewerGate{counts: make(map[string]int), signal: s}
}

// Attach registers one viewer and returns the new count. The enable signal
// for a 0->1 transition is delivered under the gate lock, so the agent sees
// transitions in count order even when a delivery blocks.
func (g *ViewerGate) Attach(deviceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts[deviceID]++
	n := g.counts[deviceID]
	if n == 1 {
		g.signal.StreamEnable(deviceID)
	}
	return n
}

// Detach releases one viewer and returns the new count. Detaching a device
// with no viewers is a no-op. Like Attach, the 1->0 disable signal goes out
// under the gate lock.
func (g *ViewerGate) Detach(deviceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.counts[deviceID]
	if !ok {
		return 0
	}
	n--
	if n <= 0 {
		n = 0
		delete(g.counts, deviceID)
	} else {
		g.counts[deviceID] = n
	}
	if n == 0 {
		g.signal.StreamDisable(deviceID)
	}
	return n
}

// Count returns the current viewer count for a device.
func (g *ViewerGate) Count(deviceID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[deviceID]
}
