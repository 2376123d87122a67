// Package stream keeps the latest screen frame per device and the viewer
// refcount that tells agents when to start and stop streaming.
package stream

import (
	"sync"
	"time"
)

// Frame is one stored screen capture. Never mutated after ingest; readers
// share the buffer.
type Frame struct {
	Data []byte
	MIME string
	At   time.Time
}

// FrameStore holds the most recent accepted frame per device. Only the
// latest frame is kept; there is no replay buffer.
type FrameStore struct {
	mu          sync.Mutex
	minInterval time.Duration
	frames      map[string]*Frame
}

// NewFrameStore returns a store that drops frames arriving less than
// minInterval after the previous accepted one. A non-positive interval
// disables the throttle.
func NewFrameStore(minInterval time.Duration) *FrameStore {
	return &FrameStore{
		minInterval: minInterval,
		frames:      make(map[string]*Frame),
	}
}

// Ingest stores a frame unless the throttle rejects it. Reports whether the
// frame was accepted. The caller must not reuse data afterwards.
func (fs *FrameStore) Ingest(deviceID string, data []byte, mime string) bool {
	if mime == "" {
		mime = "image/jpeg"
	}
	now := time.Now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if prev, ok := fs.frames[deviceID]; ok && fs.minInterval > 0 {
		if now.Sub(prev.At) < fs.minInterval {
			return false
		}
	}
	fs.frames[deviceID] = &Frame{Data: data, MIME: mime, At: now}
	return true
}

// Latest returns the current frame for a device.
func (fs *FrameStore) Latest(deviceID string) (*Frame, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, ok := fs.frames[deviceID]
	return f, ok
}
