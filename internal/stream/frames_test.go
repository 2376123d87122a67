package stream

import (
	"bytes"
	"testing"
	"time"
)

func TestFrameStore_StoresLatest(t *testing.T) {
	fs := NewFrameStore(0)

	if !fs.Ingest("dev-1", []byte("jpeg-1"), "") {
		t.Fatal("first frame should be accepted")
	}

	f, ok := fs.Latest("dev-1")
	if !ok {
		t.Fatal("expected a frame")
	}
	if !bytes.Equal(f.Data, []byte("jpeg-1")) {
		t.Errorf("data = %q, want jpeg-1", f.Data)
	}
	if f.MIME != "image/jpeg" {
		t.Errorf("mime = %q, want default image/jpeg", f.MIME)
	}

	if !fs.Ingest("dev-1", []byte("jpeg-2"), "image/png") {
		t.Fatal("second frame should be accepted without a throttle")
	}
	f, _ = fs.Latest("dev-1")
	if !bytes.Equal(f.Data, []byte("jpeg-2")) || f.MIME != "image/png" {
		t.Errorf("frame = %q %q, want jpeg-2 image/png", f.Data, f.MIME)
	}
}

func TestFrameStore_Throttle(t *testing.T) {
	fs := NewFrameStore(50 * time.Millisecond)

	if !fs.Ingest("dev-1", []byte("first"), "") {
		t.Fatal("first frame should be accepted")
	}
	if fs.Ingest("dev-1", []byte("too fast"), "") {
		t.Error("frame within the interval should be dropped")
	}

	f, _ := fs.Latest("dev-1")
	if !bytes.Equal(f.Data, []byte("first")) {
		t.Errorf("stored frame = %q, throttled frame must not replace it", f.Data)
	}

	time.Sleep(60 * time.Millisecond)
	if !fs.Ingest("dev-1", []byte("later"), "") {
		t.Error("frame after the interval should be accepted")
	}
}

func TestFrameStore_PerDeviceThrottle(t *testing.T) {
	fs := NewFrameStore(time.Minute)

	if !fs.Ingest("dev-1", []byte("a"), "") {
		t.Fatal("dev-1 first frame should be accepted")
	}
	if !fs.Ingest("dev-2", []byte("b"), "") {
		t.Error("dev-2 should not be throttled by dev-1 traffic")
	}
}

func TestFrameStore_UnknownDevice(t *testing.T) {
	fs := NewFrameStore(0)
	if _, ok := fs.Latest("nope"); ok {
		t.Error("unknown device should have no frame")
	}
}
