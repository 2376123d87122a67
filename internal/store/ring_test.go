package store

import (
	"io"
	"log/slog"
	"testing"
)

func TestLogRing_OrderAndEviction(t *testing.T) {
	r := NewLogRing(3)

	r.Append(LogEntry{TS: 1, Msg: "a"})
	r.Append(LogEntry{TS: 2, Msg: "b"})

	got := r.List()
	if len(got) != 2 || got[0].Msg != "a" || got[1].Msg != "b" {
		t.Fatalf("List() = %+v, want [a b]", got)
	}

	r.Append(LogEntry{TS: 3, Msg: "c"})
	r.Append(LogEntry{TS: 4, Msg: "d"})
	r.Append(LogEntry{TS: 5, Msg: "e"})

	got = r.List()
	if len(got) != 3 {
		t.Fatalf("List() length = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i].Msg != want {
			t.Errorf("List()[%d] = %q, want %q", i, got[i].Msg, want)
		}
	}
}

func TestRingHandler_CapturesRecords(t *testing.T) {
	ring := NewLogRing(8)
	logger := slog.New(NewRingHandler(slog.NewTextHandler(io.Discard, nil), ring))

	logger.Info("agent connected", "deviceId", "dev-42")
	logger.With("component", "router").Warn("protocol error")

	entries := ring.List()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	first := entries[0]
	if first.Level != "INFO" || first.Msg != "agent connected" {
		t.Errorf("first entry = %+v", first)
	}
	if first.Meta["deviceId"] != "dev-42" {
		t.Errorf("meta = %v, want deviceId dev-42", first.Meta)
	}
	if first.TS == 0 {
		t.Error("ts should be set")
	}

	second := entries[1]
	if second.Level != "WARN" {
		t.Errorf("level = %q, want WARN", second.Level)
	}
	if second.Meta["component"] != "router" {
		t.Errorf("meta = %v, want component router from With", second.Meta)
	}
}

func TestStoreLogPassthrough(t *testing.T) {
	s, _ := newTestStore(t)

	s.AppendLog("info", "manual entry", map[string]any{"k": "v"})

	logs := s.Logs()
	if len(logs) != 1 || logs[0].Msg != "manual entry" || logs[0].Meta["k"] != "v" {
		t.Errorf("Logs() = %+v, want the manual entry", logs)
	}
}
