package console

import (
	"testing"

	"github.com/lookout-fleet/lookout/pkg/protocol"
)

func TestDevicesSnapshotSortsAndClampsCursor(t *testing.T) {
	d := newDevices()
	d.setSnapshot([]protocol.DeviceSummary{
		{DeviceID: "STORE-02", Name: "Back office"},
		{DeviceID: "STORE-01", Name: "Front desk"},
	})
	if d.rows[0].DeviceID != "STORE-01" || d.rows[1].DeviceID != "STORE-02" {
		t.Fatalf("snapshot not sorted: %v, %v", d.rows[0].DeviceID, d.rows[1].DeviceID)
	}

	d.cursor = 1
	d.setSnapshot([]protocol.DeviceSummary{{DeviceID: "STORE-01"}})
	if d.cursor != 0 {
		t.Fatalf("cursor = %d, want 0 after shrink", d.cursor)
	}

	dev, ok := d.selected()
	if !ok || dev.DeviceID != "STORE-01" {
		t.Fatalf("selected() = %v, %v", dev.DeviceID, ok)
	}
}

func TestDevicesPresenceUpdatesKnownRow(t *testing.T) {
	d := newDevices()
	d.setSnapshot([]protocol.DeviceSummary{{DeviceID: "STORE-01", Connected: false}})

	ts := int64(1700000000000)
	d.applyPresence(protocol.DevicePresence{
		DeviceID:     "STORE-01",
		Online:       true,
		LastSeen:     &ts,
		AgentVersion: "2.1.0",
	})

	row := d.rows[0]
	if !row.Connected || !row.Online {
		t.Fatal("presence did not mark row online")
	}
	if row.LastSeen == nil || *row.LastSeen != ts {
		t.Fatalf("lastSeen = %v, want %d", row.LastSeen, ts)
	}
	if row.AgentVersion != "2.1.0" {
		t.Fatalf("agentVersion = %q", row.AgentVersion)
	}
}

func TestDevicesPresenceAppendsUnknownRow(t *testing.T) {
	d := newDevices()
	d.setSnapshot([]protocol.DeviceSummary{{DeviceID: "STORE-02"}})

	d.applyPresence(protocol.DevicePresence{DeviceID: "STORE-01", Online: true})

	if len(d.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(d.rows))
	}
	// The synthetic row sorts into place and stays online.
	if d.rows[0].DeviceID != "STORE-01" || !d.rows[0].Connected {
		t.Fatalf("unexpected first row: %+v", d.rows[0])
	}
}

func TestDevicesComplianceFoldsIntoRow(t *testing.T) {
	d := newDevices()
	d.setSnapshot([]protocol.DeviceSummary{{DeviceID: "STORE-01"}})

	d.applyCompliance(protocol.ComplianceNotice{
		DeviceID: "STORE-01",
		Count:    3,
		Severity: "critical",
		TS:       1700000000000,
	})

	row := d.rows[0]
	if !row.ComplianceFlag || row.ComplianceCount != 3 {
		t.Fatalf("compliance not applied: %+v", row)
	}
	if row.ComplianceLastSeverity != "critical" {
		t.Fatalf("severity = %q", row.ComplianceLastSeverity)
	}
	if row.ComplianceLastAt == nil || *row.ComplianceLastAt != 1700000000000 {
		t.Fatalf("complianceLastAt = %v", row.ComplianceLastAt)
	}

	// Unknown device is ignored rather than appended.
	d.applyCompliance(protocol.ComplianceNotice{DeviceID: "STORE-09", Count: 1})
	if len(d.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(d.rows))
	}
}
