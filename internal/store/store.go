// Package store holds the hub's device registry, alias table, compliance
// event log, and operational log ring. Devices live in memory only; aliases
// and compliance events persist as JSON files under the data directory and
// are rewritten whole on every mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lookout-fleet/lookout/pkg/protocol"
)

const (
	aliasesFile    = "device-aliases.json"
	complianceFile = "compliance-events.json"
)

// ErrTenantMismatch is returned when a device already pinned to one tenant
// claims a different one.
var ErrTenantMismatch = errors.New("device is bound to a different tenant")

// Device is a managed machine. Created lazily on first contact and never
// destroyed; Connected tracks presence, not the raw socket state.
type Device struct {
	DeviceID     string
	Tenant       string
	Connected    bool
	LastSeen     time.Time // zero means never seen
	AgentVersion string
}

// Alias is an operator-assigned label for a device.
type Alias struct {
	Label     string `json:"label"`
	UpdatedAt int64  `json:"updatedAt"` // epoch ms
}

// ComplianceEvent is one detection reported by an agent.
type ComplianceEvent struct {
	ID         string   `json:"id"`
	DeviceID   string   `json:"deviceId"`
	Author     string   `json:"author,omitempty"`
	Context    string   `json:"context,omitempty"`
	Content    string   `json:"content,omitempty"`
	Matches    []string `json:"matches,omitempty"`
	Severity   string   `json:"severity,omitempty"` // low, medium, high
	Suspicious bool     `json:"suspicious,omitempty"`
	Timestamp  int64    `json:"timestamp"` // epoch ms
}

// Aggregate is the per-device compliance rollup kept incrementally and
// recomputed from the event log at startup.
type Aggregate struct {
	Count        int
	LastAt       int64
	LastSeverity string
}

// Store guards all hub state behind one mutex. List reads return copies.
type Store struct {
	mu         sync.Mutex
	dir        string
	devices    map[string]*Device
	aliases    map[string]Alias
	compliance []ComplianceEvent
	aggregates map[string]Aggregate
	ring       *LogRing
	logger     *slog.Logger
}

// New loads persisted state from dataDir, creating the directory if needed.
// Compliance aggregates are replayed from the event log.
func New(dataDir string, ring *LogRing, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		dir:        dataDir,
		devices:    make(map[string]*Device),
		aliases:    make(map[string]Alias),
		aggregates: make(map[string]Aggregate),
		ring:       ring,
		logger:     logger,
	}

	if err := loadJSON(filepath.Join(dataDir, aliasesFile), &s.aliases); err != nil {
		return nil, fmt.Errorf("load aliases: %w", err)
	}
	if err := loadJSON(filepath.Join(dataDir, complianceFile), &s.compliance); err != nil {
		return nil, fmt.Errorf("load compliance events: %w", err)
	}

	// Replay the log so aggregates match what a fresh append sequence
	// would have produced. Devices named by events exist with no tenant
	// until an agent binds one.
	for _, evt := range s.compliance {
		s.ensureDeviceLocked(evt.DeviceID)
		s.applyAggregateLocked(evt)
	}

	return s, nil
}

func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSONLocked rewrites a data file atomically via temp file + rename.
func (s *Store) writeJSONLocked(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(s.dir, name))
}

func (s *Store) ensureDeviceLocked(id string) *Device {
	d, ok := s.devices[id]
	if !ok {
		d = &Device{DeviceID: id}
		s.devices[id] = d
	}
	return d
}

// UpsertDevice creates the device if absent and pins its tenant on the first
// non-empty claim. A later conflicting claim returns ErrTenantMismatch.
func (s *Store) UpsertDevice(id, tenant string) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.ensureDeviceLocked(id)
	if tenant != "" {
		if d.Tenant == "" {
			d.Tenant = tenant
		} else if d.Tenant != tenant {
			return *d, fmt.Errorf("%w: %s is %s, claimed %s", ErrTenantMismatch, id, d.Tenant, tenant)
		}
	}
	return *d, nil
}

// Connect marks a device present after an agent admit. The tenant must
// already be resolved by the caller; a conflicting tenant is refused.
func (s *Store) Connect(id, tenant, version string) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.ensureDeviceLocked(id)
	if tenant != "" {
		if d.Tenant == "" {
			d.Tenant = tenant
		} else if d.Tenant != tenant {
			return *d, fmt.Errorf("%w: %s is %s, claimed %s", ErrTenantMismatch, id, d.Tenant, tenant)
		}
	}
	d.Connected = true
	d.LastSeen = time.Now()
	if version != "" {
		d.AgentVersion = version
	}
	return *d, nil
}

// Disconnect marks a device offline. Reports whether it was online.
func (s *Store) Disconnect(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	was := d.Connected
	d.Connected = false
	d.LastSeen = time.Now()
	return *d, was
}

// Touch bumps lastSeen for live agent traffic. When the device had been
// marked offline by the presence sweep, Touch revives it and reports the
// transition so the caller can broadcast presence.
func (s *Store) Touch(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	revived := !d.Connected
	d.Connected = true
	d.LastSeen = time.Now()
	return *d, revived
}

// ExpireBefore flips every connected device whose lastSeen predates the
// cutoff to offline and returns the flipped devices for broadcast.
func (s *Store) ExpireBefore(cutoff time.Time) []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Device
	for _, d := range s.devices {
		if d.Connected && d.LastSeen.Before(cutoff) {
			d.Connected = false
			expired = append(expired, *d)
		}
	}
	return expired
}

// Device returns one device by id.
func (s *Store) Device(id string) (Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Devices returns all devices sorted by id.
func (s *Store) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// DeviceSummaries joins devices with aliases and compliance aggregates into
// the wire rows shared by the REST list and the admin snapshot. visible
// filters by device tenant.
func (s *Store) DeviceSummaries(visible func(tenant string) bool) []protocol.DeviceSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]protocol.DeviceSummary, 0, len(s.devices))
	for _, d := range s.devices {
		if !visible(d.Tenant) {
			continue
		}
		out = append(out, s.summaryLocked(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// DeviceSummary returns the wire row for one device.
func (s *Store) DeviceSummary(id string) (protocol.DeviceSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return protocol.DeviceSummary{}, false
	}
	return s.summaryLocked(d), true
}

func (s *Store) summaryLocked(d *Device) protocol.DeviceSummary {
	name := d.DeviceID
	if a, ok := s.aliases[d.DeviceID]; ok && a.Label != "" {
		name = a.Label
	}
	agg := s.aggregates[d.DeviceID]

	row := protocol.DeviceSummary{
		ID:              d.DeviceID,
		DeviceID:        d.DeviceID,
		Name:            name,
		Tenant:          d.Tenant,
		Connected:       d.Connected,
		Online:          d.Connected,
		AgentVersion:    d.AgentVersion,
		ComplianceFlag:  agg.Count > 0,
		ComplianceCount: agg.Count,
	}
	if !d.LastSeen.IsZero() {
		ms := d.LastSeen.UnixMilli()
		row.LastSeen = &ms
	}
	if agg.LastAt != 0 {
		la := agg.LastAt
		row.ComplianceLastAt = &la
	}
	row.ComplianceLastSeverity = agg.LastSeverity
	return row
}

// Alias returns the alias for a device.
func (s *Store) Alias(id string) (Alias, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.aliases[id]
	return a, ok
}

// ListAliases returns a copy of the alias table.
func (s *Store) ListAliases() map[string]Alias {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Alias, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

// PutAlias sets or, for an empty label, deletes a device alias. The change
// is persisted before returning; on write failure memory is rolled back.
func (s *Store) PutAlias(id, label string) (Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.aliases[id]

	var cur Alias
	if label == "" {
		delete(s.aliases, id)
	} else {
		cur = Alias{Label: label, UpdatedAt: time.Now().UnixMilli()}
		s.aliases[id] = cur
	}

	if err := s.writeJSONLocked(aliasesFile, s.aliases); err != nil {
		if had {
			s.aliases[id] = prev
		} else {
			delete(s.aliases, id)
		}
		s.logger.Error("persist aliases failed", "deviceId", id, "error", err)
		return Alias{}, fmt.Errorf("persist aliases: %w", err)
	}
	return cur, nil
}

// AppendCompliance records one event, assigning id and timestamp when
// absent, persists the log, and updates the device aggregate. The device is
// upserted if the event names an unknown one.
func (s *Store) AppendCompliance(evt ComplianceEvent) (ComplianceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.DeviceID == "" {
		return ComplianceEvent{}, fmt.Errorf("compliance event without deviceId")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().UnixMilli()
	}

	s.ensureDeviceLocked(evt.DeviceID)
	s.compliance = append(s.compliance, evt)

	if err := s.writeJSONLocked(complianceFile, s.compliance); err != nil {
		s.compliance = s.compliance[:len(s.compliance)-1]
		s.logger.Error("persist compliance events failed", "deviceId", evt.DeviceID, "error", err)
		return ComplianceEvent{}, fmt.Errorf("persist compliance events: %w", err)
	}

	s.applyAggregateLocked(evt)
	return evt, nil
}

func (s *Store) applyAggregateLocked(evt ComplianceEvent) {
	agg := s.aggregates[evt.DeviceID]
	agg.Count++
	agg.LastAt = evt.Timestamp
	agg.LastSeverity = evt.Severity
	s.aggregates[evt.DeviceID] = agg
}

// ListCompliance returns events newest first, optionally filtered by device.
func (s *Store) ListCompliance(deviceID string) []ComplianceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ComplianceEvent, 0, len(s.compliance))
	for _, evt := range s.compliance {
		if deviceID == "" || evt.DeviceID == deviceID {
			out = append(out, evt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out
}

// Aggregate returns the compliance rollup for a device.
func (s *Store) Aggregate(id string) Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.aggregates[id]
}

// AppendLog adds an entry to the operational log ring.
func (s *Store) AppendLog(level, msg string, meta map[string]any) {
	s.ring.Append(LogEntry{TS: time.Now().UnixMilli(), Level: level, Msg: msg, Meta: meta})
}

// Logs returns the ring contents, oldest first.
func (s *Store) Logs() []LogEntry {
	return s.ring.List()
}
