// Package audit records security-relevant hub actions in a durable store,
// separate from the volatile operational log ring.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lookout-fleet/lookout/internal/config"
)

// Audited actions.
const (
	ActionLoginSuccess    = "login.success"
	ActionLoginFailed     = "login.failed"
	ActionAliasUpdate     = "alias.update"
	ActionAliasDelete     = "alias.delete"
	ActionConsentRequest  = "consent.request"
	ActionConsentResponse = "consent.response"
	ActionStreamOpen      = "stream.open"
	ActionStreamClose     = "stream.close"
	ActionAgentConnect    = "agent.connect"
	ActionAgentSupplant   = "agent.supplant"
	ActionAgentDisconnect = "agent.disconnect"
)

// Event is one audit log entry.
type Event struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Actor     string          `json:"actor,omitempty"`
	DeviceID  string          `json:"deviceId,omitempty"`
	Tenant    string          `json:"tenant,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Filter specifies criteria for listing audit events.
type Filter struct {
	Action   string // prefix match
	Actor    string
	DeviceID string
	Limit    int // default 50
	Offset   int
}

// Store persists audit events.
type Store interface {
	Record(ctx context.Context, event *Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// NewStore creates the audit store selected by configuration.
func NewStore(cfg config.AuditConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	case "disabled", "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown audit driver: %q", cfg.Driver)
	}
}

// NopStore discards everything. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Record(context.Context, *Event) error            { return nil }
func (NopStore) List(context.Context, Filter) ([]Event, error)   { return nil, nil }
func (NopStore) Purge(context.Context, time.Time) (int64, error) { return 0, nil }
func (NopStore) Close() error                                    { return nil }

// Recorder is the fire-and-forget front the rest of the hub uses. A failed
// write is logged and never propagated to the originating request.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder wraps a store for fire-and-forget recording.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// Record writes one event. detail, when non-nil, is marshalled to JSON.
func (r *Recorder) Record(ctx context.Context, action, actor, deviceID, tenant string, detail any) {
	evt := &Event{
		ID:        uuid.New().String(),
		Action:    action,
		Actor:     actor,
		DeviceID:  deviceID,
		Tenant:    tenant,
		CreatedAt: time.Now(),
	}
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			r.logger.Warn("audit detail marshal failed", "action", action, "error", err)
		} else {
			evt.Detail = raw
		}
	}
	if err := r.store.Record(ctx, evt); err != nil {
		r.logger.Warn("audit write failed", "action", action, "error", err)
	}
}
