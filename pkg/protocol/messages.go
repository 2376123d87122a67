// Package protocol defines the wire protocol messages exchanged between
// Lookout components (desktop agent ↔ hub ↔ admin clients) over WebSocket.
//
// All messages are JSON-encoded and flat: a "type" field at the top level
// determines the remaining structure. Agents may additionally send raw
// binary WebSocket messages whose entire payload is a JPEG frame body.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message type constants.
const (
	// Agent → hub
	TypePing            = "ping"
	TypeFrame           = "frame"
	TypeScreenFrame     = "screen_frame"
	TypeConsentResponse = "consent_response"
	TypeComplianceEvent = "compliance_event"

	// Hub → agent
	TypePong           = "pong"
	TypeConsentRequest = "consent_request"

	// Stream control is emitted in both spellings; older agents only
	// understand the underscore form.
	TypeStreamEnable        = "stream-enable"
	TypeStreamEnableCompat  = "stream_enable"
	TypeStreamDisable       = "stream-disable"
	TypeStreamDisableCompat = "stream_disable"

	// Admin → hub
	TypeRequestRemoteAccess = "request_remote_access"

	// Hub → admin
	TypeDevicesSnapshot = "devices_snapshot"
	TypeDevicePresence  = "device_presence"
	TypeConsentStatus   = "consent_status"
	TypeError           = "error"
)

// TypeOf extracts the "type" discriminator from a raw JSON message so the
// receiver can pick the right DTO to decode into.
func TypeOf(raw []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", fmt.Errorf("decode message head: %w", err)
	}
	if head.Type == "" {
		return "", fmt.Errorf("message has no type field")
	}
	return head.Type, nil
}

// --- Agent → hub ---

// Ping is the agent's application-level heartbeat.
type Ping struct {
	Type string `json:"type"`
}

// JSONFrame is the JSON-encoded frame form. Exactly one of JPEGBase64 or
// JPEG is set; both accept raw base64 or a data: URL.
type JSONFrame struct {
	Type       string `json:"type"`
	JPEGBase64 string `json:"jpegBase64,omitempty"`
	JPEG       string `json:"jpeg,omitempty"`
}

// Image decodes the frame body, returning the raw bytes and MIME type.
func (f *JSONFrame) Image() ([]byte, string, error) {
	s := f.JPEGBase64
	if s == "" {
		s = f.JPEG
	}
	return ParseImage(s)
}

// ParseImage decodes a frame string that is either raw base64 or a
// data:image/…;base64, URL. The MIME type defaults to image/jpeg unless the
// data URL names another image type.
func ParseImage(s string) ([]byte, string, error) {
	if s == "" {
		return nil, "", fmt.Errorf("empty frame body")
	}
	mime := "image/jpeg"
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ";base64,")
		if idx < 0 {
			return nil, "", fmt.Errorf("data URL without base64 payload")
		}
		if m := s[len("data:"):idx]; m != "" {
			mime = m
		}
		s = s[idx+len(";base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some senders omit padding.
		data, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, "", fmt.Errorf("decode frame base64: %w", err)
		}
	}
	return data, mime, nil
}

// ConsentResponse carries the machine user's decision from the agent.
type ConsentResponse struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ComplianceReport is an agent-side detection pushed to the hub. The hub
// assigns the event id and fills the device from the session.
type ComplianceReport struct {
	Type       string   `json:"type"`
	Author     string   `json:"author,omitempty"`
	Context    string   `json:"context,omitempty"`
	Content    string   `json:"content,omitempty"`
	Matches    []string `json:"matches,omitempty"`
	Severity   string   `json:"severity,omitempty"` // low, medium, high
	Suspicious bool     `json:"suspicious,omitempty"`
	Timestamp  int64    `json:"timestamp,omitempty"` // epoch ms; 0 means now
}

// --- Hub → agent ---

// Pong answers an agent Ping.
type Pong struct {
	Type string `json:"type"`
}

// ConsentRequest asks the machine user to approve remote viewing.
type ConsentRequest struct {
	Type  string `json:"type"`
	Admin string `json:"admin"`
}

// StreamSignal tells the agent to start or stop sending frames.
type StreamSignal struct {
	Type string `json:"type"`
}

// StreamEnableSignals returns both spellings of the enable verb, in the
// order they are emitted.
func StreamEnableSignals() []StreamSignal {
	return []StreamSignal{{Type: TypeStreamEnable}, {Type: TypeStreamEnableCompat}}
}

// StreamDisableSignals returns both spellings of the disable verb.
func StreamDisableSignals() []StreamSignal {
	return []StreamSignal{{Type: TypeStreamDisable}, {Type: TypeStreamDisableCompat}}
}

// --- Admin → hub ---

// RemoteAccessRequest asks the hub to start a consent flow for a device.
type RemoteAccessRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
}

// --- Hub → admin ---

// DeviceSummary is one device row, shared by the REST device list and the
// WebSocket snapshot. ID duplicates DeviceID for older console builds.
type DeviceSummary struct {
	ID                     string `json:"id"`
	DeviceID               string `json:"deviceId"`
	Name                   string `json:"name"`
	Tenant                 string `json:"tenant"`
	Connected              bool   `json:"connected"`
	Online                 bool   `json:"online"`
	LastSeen               *int64 `json:"lastSeen"` // epoch ms, null if never
	AgentVersion           string `json:"agentVersion,omitempty"`
	ComplianceFlag         bool   `json:"complianceFlag"`
	ComplianceCount        int    `json:"complianceCount"`
	ComplianceLastAt       *int64 `json:"complianceLastAt,omitempty"`
	ComplianceLastSeverity string `json:"complianceLastSeverity,omitempty"`
}

// DevicesSnapshot is sent to an admin right after it connects.
type DevicesSnapshot struct {
	Type    string          `json:"type"`
	Devices []DeviceSummary `json:"devices"`
}

// DevicePresence announces a device going online or offline.
type DevicePresence struct {
	Type         string `json:"type"`
	DeviceID     string `json:"deviceId"`
	Online       bool   `json:"online"`
	LastSeen     *int64 `json:"lastSeen,omitempty"`
	AgentVersion string `json:"agentVersion,omitempty"`
}

// ConsentResult is broadcast to same-tenant admins when the agent answers,
// or sent synthetically to the requester when the agent is offline.
type ConsentResult struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ConsentStatus reports request progress to the requesting admin.
type ConsentStatus struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Status   string `json:"status"` // "sent_to_agent"
}

// ConsentStatusSentToAgent is the only status currently emitted.
const ConsentStatusSentToAgent = "sent_to_agent"

// ComplianceNotice tells admins a device's compliance aggregate changed.
type ComplianceNotice struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	Count    int    `json:"count"`
	Severity string `json:"severity,omitempty"`
	TS       int64  `json:"ts"`
}

// ErrorMessage reports a rejected admin command over the socket.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
