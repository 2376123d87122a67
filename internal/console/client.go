// Package console is the terminal dashboard behind `lookout-hub console`:
// it logs in over REST, attaches to the hub as an admin over WebSocket, and
// renders the live fleet.
package console

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lookout-fleet/lookout/pkg/protocol"
)

// Options configure the console connection.
type Options struct {
	HubURL   string
	Username string
	Password string
	Insecure bool
}

// MessageHandler processes messages received from the hub.
type MessageHandler func(msgType string, raw []byte)

// StateHandler is notified of connection state changes.
type StateHandler func(connected, reconnecting bool)

const reconnectInterval = 3 * time.Second

// Client manages the console's admin connection to the hub: one REST login
// for the token, then an auto-reconnecting WebSocket.
type Client struct {
	opts    Options
	handler MessageHandler
	state   StateHandler
	httpc   *http.Client

	mu      sync.Mutex
	conn    *websocket.Conn
	token   string
	tenants []string
}

// NewClient creates a hub client. handler and state are called from the
// connection goroutine.
func NewClient(opts Options, handler MessageHandler, state StateHandler) *Client {
	transport := http.DefaultTransport
	if opts.Insecure {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &Client{
		opts:    opts,
		handler: handler,
		state:   state,
		httpc:   &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}
}

// Login authenticates against POST /api/login and keeps the token for the
// WebSocket connect. Returns the tenant grants for display.
func (c *Client) Login(ctx context.Context) ([]string, error) {
	body, err := json.Marshal(map[string]string{
		"username": c.opts.Username,
		"password": c.opts.Password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.opts.HubURL, "/")+"/api/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed: status %d", resp.StatusCode)
	}

	var out struct {
		Token string `json:"token"`
		User  struct {
			AllowedTenants []string `json:"allowedTenants"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = out.Token
	c.tenants = out.User.AllowedTenants
	c.mu.Unlock()
	return out.User.AllowedTenants, nil
}

// Tenants returns the grants from the last successful login.
func (c *Client) Tenants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenants
}

// Run keeps the admin WebSocket alive until the context is canceled,
// reconnecting with a fixed delay. Tokens are short-lived, so every
// reconnect attempt logs in again first.
func (c *Client) Run(ctx context.Context) error {
	first := true
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !first {
			if _, err := c.Login(ctx); err != nil {
				c.state(false, true)
			}
		}
		first = false

		if err := c.connectOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		c.state(false, true)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectInterval):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	wsURL, err := c.wsURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if c.opts.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	c.state(true, false)

	// Close cleanly when the context ends mid-read. The close frame goes
	// through the same mutex as RequestRemoteAccess; the writer is not
	// safe for concurrent use.
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		if c.conn == conn {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "console closed"))
		}
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		msgType, err := protocol.TypeOf(raw)
		if err != nil {
			continue
		}
		c.handler(msgType, raw)
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.opts.HubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/"

	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	q := u.Query()
	q.Set("role", "admin")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// RequestRemoteAccess asks the hub to start a consent flow for a device.
func (c *Client) RequestRemoteAccess(deviceID string) error {
	data, err := json.Marshal(protocol.RemoteAccessRequest{
		Type:     protocol.TypeRequestRemoteAccess,
		DeviceID: deviceID,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
