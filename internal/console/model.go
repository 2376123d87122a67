package console

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lookout-fleet/lookout/pkg/protocol"
)

// panel identifies which dashboard panel is focused.
type panel int

const (
	panelDevices panel = iota
	panelEvents
)

// hubMsg wraps one WebSocket message from the hub.
type hubMsg struct {
	Type string
	Raw  []byte
}

// connStateMsg carries connection state changes from the client goroutine.
type connStateMsg struct {
	Connected    bool
	Reconnecting bool
}

// model is the root dashboard TUI model.
type model struct {
	client  *Client
	hubURL  string
	user    string
	tenants []string

	devices devicesModel
	events  eventsModel

	activePanel  panel
	connected    bool
	reconnecting bool
	showHelp     bool
	width        int
	height       int
	status       string
}

func newModel(client *Client, opts Options) model {
	return model{
		client:  client,
		hubURL:  opts.HubURL,
		user:    opts.Username,
		tenants: client.Tenants(),
		devices: newDevices(),
		events:  newEvents(),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.events.setSize(msg.Width-4, m.eventsHeight())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c", "q"))):
			return m, tea.Quit
		case key.Matches(msg, key.NewBinding(key.WithKeys("tab"))):
			if m.activePanel == panelDevices {
				m.activePanel = panelEvents
			} else {
				m.activePanel = panelDevices
			}
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("?"))):
			m.showHelp = !m.showHelp
			return m, nil
		case key.Matches(msg, key.NewBinding(key.WithKeys("enter", "r"))):
			if dev, ok := m.devices.selected(); ok {
				if err := m.client.RequestRemoteAccess(dev.DeviceID); err != nil {
					m.status = fmt.Sprintf("request failed: %v", err)
				} else {
					m.status = fmt.Sprintf("remote access requested for %s", dev.DeviceID)
				}
			}
			return m, nil
		}

	case connStateMsg:
		m.connected = msg.Connected
		m.reconnecting = msg.Reconnecting
		return m, nil

	case hubMsg:
		m.applyHubMsg(msg)
		return m, nil
	}

	var cmd tea.Cmd
	switch m.activePanel {
	case panelDevices:
		m.devices, cmd = m.devices.Update(msg)
	case panelEvents:
		m.events, cmd = m.events.Update(msg)
	}
	return m, cmd
}

// applyHubMsg folds one hub message into the device table and event feed.
func (m *model) applyHubMsg(msg hubMsg) {
	switch msg.Type {
	case protocol.TypeDevicesSnapshot:
		var snap protocol.DevicesSnapshot
		if json.Unmarshal(msg.Raw, &snap) == nil {
			m.devices.setSnapshot(snap.Devices)
		}

	case protocol.TypeDevicePresence:
		var p protocol.DevicePresence
		if json.Unmarshal(msg.Raw, &p) == nil {
			m.devices.applyPresence(p)
			label := "offline"
			style := lipgloss.NewStyle().Foreground(colorError)
			if p.Online {
				label = "online"
				style = lipgloss.NewStyle().Foreground(colorSuccess)
			}
			m.events.add("presence", fmt.Sprintf("%s is %s", p.DeviceID, label), style)
		}

	case protocol.TypeConsentResponse:
		var c protocol.ConsentResult
		if json.Unmarshal(msg.Raw, &c) == nil {
			text := fmt.Sprintf("%s denied remote access", c.DeviceID)
			style := lipgloss.NewStyle().Foreground(colorWarning)
			if c.Accepted {
				text = fmt.Sprintf("%s granted remote access", c.DeviceID)
				style = lipgloss.NewStyle().Foreground(colorSuccess)
			}
			if c.Reason != "" {
				text += " (" + c.Reason + ")"
			}
			m.events.add("consent", text, style)
		}

	case protocol.TypeConsentStatus:
		var c protocol.ConsentStatus
		if json.Unmarshal(msg.Raw, &c) == nil {
			m.events.add("consent", fmt.Sprintf("%s: %s", c.DeviceID, c.Status), dimmedStyle)
		}

	case protocol.TypeComplianceEvent:
		var n protocol.ComplianceNotice
		if json.Unmarshal(msg.Raw, &n) == nil {
			m.devices.applyCompliance(n)
			m.events.add("compliance",
				fmt.Sprintf("%s: %d events, last %s", n.DeviceID, n.Count, n.Severity),
				severityStyle(n.Severity))
		}

	case protocol.TypeError:
		var e protocol.ErrorMessage
		if json.Unmarshal(msg.Raw, &e) == nil {
			m.events.add("error", e.Message, lipgloss.NewStyle().Foreground(colorError))
		}
	}
}

func (m model) View() string {
	if m.showHelp {
		return m.helpView()
	}

	header := m.headerView()

	devStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Width(m.width - 2)
	evStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorMuted).
		Width(m.width - 2)

	if m.activePanel == panelDevices {
		devStyle = devStyle.BorderForeground(colorPrimary)
	} else {
		evStyle = evStyle.BorderForeground(colorPrimary)
	}

	devView := devStyle.Render(subtitleStyle.Render(" Devices") + "\n" + m.devices.View())
	evView := evStyle.Render(subtitleStyle.Render(" Events") + "\n" + m.events.View())

	bar := helpStyle.Render("  q quit  Tab switch  j/k navigate  Enter request access  ? help")
	if m.status != "" {
		bar += "    " + dimmedStyle.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left, header, devView, evView, bar)
}

func (m model) headerView() string {
	left := titleStyle.Render("Lookout Console")
	right := fmt.Sprintf("%s  %s %s", m.hubURL,
		statusDot(m.connected, m.reconnecting),
		statusText(m.connected, m.reconnecting))

	info := fmt.Sprintf("  User: %s   Tenants: %s", m.user, strings.Join(m.tenants, ", "))

	headerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorPrimary).
		Width(m.width - 2).
		Padding(0, 1)

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 6
	if gap < 1 {
		gap = 1
	}
	firstRow := lipgloss.JoinHorizontal(lipgloss.Top,
		left, lipgloss.NewStyle().Width(gap).Render(""), right)

	return headerStyle.Render(firstRow + "\n" + dimmedStyle.Render(info))
}

func (m model) helpView() string {
	title := titleStyle.Render("Keyboard Shortcuts") + "\n\n"

	binds := []struct {
		key  string
		desc string
	}{
		{"q / Ctrl+C", "Quit"},
		{"Tab", "Switch between Devices and Events panels"},
		{"j / Down", "Move down / scroll down"},
		{"k / Up", "Move up / scroll up"},
		{"Enter / r", "Request remote access for the selected device"},
		{"G", "Jump to bottom"},
		{"g", "Jump to top"},
		{"?", "Toggle this help"},
	}

	keyStyle := lipgloss.NewStyle().Foreground(colorAccent).Bold(true).Width(14)
	descStyle := lipgloss.NewStyle().Foreground(colorText)

	s := title
	for _, b := range binds {
		s += "  " + keyStyle.Render(b.key) + descStyle.Render(b.desc) + "\n"
	}
	s += "\n" + helpStyle.Render("  Press ? to close")

	return lipgloss.NewStyle().Padding(1, 2).Render(s)
}

func (m model) eventsHeight() int {
	used := 6 + m.devices.height() + 4
	h := m.height - used
	if h < 5 {
		h = 5
	}
	return h
}
