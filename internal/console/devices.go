package console

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lookout-fleet/lookout/pkg/protocol"
)

type devicesModel struct {
	rows   []protocol.DeviceSummary
	cursor int
}

func newDevices() devicesModel {
	return devicesModel{}
}

// setSnapshot replaces the table with the hub's snapshot.
func (d *devicesModel) setSnapshot(rows []protocol.DeviceSummary) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].DeviceID < rows[j].DeviceID })
	d.rows = rows
	if d.cursor >= len(d.rows) {
		d.cursor = max(0, len(d.rows)-1)
	}
}

// applyPresence folds a presence broadcast into the table. Devices the
// console has never seen get a minimal row; the next snapshot fills it in.
func (d *devicesModel) applyPresence(p protocol.DevicePresence) {
	for i := range d.rows {
		if d.rows[i].DeviceID == p.DeviceID {
			d.rows[i].Connected = p.Online
			d.rows[i].Online = p.Online
			if p.LastSeen != nil {
				d.rows[i].LastSeen = p.LastSeen
			}
			if p.AgentVersion != "" {
				d.rows[i].AgentVersion = p.AgentVersion
			}
			return
		}
	}
	d.rows = append(d.rows, protocol.DeviceSummary{
		ID:           p.DeviceID,
		DeviceID:     p.DeviceID,
		Name:         p.DeviceID,
		Connected:    p.Online,
		Online:       p.Online,
		LastSeen:     p.LastSeen,
		AgentVersion: p.AgentVersion,
	})
	sort.Slice(d.rows, func(i, j int) bool { return d.rows[i].DeviceID < d.rows[j].DeviceID })
}

// applyCompliance folds a compliance notice into the table.
func (d *devicesModel) applyCompliance(n protocol.ComplianceNotice) {
	for i := range d.rows {
		if d.rows[i].DeviceID == n.DeviceID {
			d.rows[i].ComplianceFlag = n.Count > 0
			d.rows[i].ComplianceCount = n.Count
			d.rows[i].ComplianceLastSeverity = n.Severity
			ts := n.TS
			d.rows[i].ComplianceLastAt = &ts
			return
		}
	}
}

// selected returns the device under the cursor.
func (d *devicesModel) selected() (protocol.DeviceSummary, bool) {
	if d.cursor < 0 || d.cursor >= len(d.rows) {
		return protocol.DeviceSummary{}, false
	}
	return d.rows[d.cursor], true
}

func (d devicesModel) Update(msg tea.Msg) (devicesModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "j", "down":
			if d.cursor < len(d.rows)-1 {
				d.cursor++
			}
		case "k", "up":
			if d.cursor > 0 {
				d.cursor--
			}
		case "G":
			d.cursor = max(0, len(d.rows)-1)
		case "g":
			d.cursor = 0
		}
	}
	return d, nil
}

func (d devicesModel) View() string {
	if len(d.rows) == 0 {
		return dimmedStyle.Render("  No devices known to the hub")
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorSubtle).Bold(true)
	header := fmt.Sprintf("  %-3s %-18s %-20s %-6s %-10s %-9s %s",
		"", headerStyle.Render("DEVICE"), headerStyle.Render("NAME"),
		headerStyle.Render("STORE"), headerStyle.Render("LAST SEEN"),
		headerStyle.Render("AGENT"), headerStyle.Render("COMPLIANCE"))

	rows := header + "\n"
	for i, row := range d.rows {
		cursor := "  "
		style := lipgloss.NewStyle()
		if i == d.cursor {
			cursor = selectedStyle.Render("> ")
			style = style.Bold(true)
		}

		dot := offlineDot
		if row.Connected {
			dot = onlineDot
		}

		name := row.Name
		if len(name) > 18 {
			name = name[:18]
		}
		deviceID := row.DeviceID
		if len(deviceID) > 16 {
			deviceID = deviceID[:16]
		}

		compliance := dimmedStyle.Render("-")
		if row.ComplianceFlag {
			compliance = severityStyle(row.ComplianceLastSeverity).Render(
				fmt.Sprintf("%d %s", row.ComplianceCount, row.ComplianceLastSeverity))
		}

		line := fmt.Sprintf("%s %-18s %-20s %-6s %-10s %-9s %s",
			dot,
			style.Render(deviceID),
			style.Render(name),
			style.Render(row.Tenant),
			style.Render(formatLastSeen(row.LastSeen)),
			style.Render(row.AgentVersion),
			compliance,
		)
		rows += cursor + line + "\n"
	}
	return rows
}

func (d devicesModel) height() int {
	return min(len(d.rows)+2, 14)
}

func formatLastSeen(ms *int64) string {
	if ms == nil || *ms == 0 {
		return "-"
	}
	d := time.Since(time.UnixMilli(*ms))
	switch {
	case d < 0:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm ago", int(d.Hours()), int(d.Minutes())%60)
	}
}
