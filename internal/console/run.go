package console

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run logs in against the hub, starts the admin WebSocket client and
// drives the dashboard TUI until the user quits or ctx is canceled.
func Run(ctx context.Context, opts Options) error {
	var p *tea.Program

	client := NewClient(opts,
		func(msgType string, raw []byte) {
			if p != nil {
				p.Send(hubMsg{Type: msgType, Raw: raw})
			}
		},
		func(connected, reconnecting bool) {
			if p != nil {
				p.Send(connStateMsg{Connected: connected, Reconnecting: reconnecting})
			}
		})

	// Authenticate up front so credential errors surface before the
	// alternate screen takes over the terminal.
	if _, err := client.Login(ctx); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p = tea.NewProgram(newModel(client, opts), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			p.Send(hubMsg{Type: "error", Raw: []byte(fmt.Sprintf(`{"type":"error","message":%q}`, err.Error()))})
		}
	}()

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("console: %w", err)
	}
	return nil
}
