package popup

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dgnsrekt/kwitch/internal/message"
)

const (
	followAttempts = 5
	followDelay    = 2 * time.Second
)

// Run shows the popup until the user quits. Pushed updates from the daemon
// are applied while it is open.
func Run(ctx context.Context, c *Client) error {
	state := NewState(c)
	events := make(chan tea.Msg, 16)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		err := c.Follow(streamCtx, followAttempts, followDelay, func(env message.Envelope) {
			select {
			case events <- streamMsg(env):
			case <-streamCtx.Done():
			}
		})
		if streamCtx.Err() == nil {
			select {
			case events <- streamClosedMsg{err: err}:
			default:
			}
		}
	}()

	_, err := tea.NewProgram(NewModel(state, events), tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}
