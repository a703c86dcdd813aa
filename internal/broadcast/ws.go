package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// CommandHandler executes an inbound command envelope. A non-nil reply is
// sent back on the same connection.
type CommandHandler interface {
	HandleCommand(ctx context.Context, env message.Envelope) (*message.Envelope, error)
}

// WebSocketHandler upgrades to a WebSocket, sends the cached collection,
// streams every broadcast and accepts command envelopes from the client.
func WebSocketHandler(sub Subscriber, pull PullFunc, cmds CommandHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer func() {
			_ = conn.Close()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan message.Envelope, subscriberBufSize)
		unsubscribe := sub.Subscribe(queueHandler(out))
		defer unsubscribe()

		if chs, err := pull(ctx); err != nil {
			slog.Warn("broadcast pull failed", "transport", "websocket", "error", err)
		} else {
			out <- message.GetChannelsResponse(chs)
		}

		go readCommands(ctx, cancel, conn, cmds, out)

		for {
			select {
			case <-ctx.Done():
				return
			case env := <-out:
				data, err := json.Marshal(env)
				if err != nil {
					slog.Debug("websocket encode failed", "type", env.Type, "error", err)
					continue
				}
				if err := wsutil.WriteServerMessage(conn, ws.OpText, data); err != nil {
					slog.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	}
}

func readCommands(ctx context.Context, cancel context.CancelFunc, conn net.Conn, cmds CommandHandler, out chan<- message.Envelope) {
	defer cancel()
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		env, err := message.Decode(data)
		if err != nil {
			slog.Debug("websocket command rejected", "error", err)
			continue
		}
		if cmds == nil {
			continue
		}
		reply, err := cmds.HandleCommand(ctx, env)
		if err != nil {
			slog.Warn("websocket command failed", "type", env.Type, "error", err)
			continue
		}
		if reply != nil {
			select {
			case out <- *reply:
			case <-ctx.Done():
				return
			}
		}
	}
}
