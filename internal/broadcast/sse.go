package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dgnsrekt/kwitch/internal/message"
)

// SSEHandler streams envelopes as server-sent events. The first event is a
// GET_CHANNELS_RESPONSE with the cached collection, followed by every
// broadcast. Clients may filter with ?types=CHANNELS_UPDATED,...
func SSEHandler(sub Subscriber, pull PullFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var typeFilter map[message.Type]bool
		if q := r.URL.Query().Get("types"); q != "" {
			typeFilter = make(map[message.Type]bool)
			for _, f := range strings.Split(q, ",") {
				if f = strings.TrimSpace(f); f != "" {
					typeFilter[message.Type(f)] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		events := make(chan message.Envelope, subscriberBufSize)
		unsubscribe := sub.Subscribe(queueHandler(events))
		defer unsubscribe()

		if chs, err := pull(r.Context()); err != nil {
			slog.Warn("broadcast pull failed", "transport", "sse", "error", err)
		} else if err := writeSSE(w, message.GetChannelsResponse(chs)); err != nil {
			return
		}
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case env := <-events:
				if typeFilter != nil && !typeFilter[env.Type] {
					continue
				}
				if err := writeSSE(w, env); err != nil {
					slog.Debug("sse write failed", "error", err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, env message.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Type, data)
	return err
}
