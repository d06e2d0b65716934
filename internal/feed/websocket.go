package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// WebSocket streams JSON-encoded bars pushed by an upstream feed over a
// websocket connection. One message carries one bar.
type WebSocket struct {
	endpoint    string
	readTimeout time.Duration
}

func NewWebSocket(endpoint string) *WebSocket {
	return &WebSocket{
		endpoint:    endpoint,
		readTimeout: 90 * time.Second,
	}
}

func (w *WebSocket) Bars(ctx context.Context) (<-chan types.Bar, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect bar feed %s: %w", w.endpoint, err)
	}

	out := make(chan types.Bar)
	go func() {
		defer close(out)
		defer conn.Close()

		// Unblock ReadMessage when the context is cancelled.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			if err := conn.SetReadDeadline(time.Now().Add(w.readTimeout)); err != nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Str("endpoint", w.endpoint).Msg("bar feed read failed")
				}
				return
			}

			var bar types.Bar
			if err := json.Unmarshal(message, &bar); err != nil {
				log.Warn().Err(err).Msg("dropping malformed bar message")
				continue
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
