package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsMessage is the frame shape pushed to WebSocket clients.
type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WebSocketHandler pushes broker events to WebSocket clients as JSON text
// frames. Incoming client frames are read only to notice the close.
func WebSocketHandler(broker *Broker, snapshot Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := parseTypes(r.URL.Query().Get("types"))

		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := wsutil.ReadClientData(conn); err != nil {
					return
				}
			}
		}()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		send := func(evt Event) bool {
			data, err := json.Marshal(wsMessage{Type: evt.Type, Data: evt.Data})
			if err != nil {
				return true
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				slog.Debug("websocket write failed", "error", err)
				return false
			}
			return true
		}

		if snapshot != nil {
			if evt, ok := snapshot(); ok && filter.allows(evt.Type) && !send(evt) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter.allows(evt.Type) && !send(evt) {
					return
				}
			}
		}
	}
}
