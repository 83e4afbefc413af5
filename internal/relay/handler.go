package relay

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

const heartbeatInterval = 15 * time.Second

// Snapshot returns the event a new client sees first, usually the current
// engine status. ok=false sends nothing.
type Snapshot func() (evt Event, ok bool)

// SSEHandler streams broker events as server-sent events. Clients may filter
// by event type with ?types=state,export_succeeded.
func SSEHandler(broker *Broker, snapshot Snapshot) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		filter := parseTypes(r.URL.Query().Get("types"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		if snapshot != nil {
			if evt, ok := snapshot(); ok && filter.allows(evt.Type) {
				writeSSE(w, evt)
			}
		}
		flusher.Flush()

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !filter.allows(evt.Type) {
					continue
				}
				writeSSE(w, evt)
				flusher.Flush()
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, evt Event) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
}

type typeFilter map[string]bool

// parseTypes returns nil (accept all) for an empty list.
func parseTypes(q string) typeFilter {
	if q == "" {
		return nil
	}
	f := make(typeFilter)
	for _, t := range strings.Split(q, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = true
		}
	}
	return f
}

func (f typeFilter) allows(typ string) bool {
	return f == nil || f[typ]
}
