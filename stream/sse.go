package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one server-sent event.
type Message struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

// JSONMessage builds a message whose data is v encoded as JSON.
func JSONMessage(typ string, v any) (Message, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Msg: string(b)}, nil
}

func formatSSEResponse(msg Message) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", msg.Type, msg.Msg)
}

// EventsHandler serves cm's messages as a text/event-stream.
func EventsHandler(cm *ConnectionManager[Message]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		client, ok := cm.AddClient(r.RemoteAddr, r.UserAgent())
		if !ok {
			http.Error(w, "Server at capacity, please try again later", http.StatusServiceUnavailable)
			return
		}
		defer cm.RemoveClient(client)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Del("Content-Encoding")

		if _, err := io.WriteString(w, "data: {\"type\":\"connected\",\"msg\":\"SSE connection established\"}\n\n"); err != nil {
			return
		}
		flusher.Flush()

		keepAlive := time.NewTicker(KeepAliveInterval)
		defer keepAlive.Stop()
		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case msg := <-client.C:
				if _, err := io.WriteString(w, formatSSEResponse(msg)); err != nil {
					return
				}
				flusher.Flush()
			case <-keepAlive.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
