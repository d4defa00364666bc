package api

import (
	"fmt"
	"net/http"

	"cattle-backendv3/internal/model"
	"cattle-backendv3/internal/stream"
)

// handleCowStream serves the SSE feed for one animal's channel.
func (s *Server) handleCowStream(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}
	s.serveSSE(w, r, s.cowHub, cow.CowID.String())
}

// handleSystemStream serves the SSE feed for a named system channel.
func (s *Server) handleSystemStream(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	switch channel {
	case model.ChannelMLTraining, model.ChannelGlobalAlerts:
	default:
		writeError(w, http.StatusNotFound, "unknown system channel")
		return
	}
	s.serveSSE(w, r, s.sysHub, channel)
}

// serveSSE subscribes the response to a hub key and relays events as
// `data: <json>` frames until the client goes away.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, hub *stream.Hub, key string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub := hub.Subscribe(key)
	defer hub.Unsubscribe(sub)

	if s.OnStreamClient != nil {
		s.OnStreamClient("sse", +1)
		defer s.OnStreamClient("sse", -1)
	}

	// Initial frame confirms the subscription to the client.
	fmt.Fprintf(w, "data: {\"event\":%q,\"channel\":%q}\n\n", model.EventConnected, key)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case msg := <-sub.C:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
