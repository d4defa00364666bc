package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser dashboards connect from other origins; auth happens via
	// the bearer token, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleCowWS serves the WebSocket variant of an animal's live feed
// for clients that need bidirectional framing or native ping/pong.
func (s *Server) handleCowWS(w http.ResponseWriter, r *http.Request) {
	cow, ok := s.ownedCow(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade failed: %v", err)
		return
	}

	sub := s.cowHub.Subscribe(cow.CowID.String())
	defer s.cowHub.Unsubscribe(sub)

	if s.OnStreamClient != nil {
		s.OnStreamClient("ws", +1)
		defer s.OnStreamClient("ws", -1)
	}

	// Read pump: we ignore client payloads, but reading drives pong
	// handling and disconnect detection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-r.Context().Done():
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-s.done:
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-done:
			return
		case msg := <-sub.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
