package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/velocap/internal/monitoring"
)

const streamWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleFrameStream upgrades to a websocket and pushes a FrameSample as JSON
// text message for every frame observed until the client goes away or the
// server shuts down. Client messages are read and discarded.
func (ws *WebServer) handleFrameStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		monitoring.Debugf("monitor: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	samples, unsubscribe := ws.history.Subscribe()
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-ws.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case s := <-samples:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(s); err != nil {
				monitoring.Debugf("monitor: websocket write: %v", err)
				return
			}
		}
	}
}
