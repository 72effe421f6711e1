package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	heartbeatInterval = 15 * time.Second
	wsPongWait        = 60 * time.Second
	wsWriteWait       = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// streamMessage is one websocket frame sent to a stream client.
type streamMessage struct {
	Type  string    `json:"type"`
	Event *SSEEvent `json:"event,omitempty"`
	Data  any       `json:"data,omitempty"`
}

// EventStream serves a driver's events as server-sent events.
func (s *Server) EventStream(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverID")
	if _, err := s.svc.GetDriver(r.Context(), driverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broker.Subscribe(driverID)
	defer s.broker.Unsubscribe(driverID, ch)

	heartbeat := func() {
		fmt.Fprintf(w, "event: heartbeat\ndata: {\"driverId\":%q,\"ts\":%q}\n\n", driverID, time.Now().UTC().Format(time.RFC3339))
		flusher.Flush()
	}
	heartbeat()
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, b)
			flusher.Flush()
		case <-ticker.C:
			heartbeat()
		}
	}
}

// DriverStream upgrades to a websocket that first sends the driver's
// current status as a "snapshot" frame, then one "event" frame per event.
// Clients may send {"type":"ping"} and receive {"type":"pong"}.
func (s *Server) DriverStream(w http.ResponseWriter, r *http.Request) {
	driverID := chi.URLParam(r, "driverID")
	d, err := s.svc.GetDriver(r.Context(), driverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	var wmu sync.Mutex
	write := func(m streamMessage) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}

	ch := s.broker.Subscribe(driverID)
	defer s.broker.Unsubscribe(driverID, ch)

	snapshot := map[string]any{"driver": d}
	if loc, ok := s.locations.Get(driverID); ok {
		snapshot["location"] = loc
	}
	if err := write(streamMessage{Type: "snapshot", Data: snapshot}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
		for {
			var msg streamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			if msg.Type == "ping" {
				_ = write(streamMessage{Type: "pong"})
			}
		}
	}()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(streamMessage{Type: "event", Event: &evt}); err != nil {
				s.logger.Debug("stream write failed", zap.String("driver_id", driverID), zap.Error(err))
				return
			}
		case <-ticker.C:
			wmu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wmu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
