package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

// wsMessage is the frame exchanged on /v1/runs/{id}/ws.
//
// Server to client: "next" carries one run event, "complete" follows the
// terminal event, "pong" and "cancel_ack" answer client messages.
// Client to server: "ping" and "cancel".
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RunWSHandler streams the events of run id over a WebSocket. It mirrors the
// SSE stream and also lets the client cancel the run.
func (s *Server) RunWSHandler(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := s.Store.GetRun(r.Context(), id); err != nil {
		writeError(w, r, "Get run failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	run, err := s.Store.GetRun(r.Context(), id)
	if err != nil {
		return
	}

	var mu sync.Mutex
	write := func(msg wsMessage) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg)
	}
	next := func(evt SSEEvent) error {
		b, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		return write(wsMessage{Type: "next", Payload: b})
	}
	complete := func() {
		_ = write(wsMessage{Type: "complete"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1 << 16)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			switch msg.Type {
			case "ping":
				_ = write(wsMessage{Type: "pong"})
			case "cancel":
				ok := s.Runner.Cancel(id)
				b, _ := json.Marshal(map[string]any{"runId": id, "cancelled": ok})
				_ = write(wsMessage{Type: "cancel_ack", Payload: b})
			}
		}
	}()

	if err := next(snapshotEvent(run)); err != nil {
		return
	}
	if run.Status.Terminal() {
		complete()
		return
	}
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := next(evt); err != nil {
				return
			}
			if terminalEvent(evt.Type) {
				complete()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
