package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rbus/internal/events"
)

// Trip event subscriptions over WebSocket, framed like graphql-transport-ws:
// connection_init/connection_ack, subscribe{tripId}, next, complete, ping/pong.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	TripID int64    `json:"tripId"`
	Types  []string `json:"types,omitempty"` // empty means every event type
}

type wsSub struct {
	topic string
	ch    chan events.Event
}

// WSHandler handles GET /v1/ws
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// gorilla allows one concurrent writer
	var wmu sync.Mutex
	write := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(v)
	}
	errPayload := func(msg string) json.RawMessage {
		b, _ := json.Marshal(map[string]string{"message": msg})
		return b
	}

	subs := map[string]wsSub{}
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(60 * time.Second)) })

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			_ = write(wsMessage{Type: "connection_ack"})
			go func() {
				ticker := time.NewTicker(20 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if err := write(wsMessage{Type: "ping"}); err != nil {
							return
						}
					}
				}
			}()
		case "ping":
			_ = write(wsMessage{Type: "pong"})
		case "pong":
		case "subscribe":
			var pl subscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || pl.TripID <= 0 {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errPayload("tripId required")})
				continue
			}
			if _, dup := subs[msg.ID]; dup || msg.ID == "" {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errPayload("subscription id must be unique")})
				continue
			}
			if _, err := s.Store.GetTrip(r.Context(), pl.TripID); err != nil {
				_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errPayload("trip not found")})
				_ = write(wsMessage{Type: "complete", ID: msg.ID})
				continue
			}
			topic := events.TripTopic(pl.TripID)
			ch := s.Events.Subscribe(topic)
			subs[msg.ID] = wsSub{topic: topic, ch: ch}
			go func(id string, c chan events.Event, types []string) {
				for evt := range c {
					if !wantType(types, evt.Type) {
						continue
					}
					payload, _ := json.Marshal(evt)
					_ = write(wsMessage{Type: "next", ID: id, Payload: payload})
				}
				_ = write(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch, pl.Types)
		case "complete":
			if sub, ok := subs[msg.ID]; ok {
				s.Events.Unsubscribe(sub.topic, sub.ch)
				delete(subs, msg.ID)
			}
		default:
			_ = write(wsMessage{Type: "error", ID: msg.ID, Payload: errPayload("unknown message type")})
		}
	}
	for id, sub := range subs {
		s.Events.Unsubscribe(sub.topic, sub.ch)
		delete(subs, id)
	}
}

func wantType(types []string, t string) bool {
	return len(types) == 0 || slices.Contains(types, t)
}
