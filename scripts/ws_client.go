//go:build ignore

// ws_client creates two nearby trips and prints the events the first one receives.
//
//	go run scripts/ws_client.go -addr localhost:8080
//	go run scripts/ws_client.go -hmac-secret "$AUTH_HMAC_SECRET"
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"rbus/internal/auth"
	"rbus/internal/config"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type point struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

func createTrip(base, token string, from, to point) int64 {
	body, _ := json.Marshal(map[string]any{"on": "weekdays", "from": from, "to": to})
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/trips", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		log.Fatalf("create trip: %s", resp.Status)
	}
	var out struct {
		Trip struct {
			ID int64 `json:"id"`
		} `json:"trip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	return out.Trip.ID
}

func main() {
	addr := flag.String("addr", "localhost:8080", "API host:port")
	token := flag.String("token", "1:demo@example.com", "bearer token (dev mode: userID:email[:role])")
	secret := flag.String("hmac-secret", "", "mint HS256 tokens with this secret instead of dev tokens")
	wait := flag.Duration("wait", 2*time.Second, "how long to listen")
	flag.Parse()
	base := "http://" + *addr

	neighbour := "2:neighbour@example.com"
	if *secret != "" {
		v := auth.NewVerifier(config.AuthConfig{Mode: "hmac", HMACSecret: *secret})
		var err error
		if *token, err = v.Sign(auth.Principal{UserID: 1, Email: "demo@example.com"}, time.Hour); err != nil {
			log.Fatal(err)
		}
		if neighbour, err = v.Sign(auth.Principal{UserID: 2, Email: "neighbour@example.com"}, time.Hour); err != nil {
			log.Fatal(err)
		}
	}

	tripID := createTrip(base, *token, point{"Andheri", 19.1136, 72.8697}, point{"Lower Parel", 18.9980, 72.8300})
	log.Printf("trip %d created", tripID)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/v1/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"tripId": tripID})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// a second commuter on almost the same route triggers similar.found
	time.Sleep(300 * time.Millisecond)
	other := createTrip(base, neighbour, point{"Andheri East", 19.1155, 72.8720}, point{"Parel", 19.0009, 72.8340})
	fmt.Printf("trip %d created next to %d\n", other, tripID)

	select {
	case <-time.After(*wait):
	case <-done:
	}
}
