// Command ws_client tails a driver's live duty-status stream.
//
//	go run ./scripts -driver <id>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type streamMessage struct {
	Type  string          `json:"type"`
	Event json.RawMessage `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	host := flag.String("host", "localhost:"+port, "API host:port")
	driver := flag.String("driver", "", "driver ID to follow")
	token := flag.String("token", "office", "bearer token")
	flag.Parse()
	if *driver == "" {
		log.Fatal("-driver is required")
	}

	u := url.URL{Scheme: "ws", Host: *host, Path: "/v1/drivers/" + *driver + "/stream"}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+*token)
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		if resp != nil {
			log.Fatalf("dial %s: %v (HTTP %d)", u.String(), err, resp.StatusCode)
		}
		log.Fatalf("dial %s: %v", u.String(), err)
	}
	defer func() { _ = conn.Close() }()
	log.Printf("connected to %s", u.String())

	go func() {
		t := time.NewTicker(20 * time.Second)
		defer t.Stop()
		for range t.C {
			if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}()

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		switch msg.Type {
		case "snapshot":
			fmt.Printf("snapshot: %s\n", msg.Data)
		case "event":
			fmt.Printf("%s event: %s\n", time.Now().Format(time.TimeOnly), msg.Event)
		}
	}
}
