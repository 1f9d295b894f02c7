// Package main submits an instance to a running API and follows the run
// over its WebSocket stream. Ctrl-C asks the server to cancel the run.
//
//	go run ./scripts/ws_client.go path/to/instance.vrp
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: ws_client <instance-file>")
	}
	src, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatal(err)
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	body, _ := json.Marshal(map[string]any{"instance": string(src), "name": os.Args[1]})
	resp, err := http.Post(base+"/v1/solve", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted {
		log.Fatalf("solve: %s", resp.Status)
	}
	var created struct {
		RunID string `json:"runId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		log.Fatal(err)
	}
	log.Printf("run %s submitted", created.RunID)

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + created.RunID + "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		log.Print("cancelling")
		_ = conn.WriteJSON(wsMessage{Type: "cancel"})
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			log.Printf("stream closed: %v", err)
			return
		}
		switch msg.Type {
		case "next":
			var evt event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				continue
			}
			if evt.Type == "generation.completed" {
				fmt.Printf("gen %v/%v best=%v mean=%.1f\n", evt.Data["generation"], evt.Data["generations"], evt.Data["bestCost"], evt.Data["meanFitness"])
				continue
			}
			out, _ := json.Marshal(evt.Data)
			fmt.Printf("%s %s\n", evt.Type, out)
		case "cancel_ack":
			fmt.Printf("cancel: %s\n", msg.Payload)
		case "complete":
			return
		}
	}
}
