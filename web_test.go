/*
Copyright © 2026 guljarhussain0560
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *Hub) {
	t.Helper()

	cfg := &Config{port: 8080, sendBuffer: 32}
	hub := newHub(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.run(ctx)

	errs := make(chan error, 16)
	ts := httptest.NewServer(newRouter(cfg, hub, errs))
	t.Cleanup(ts.Close)

	return ts, hub
}

func TestOperationalEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	for path, want := range map[string]string{
		"/healthz":    "Ok\n",
		"/version":    "laughlockdown v" + releaseVersion + "\n",
		"/robots.txt": "User-agent: *\nDisallow: /\n",
	} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + path)
			if err != nil {
				t.Fatalf("GET %s failed: %v", path, err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s returned %d, want 200", path, resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("reading body failed: %v", err)
			}
			if string(body) != want {
				t.Errorf("GET %s returned %q, want %q", path, body, want)
			}
		})
	}
}

func TestParticipantsEndpoint(t *testing.T) {
	ts, hub := newTestServer(t)

	a := connect(hub, "A")
	b := connect(hub, "B")
	join(hub, a, "R1", "alice")
	join(hub, b, "R1", "bob")

	resp, err := http.Get(ts.URL + "/contest/R1/participants")
	if err != nil {
		t.Fatalf("GET participants failed: %v", err)
	}
	defer resp.Body.Close()

	var payload struct {
		Participants []Participant `json:"participants"`
		Count        int           `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decoding response failed: %v", err)
	}

	if payload.Count != 2 || len(payload.Participants) != 2 {
		t.Fatalf("got %+v, want both participants", payload)
	}
	if payload.Participants[0].UserID != "alice" || payload.Participants[1].UserID != "bob" {
		t.Fatalf("got %+v, want alice and bob", payload.Participants)
	}
}

func TestContestQREndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/contest/R1/qr")
	if err != nil {
		t.Fatalf("GET qr failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET qr returned %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got != "image/png" {
		t.Errorf("content type is %q, want image/png", got)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.HasPrefix(body, []byte("\x89PNG")) {
		t.Error("response is not a PNG image")
	}
}

func TestWebSocketEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	dial := func() *websocket.Conn {
		t.Helper()

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("dial failed: %v", err)
		}
		t.Cleanup(func() { _ = conn.Close() })

		return conn
	}

	read := func(conn *websocket.Conn) map[string]any {
		t.Helper()

		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read failed: %v", err)
		}

		return msg
	}

	alice := dial()

	greeting := read(alice)
	if greeting["type"] != "session-info" {
		t.Fatalf("first message was %v, want session-info", greeting)
	}
	aliceID, _ := greeting["socketId"].(string)
	if aliceID == "" {
		t.Fatal("session-info carried no socket id")
	}

	if err := alice.WriteJSON(ClientMessage{Type: "join-room", ContestID: "R1", UserID: "alice"}); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	roster := read(alice)
	if roster["type"] != "existing-participants" {
		t.Fatalf("joiner's first reply was %v, want existing-participants", roster)
	}

	bob := dial()

	bobGreeting := read(bob)
	bobID, _ := bobGreeting["socketId"].(string)

	if err := bob.WriteJSON(ClientMessage{Type: "join-room", ContestID: "R1", UserID: "bob"}); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	bobRoster := read(bob)
	participants, _ := bobRoster["participants"].([]any)
	if len(participants) != 1 || participants[0] != aliceID {
		t.Fatalf("bob's roster is %v, want [%s]", participants, aliceID)
	}

	joined := read(alice)
	if joined["type"] != "user-joined" || joined["socketId"] != bobID || joined["userId"] != "bob" {
		t.Fatalf("alice saw %v, want user-joined for bob", joined)
	}

	// A client-supplied "from" must never survive the relay.
	spoofed := fmt.Sprintf(`{"type":"offer","to":%q,"from":"mallory","offer":{"type":"offer","sdp":"v=0"}}`, aliceID)
	if err := bob.WriteMessage(websocket.TextMessage, []byte(spoofed)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	offer := read(alice)
	if offer["type"] != "offer" {
		t.Fatalf("alice received %v, want the relayed offer", offer)
	}
	if offer["from"] != bobID {
		t.Fatalf("relayed from is %v, want bob's real socket id %s", offer["from"], bobID)
	}
}
