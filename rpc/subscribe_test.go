package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsEchoServer upgrades every connection and, once it reads a subscribe
// request, pushes back one notification envelope for the subscribed
// channel, mirroring what a validator's pubsub front end would do.
func wsEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(msg, &req); err != nil {
			return
		}
		channel := strings.TrimSuffix(req.Method, "Subscribe")
		env := wsEnvelope{Channel: channel, Params: json.RawMessage(`{"slot":7}`)}
		if err := conn.WriteJSON(env); err != nil {
			return
		}
		// Keep the connection open briefly so the client's readLoop has
		// time to deliver before the test tears the server down.
		time.Sleep(50 * time.Millisecond)
	}))
}

func TestWsClientSubscribeDeliversNotification(t *testing.T) {
	srv := wsEchoServer(t)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWs(wsURL)
	if err != nil {
		t.Fatalf("DialWs: %v", err)
	}
	defer client.Close()

	ch := make(chan json.RawMessage, 1)
	sub, err := client.Subscribe(context.Background(), "slotUpdates", ch)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case payload := <-ch:
		var got struct {
			Slot int `json:"slot"`
		}
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("unmarshal notification: %v", err)
		}
		if got.Slot != 7 {
			t.Errorf("want slot 7, got %d", got.Slot)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a notification")
	}
}

func TestWsClientErrChannelFiresOnConnectionClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialWs(wsURL)
	if err != nil {
		t.Fatalf("DialWs: %v", err)
	}
	defer client.Close()

	ch := make(chan json.RawMessage, 1)
	sub, err := client.Subscribe(context.Background(), "slotUpdates", ch)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-sub.Err():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the subscription error channel to fire")
	}
}
