// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Subscription represents an event subscription where events are delivered
// on a data channel, same shape as the original client_wss.go.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// WsClient is a minimal websocket JSON-RPC notification client: dial once,
// subscribe to any number of named channels, each producing raw JSON
// notifications on its own Go channel. Every subscription receives every
// notification the connection delivers; the envelope's channel name is not
// matched against the subscribed channel.
type WsClient struct {
	conn *websocket.Conn

	mu   sync.Mutex
	subs map[uint64]*wsSubscription
	next uint64
}

type wsSubscription struct {
	ch     chan<- json.RawMessage
	errc   chan error
	mu     sync.Mutex
	closed bool
}

func (s *wsSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.errc)
	}
}

func (s *wsSubscription) Err() <-chan error { return s.errc }

func DialWs(rawurl string) (*WsClient, error) {
	return DialWsContext(context.Background(), rawurl)
}

func DialWsContext(ctx context.Context, rawurl string) (*WsClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawurl, nil)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial ws %s: %w", rawurl, err)
	}
	c := &WsClient{conn: conn, subs: make(map[uint64]*wsSubscription)}
	go c.readLoop()
	return c, nil
}

type wsEnvelope struct {
	Channel string          `json:"channel"`
	Params  json.RawMessage `json:"params"`
}

func (c *WsClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			for _, s := range c.subs {
				s.mu.Lock()
				if !s.closed {
					s.errc <- err
					s.closed = true
					close(s.errc)
				}
				s.mu.Unlock()
			}
			c.mu.Unlock()
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.mu.Lock()
		for _, s := range c.subs {
			s.mu.Lock()
			if !s.closed {
				select {
				case s.ch <- env.Params:
				default:
				}
			}
			s.mu.Unlock()
		}
		c.mu.Unlock()
	}
}

// Subscribe sends a subscription request for channel and streams raw
// notification payloads to ch until Unsubscribe is called or the
// connection drops.
func (c *WsClient) Subscribe(ctx context.Context, channel string, ch chan<- json.RawMessage, args ...interface{}) (Subscription, error) {
	req := struct {
		JSONRPC string        `json:"jsonrpc"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		Method:  channel + "Subscribe",
		Params:  args,
	}
	if err := c.conn.WriteJSON(req); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.next++
	id := c.next
	sub := &wsSubscription{ch: ch, errc: make(chan error, 1)}
	c.subs[id] = sub
	c.mu.Unlock()

	return sub, nil
}

func (c *WsClient) Close() error {
	return c.conn.Close()
}
