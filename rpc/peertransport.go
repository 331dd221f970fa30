// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/runtime"
)

// PeerTransport implements runtime.PeerTransport over plain JSON-RPC: every
// peer this validator trusts enough to repair from is addressed by its own
// RPC endpoint, resolved from the endpoint map supplied at construction
// (the validator's repair-peer set from the CLI).
type PeerTransport struct {
	mu        sync.RWMutex
	endpoints map[common.Address]string
	clients   map[common.Address]*Client
}

var _ runtime.PeerTransport = (*PeerTransport)(nil)

// NewPeerTransport returns a transport that dials peers lazily, on first
// use, against the given address-to-RPC-URL map.
func NewPeerTransport(endpoints map[common.Address]string) *PeerTransport {
	return &PeerTransport{
		endpoints: endpoints,
		clients:   make(map[common.Address]*Client),
	}
}

func (t *PeerTransport) clientFor(peer common.Address) (*Client, error) {
	t.mu.RLock()
	c := t.clients[peer]
	t.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	url, ok := t.endpoints[peer]
	if !ok {
		return nil, fmt.Errorf("rpc: no endpoint registered for peer %s", peer)
	}
	c, err := Dial(url)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.clients[peer] = c
	t.mu.Unlock()
	return c, nil
}

// SendRepairRequest asks peer to resend the given shred indices of slot.
func (t *PeerTransport) SendRepairRequest(peer common.Address, slot uint64, indices []uint32) error {
	c, err := t.clientFor(peer)
	if err != nil {
		return err
	}
	return c.CallContext(context.Background(), nil, "repairShred", slot, indices)
}

// Retransmit forwards a shred's wire bytes to every peer with a known
// endpoint, returning the first error encountered (if any) after trying
// them all.
func (t *PeerTransport) Retransmit(shred []byte) error {
	t.mu.RLock()
	peers := make([]common.Address, 0, len(t.endpoints))
	for p := range t.endpoints {
		peers = append(peers, p)
	}
	t.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		c, err := t.clientFor(p)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := c.CallContext(context.Background(), nil, "retransmitShred", shred); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
