package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/nmxmxh/sporemesh/errs"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// MemTransport is an in-process Transport used by tests and simulated
// topologies: peers are wired together directly instead of over a real
// network.
type MemTransport struct {
	mu     sync.RWMutex
	peerID wire.PeerID
	inbox  chan wire.InboundMessage
	peers  map[wire.PeerID]*MemTransport
}

// NewMemTransport creates a standalone in-memory transport for peerID.
// Connect it to others with Link.
func NewMemTransport(peerID wire.PeerID) *MemTransport {
	return &MemTransport{
		peerID: peerID,
		inbox:  make(chan wire.InboundMessage, 256),
		peers:  make(map[wire.PeerID]*MemTransport),
	}
}

// Link wires a and b together bidirectionally.
func Link(a, b *MemTransport) {
	a.mu.Lock()
	a.peers[b.peerID] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peers[a.peerID] = a
	b.mu.Unlock()
}

func (m *MemTransport) Publish(ctx context.Context, topic wire.Topic, msgID string, payload []byte) error {
	m.mu.RLock()
	targets := make([]*MemTransport, 0, len(m.peers))
	for _, p := range m.peers {
		targets = append(targets, p)
	}
	m.mu.RUnlock()

	for _, p := range targets {
		p.deliver(m.peerID, topic, msgID, payload)
	}
	return nil
}

func (m *MemTransport) SendTo(ctx context.Context, peerID wire.PeerID, topic wire.Topic, msgID string, payload []byte) error {
	m.mu.RLock()
	target, ok := m.peers[peerID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: unknown peer %s", errs.TransportFatal, peerID)
	}
	target.deliver(m.peerID, topic, msgID, payload)
	return nil
}

func (m *MemTransport) deliver(from wire.PeerID, topic wire.Topic, msgID string, payload []byte) {
	m.inbox <- wire.InboundMessage{
		SourcePeer: from,
		MsgID:      msgID,
		TopicHash:  string(topic),
		Bytes:      payload,
	}
}

func (m *MemTransport) Inbound() <-chan wire.InboundMessage { return m.inbox }
func (m *MemTransport) LocalPeerID() wire.PeerID             { return m.peerID }
func (m *MemTransport) Close() error                         { close(m.inbox); return nil }
