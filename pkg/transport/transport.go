// Package transport adapts the mesh's topic pub/sub onto libp2p host
// connections: one stream protocol carries topic-tagged envelopes to
// every currently connected peer.
package transport

import (
	"context"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// Transport is what the node scheduler depends on to move bytes. It
// never interprets payloads; encoding/decoding is the caller's job via
// pkg/wire.
type Transport interface {
	// Publish sends payload on topic to every connected peer.
	Publish(ctx context.Context, topic wire.Topic, msgID string, payload []byte) error
	// SendTo sends payload on topic to a single peer (used for unicast
	// control replies like Prune/IWant).
	SendTo(ctx context.Context, peer wire.PeerID, topic wire.Topic, msgID string, payload []byte) error
	// Inbound returns the channel of messages received from peers.
	Inbound() <-chan wire.InboundMessage
	// LocalPeerID returns this node's own peer identifier.
	LocalPeerID() wire.PeerID
	// Close shuts the transport down.
	Close() error
}

// envelope is the wire framing the protocol stream carries: a topic tag
// and message ID alongside the caller's opaque payload.
type envelope struct {
	Topic   wire.Topic `json:"topic"`
	MsgID   string     `json:"msg_id"`
	Payload []byte     `json:"payload"`
}
