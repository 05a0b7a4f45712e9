package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"

	"github.com/nmxmxh/sporemesh/errs"
	"github.com/nmxmxh/sporemesh/pkg/auth"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

const protocolID = "/sporemesh/1.0.0"

// outboundRate/outboundBurst cap how many frames this host writes to
// any one peer per second.
const (
	outboundRate  = 200
	outboundBurst = 400
)

// LibP2PTransport is the production Transport: a libp2p host with one
// stream protocol that both sides frame with newline-delimited JSON
// envelopes, generalized from a single packet handler to a
// topic-routed inbound channel.
type LibP2PTransport struct {
	host   host.Host
	inbox  chan wire.InboundMessage
	peerID wire.PeerID

	mu    sync.RWMutex
	peers map[peer.ID]struct{}

	limiter *limiter.TokenBucket
}

// NewLibP2PTransport starts a libp2p host using id's persisted keypair
// and registers the protocol stream handler.
func NewLibP2PTransport(ctx context.Context, id *auth.Identity, listenAddrs ...string) (*LibP2PTransport, error) {
	opts := []libp2p.Option{libp2p.Identity(id.Priv)}
	for _, addr := range listenAddrs {
		opts = append(opts, libp2p.ListenAddrStrings(addr))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("start libp2p host: %w", err)
	}

	bucket, err := limiter.NewTokenBucket(limiter.Config{
		Rate:     outboundRate,
		Duration: time.Second,
		Burst:    outboundBurst,
	}, store.NewMemoryStore(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create rate limiter: %w", err)
	}

	t := &LibP2PTransport{
		host:    h,
		inbox:   make(chan wire.InboundMessage, 256),
		peerID:  wire.PeerID(h.ID().String()),
		peers:   make(map[peer.ID]struct{}),
		limiter: bucket,
	}

	h.SetStreamHandler(protocolID, t.handleStream)
	return t, nil
}

func (t *LibP2PTransport) handleStream(s network.Stream) {
	defer s.Close()
	reader := bufio.NewReader(s)

	remote := s.Conn().RemotePeer()
	t.mu.Lock()
	t.peers[remote] = struct{}{}
	t.mu.Unlock()

	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var env envelope
			if jsonErr := json.Unmarshal(line, &env); jsonErr == nil {
				t.inbox <- wire.InboundMessage{
					SourcePeer: wire.PeerID(remote.String()),
					MsgID:      env.MsgID,
					TopicHash:  string(env.Topic),
					Bytes:      env.Payload,
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				_ = err // connection reset counts as a normal peer departure, not a fatal error
			}
			return
		}
	}
}

// Dial connects to a peer at a multiaddr and keeps the connection open
// for future Publish/SendTo calls.
func (t *LibP2PTransport) Dial(ctx context.Context, addr string) error {
	maddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return fmt.Errorf("%w: parse multiaddr %s: %v", errs.TransportFatal, addr, err)
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return fmt.Errorf("%w: resolve peer info: %v", errs.TransportFatal, err)
	}
	if err := t.host.Connect(ctx, *info); err != nil {
		return fmt.Errorf("%w: connect to %s: %v", errs.TransportFatal, info.ID, err)
	}
	t.mu.Lock()
	t.peers[info.ID] = struct{}{}
	t.mu.Unlock()
	return nil
}

// Publish sends the envelope to every peer currently known to this
// transport.
func (t *LibP2PTransport) Publish(ctx context.Context, topic wire.Topic, msgID string, payload []byte) error {
	t.mu.RLock()
	targets := make([]peer.ID, 0, len(t.peers))
	for p := range t.peers {
		targets = append(targets, p)
	}
	t.mu.RUnlock()

	var firstErr error
	for _, p := range targets {
		if err := t.send(ctx, p, topic, msgID, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendTo sends the envelope to a single peer.
func (t *LibP2PTransport) SendTo(ctx context.Context, peerID wire.PeerID, topic wire.Topic, msgID string, payload []byte) error {
	pid, err := peer.Decode(string(peerID))
	if err != nil {
		return fmt.Errorf("%w: decode peer id %s: %v", errs.TransportFatal, peerID, err)
	}
	return t.send(ctx, pid, topic, msgID, payload)
}

func (t *LibP2PTransport) send(ctx context.Context, p peer.ID, topic wire.Topic, msgID string, payload []byte) error {
	if !t.limiter.Allow(p.String()) {
		return fmt.Errorf("%w: outbound rate exceeded for %s", errs.TransportBackpressure, p)
	}

	stream, err := t.host.NewStream(ctx, p, protocolID)
	if err != nil {
		return fmt.Errorf("%w: open stream to %s: %v", errs.TransportBackpressure, p, err)
	}
	defer stream.Close()

	data, err := json.Marshal(envelope{Topic: topic, MsgID: msgID, Payload: payload})
	if err != nil {
		return fmt.Errorf("%w: encode envelope: %v", errs.DecodeFailure, err)
	}
	data = append(data, '\n')
	if _, err := stream.Write(data); err != nil {
		return fmt.Errorf("%w: write to %s: %v", errs.TransportBackpressure, p, err)
	}
	return nil
}

// Inbound returns the channel of received messages.
func (t *LibP2PTransport) Inbound() <-chan wire.InboundMessage { return t.inbox }

// LocalPeerID returns this host's own peer ID.
func (t *LibP2PTransport) LocalPeerID() wire.PeerID { return t.peerID }

// Close shuts down the libp2p host.
func (t *LibP2PTransport) Close() error {
	close(t.inbox)
	return t.host.Close()
}
