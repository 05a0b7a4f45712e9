package node

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nmxmxh/sporemesh/pkg/auction"
	"github.com/nmxmxh/sporemesh/pkg/executor"
	"github.com/nmxmxh/sporemesh/pkg/metabolism"
	"github.com/nmxmxh/sporemesh/pkg/state"
	"github.com/nmxmxh/sporemesh/pkg/storage"
	"github.com/nmxmxh/sporemesh/pkg/transport"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

func newTestNode(t *testing.T, id wire.PeerID, tr transport.Transport, energy float64) *SporeNode {
	t.Helper()
	cfg := DefaultConfig()
	cfg.PulsePeakThreshold = 0 // force every tick to cross the peak, for deterministic tests
	m := metabolism.NewMock(energy, false)
	doc := state.NewDocument()
	n := New(id, cfg, m, tr, executor.NewSandboxExecutor(), doc, nil, nil)
	t.Cleanup(func() { tr.Close() })
	return n
}

func newTestNodeWithLog(t *testing.T, id wire.PeerID, tr transport.Transport, energy float64) *SporeNode {
	t.Helper()
	log, err := storage.Open(filepath.Join(t.TempDir(), "node.db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	cfg := DefaultConfig()
	cfg.PulsePeakThreshold = 0
	m := metabolism.NewMock(energy, false)
	doc := state.NewDocument()
	n := New(id, cfg, m, tr, executor.NewSandboxExecutor(), doc, log, nil)
	t.Cleanup(func() { tr.Close() })
	return n
}

func TestTickPublishesEnergyStatusAndPeerLearnsIt(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	transport.Link(a, b)

	nodeA := newTestNode(t, "node-a", a, 0.8)
	nodeB := newTestNode(t, "node-b", b, 0.5)

	nodeA.tick(context.Background())

	select {
	case msg := <-b.Inbound():
		nodeB.dispatch(context.Background(), msg)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for node-b to receive energy status")
	}

	peer, ok := nodeB.Mesh(wire.TopicStatus).KnownPeer("node-a")
	if !ok {
		t.Fatalf("expected node-b to know about node-a")
	}
	if peer.EnergyScore != 0.8 {
		t.Fatalf("expected energy score 0.8, got %f", peer.EnergyScore)
	}
}

func TestHandleTaskPublishesBidWhenCapable(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	transport.Link(a, b)

	nodeB := newTestNode(t, "node-b", b, 0.9)
	nodeB.SetBidder(auction.NewBidder("node-b", metabolism.NewMock(0.9, false), []wire.Capability{wire.ComputeCapability(100)}, auction.NewQuorumSensing()))

	task := wire.Task{ID: "t1", RequiredCapability: wire.ComputeCapability(100), SourceID: "node-a"}
	payload, _ := json.Marshal(task)

	nodeB.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-a",
		MsgID:      "msg-1",
		TopicHash:  string(wire.TopicTask),
		Bytes:      payload,
	})

	select {
	case msg := <-a.Inbound():
		if msg.TopicHash != string(wire.TopicTask) {
			t.Fatalf("expected bid published on task topic, got %s", msg.TopicHash)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for bid")
	}
}

func TestHandleSyncStep1ReturnsStep2WithMissingEntries(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	transport.Link(a, b)

	nodeA := newTestNode(t, "node-a", a, 0.9)
	nodeA.doc.(*state.Document).Set("key", "value", "node-a")

	step1 := state.CreateSyncStep1(state.NewDocument())
	payload, _ := json.Marshal(step1)

	nodeA.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-b",
		MsgID:      "msg-1",
		TopicHash:  string(wire.TopicState),
		Bytes:      payload,
	})

	select {
	case msg := <-b.Inbound():
		if msg.TopicHash != string(wire.TopicState) {
			t.Fatalf("expected sync step2 on state topic, got %s", msg.TopicHash)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for sync step2")
	}
}

func TestHandleGenericPersistsAndRelaysAtHighEnergy(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	c := transport.NewMemTransport("node-c")
	transport.Link(a, b)
	transport.Link(b, c)

	nodeB := newTestNodeWithLog(t, "node-b", b, 0.95)

	payload := []byte(`{"hello":"world"}`)
	nodeB.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-a",
		MsgID:      "msg-1",
		TopicHash:  "sensor-reading",
		Bytes:      payload,
	})

	stored, ok, err := nodeB.log.Get(logKey("msg-1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok || string(stored) != string(payload) {
		t.Fatalf("expected message to be persisted under its content key, got %q ok=%v", stored, ok)
	}

	select {
	case msg := <-c.Inbound():
		if msg.TopicHash != "sensor-reading" || string(msg.Bytes) != string(payload) {
			t.Fatalf("expected relayed message with identical bytes on same topic, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for emergent relay")
	}
}

func TestHandleGenericDoesNotRelayAtLowEnergy(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	c := transport.NewMemTransport("node-c")
	transport.Link(a, b)
	transport.Link(b, c)

	nodeB := newTestNodeWithLog(t, "node-b", b, 0.3)

	nodeB.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-a",
		MsgID:      "msg-1",
		TopicHash:  "sensor-reading",
		Bytes:      []byte("payload"),
	})

	select {
	case msg := <-c.Inbound():
		t.Fatalf("expected no relay at low energy, got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleGenericDedupSuppressesRepeatRelay(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	c := transport.NewMemTransport("node-c")
	transport.Link(a, b)
	transport.Link(b, c)

	nodeB := newTestNodeWithLog(t, "node-b", b, 0.95)

	msg := wire.InboundMessage{SourcePeer: "node-a", MsgID: "msg-1", TopicHash: "sensor-reading", Bytes: []byte("payload")}
	nodeB.dispatch(context.Background(), msg)
	<-c.Inbound()

	nodeB.dispatch(context.Background(), msg)
	select {
	case relayed := <-c.Inbound():
		t.Fatalf("expected duplicate message not to be relayed again, got %+v", relayed)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleControlIgnoresEnvelopeNotAddressedToSelf(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	transport.Link(a, b)

	nodeB := newTestNode(t, "node-b", b, 0.9)
	nodeB.Mesh(wire.TopicStatus).AddPeer("node-a", 0.9)

	env := wire.ControlEnvelope{Target: "someone-else", Control: wire.Graft(string(wire.TopicStatus))}
	payload, _ := json.Marshal(env)
	nodeB.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-a",
		MsgID:      "msg-1",
		TopicHash:  string(wire.TopicControl),
		Bytes:      payload,
	})

	if nodeB.Mesh(wire.TopicStatus).InMesh("node-a") {
		t.Fatalf("expected control envelope addressed to a different node to be ignored")
	}
}

func TestHandleControlAppliesGraftToNamedMesh(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	b := transport.NewMemTransport("node-b")
	transport.Link(a, b)

	nodeB := newTestNode(t, "node-b", b, 0.9)
	nodeB.Mesh(wire.TopicStatus).AddPeer("node-a", 0.9)

	env := wire.ControlEnvelope{Target: "node-b", Control: wire.Graft(string(wire.TopicStatus))}
	payload, _ := json.Marshal(env)
	nodeB.dispatch(context.Background(), wire.InboundMessage{
		SourcePeer: "node-a",
		MsgID:      "msg-1",
		TopicHash:  string(wire.TopicControl),
		Bytes:      payload,
	})

	if !nodeB.Mesh(wire.TopicStatus).InMesh("node-a") {
		t.Fatalf("expected graft addressed to node-b to admit node-a into the status mesh")
	}
}

func TestExecuteTaskRunsPersistedPayloadAgainstExecutor(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	nodeA := newTestNodeWithLog(t, "node-a", a, 1.0)

	task := wire.Task{ID: "t1", RequiredCapability: wire.ComputeCapability(100), SourceID: "node-a"}
	if err := nodeA.log.Insert(logKey(task.ID), string(wire.TopicTask), []byte("work bytes")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := nodeA.ExecuteTask(context.Background(), task, nil); err != nil {
		t.Fatalf("expected execution to succeed, got %v", err)
	}
	if nodeA.metabolism.Remaining() >= 2500.0 {
		t.Fatalf("expected execution to charge metabolism, remaining=%f", nodeA.metabolism.Remaining())
	}
}

func TestExecuteTaskFailsWithoutExecutor(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	nodeA := newTestNode(t, "node-a", a, 1.0)
	nodeA.exec = nil

	if _, err := nodeA.ExecuteTask(context.Background(), wire.Task{ID: "t1"}, nil); err == nil {
		t.Fatalf("expected error when no executor is configured")
	}
}

func TestRunStopsPromptlyOnStop(t *testing.T) {
	a := transport.NewMemTransport("node-a")
	nodeA := newTestNode(t, "node-a", a, 0.9)
	nodeA.config.TickInterval = 10 * time.Millisecond

	done := make(chan struct{})
	go func() {
		nodeA.Run(context.Background())
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	nodeA.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit promptly after Stop")
	}
}
