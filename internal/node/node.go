// Package node wires the mesh, metabolism, auction, executor, state,
// storage, and transport packages into one running scheduler: the
// SporeNode. Its driver loop is a ticker+select+shutdown-channel
// coordinator.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmxmxh/sporemesh/internal/metrics"
	"github.com/nmxmxh/sporemesh/pkg/auction"
	"github.com/nmxmxh/sporemesh/pkg/executor"
	"github.com/nmxmxh/sporemesh/pkg/mesh"
	"github.com/nmxmxh/sporemesh/pkg/metabolism"
	"github.com/nmxmxh/sporemesh/pkg/state"
	"github.com/nmxmxh/sporemesh/pkg/storage"
	"github.com/nmxmxh/sporemesh/pkg/transport"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// Config holds the scheduler's own tunables, distinct from the mesh's
// per-topic Config.
type Config struct {
	PulseAdvance      float64       `json:"pulse_advance"`
	PulsePeakThreshold float64      `json:"pulse_peak_threshold"`
	TickInterval      time.Duration `json:"tick_interval"`
	SyncProbability   float64       `json:"sync_probability"`
}

// DefaultConfig returns the scheduler's baseline tick behavior: a pulse
// that completes one cycle roughly every 20 ticks, peaking above 0.8
// for a narrow window each cycle.
func DefaultConfig() Config {
	return Config{
		PulseAdvance:       0.05,
		PulsePeakThreshold: 0.8,
		TickInterval:       time.Second,
		SyncProbability:    0.1,
	}
}

// SporeNode is one node's local view of the mesh: one topic mesh each
// for status, task, spike and state (created in New; control has no
// mesh of its own, and further meshes are created on first use by
// meshFor), its energy oracle, its task bidder, its document, its
// persistence log, and its transport.
type SporeNode struct {
	mu sync.Mutex

	id         wire.PeerID
	config     Config
	metabolism metabolism.Metabolism
	meshes     map[wire.Topic]*mesh.TopicMesh
	bidder     *auction.Bidder
	exec       executor.Executor
	doc        state.SharedState
	log        *storage.Log
	tr         transport.Transport
	logger     *slog.Logger

	meshGauges  *metrics.MeshGauges
	energyGauge *metrics.EnergyGauge

	rng *rand.Rand

	shutdown chan struct{}
	done     chan struct{}
}

// New assembles a SporeNode from its component dependencies. Any of
// log/doc may be nil; a nil Log means no persistence, a nil doc means
// no CRDT collaboration for this node.
func New(
	id wire.PeerID,
	config Config,
	metab metabolism.Metabolism,
	tr transport.Transport,
	exec executor.Executor,
	doc state.SharedState,
	log *storage.Log,
	logger *slog.Logger,
) *SporeNode {
	if logger == nil {
		logger = slog.Default()
	}
	meshes := map[wire.Topic]*mesh.TopicMesh{
		wire.TopicStatus: mesh.New(string(wire.TopicStatus), mesh.DefaultConfig(), nil),
		wire.TopicTask:   mesh.New(string(wire.TopicTask), mesh.DefaultConfig(), nil),
		wire.TopicSpike:  mesh.New(string(wire.TopicSpike), mesh.DefaultConfig(), nil),
		wire.TopicState:  mesh.New(string(wire.TopicState), mesh.DefaultConfig(), nil),
	}
	return &SporeNode{
		id:         id,
		config:     config,
		metabolism: metab,
		meshes:     meshes,
		exec:       exec,
		doc:        doc,
		log:        log,
		tr:         tr,
		logger:     logger.With("node", string(id)),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Mesh returns the TopicMesh for topic, or nil if topic isn't tracked.
func (n *SporeNode) Mesh(topic wire.Topic) *mesh.TopicMesh {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.meshes[topic]
}

// SetBidder installs the node's auction bidder (capabilities +
// metabolism-gated evaluation).
func (n *SporeNode) SetBidder(b *auction.Bidder) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bidder = b
}

// SetMetrics attaches Prometheus exposition; a node with no metrics
// attached still runs, tick just skips the Observe/Set calls.
func (n *SporeNode) SetMetrics(meshGauges *metrics.MeshGauges, energy *metrics.EnergyGauge) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.meshGauges = meshGauges
	n.energyGauge = energy
}

// Run drives the scheduler: a ticker for the per-tick pulse/heartbeat
// sequence, and the transport's inbound channel for dispatch, both
// selected against a shutdown channel so Stop always terminates the
// loop promptly.
func (n *SporeNode) Run(ctx context.Context) {
	defer close(n.done)

	ticker := time.NewTicker(n.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.tick(ctx)
		case msg, ok := <-n.tr.Inbound():
			if !ok {
				return
			}
			n.dispatch(ctx, msg)
		}
	}
}

// Stop signals the run loop to exit and waits for it to finish.
func (n *SporeNode) Stop() {
	close(n.shutdown)
	<-n.done
}

// tick runs the per-cycle sequence: advance pulse, and at its
// peak publish this node's energy status and run every mesh's
// heartbeat, recompute local pressure, and probabilistically offer a
// CRDT sync.
func (n *SporeNode) tick(ctx context.Context) {
	energy := n.metabolism.EnergyScore()
	adaptive := mesh.Adaptive(energy)

	n.mu.Lock()
	meshes := make([]*mesh.TopicMesh, 0, len(n.meshes))
	for _, m := range n.meshes {
		m.SetConfig(adaptive)
		m.TickPulse(n.config.PulseAdvance)
		meshes = append(meshes, m)
	}
	n.mu.Unlock()

	for _, m := range meshes {
		if m.PulsePhase() < n.config.PulsePeakThreshold {
			continue
		}
		n.publishEnergyStatus(ctx, m.Topic(), energy)
		n.runHeartbeat(ctx, m)
	}

	n.updateLocalPressure()
	n.observeMetrics(energy, meshes)

	if n.doc != nil && n.rng.Float64() < n.config.SyncProbability {
		n.offerSync(ctx)
	}
}

func (n *SporeNode) observeMetrics(energy float64, meshes []*mesh.TopicMesh) {
	n.mu.Lock()
	meshGauges, energyGauge := n.meshGauges, n.energyGauge
	n.mu.Unlock()

	if energyGauge != nil {
		energyGauge.Set(energy)
	}
	if meshGauges != nil {
		for _, m := range meshes {
			meshGauges.Observe(m.Topic(), m.Stats())
		}
	}
}

func (n *SporeNode) publishEnergyStatus(ctx context.Context, topic string, energy float64) {
	status := wire.EnergyStatus{SourceID: n.id, EnergyScore: energy}
	payload, err := json.Marshal(status)
	if err != nil {
		n.logger.Error("encode energy status", "error", err)
		return
	}
	if err := n.tr.Publish(ctx, wire.TopicStatus, newMsgID(n.rng), payload); err != nil {
		n.logger.Warn("publish energy status", "topic", topic, "error", err)
	}
}

func (n *SporeNode) runHeartbeat(ctx context.Context, m *mesh.TopicMesh) {
	for _, directive := range m.Heartbeat() {
		n.sendControl(ctx, directive.Target, directive.Control)
	}
}

// sendControl wraps control in the envelope naming its intended
// recipient and unicasts it on the control topic.
func (n *SporeNode) sendControl(ctx context.Context, target wire.PeerID, control wire.MeshControl) {
	payload, err := json.Marshal(wire.ControlEnvelope{Target: target, Control: control})
	if err != nil {
		n.logger.Error("encode control envelope", "error", err)
		return
	}
	if err := n.tr.SendTo(ctx, target, wire.TopicControl, newMsgID(n.rng), payload); err != nil {
		n.logger.Debug("send control directive", "target", target, "error", err)
	}
}

// updateLocalPressure sets each mesh's local pressure from the size of
// its own dedup cache: local_pressure = |message_cache| * 0.1.
func (n *SporeNode) updateLocalPressure() {
	n.mu.Lock()
	meshes := make([]*mesh.TopicMesh, 0, len(n.meshes))
	for _, m := range n.meshes {
		meshes = append(meshes, m)
	}
	n.mu.Unlock()

	for _, m := range meshes {
		m.SetPressure(float64(m.Stats().MessagesCached) * 0.1)
	}
}

func (n *SporeNode) offerSync(ctx context.Context) {
	step1 := state.CreateSyncStep1(n.doc)
	payload, err := json.Marshal(step1)
	if err != nil {
		n.logger.Error("encode sync step1", "error", err)
		return
	}
	if err := n.tr.Publish(ctx, wire.TopicState, newMsgID(n.rng), payload); err != nil {
		n.logger.Warn("publish sync step1", "error", err)
	}
}

// dispatch routes an inbound message by topic to the matching mesh or
// collaborator handler. Status/task/spike/state ride dedicated meshes
// created in New; control carries its own addressing and is routed to
// whichever mesh its envelope names; any other topic is generic and
// handled by handleGeneric (persist, record, maybe relay).
func (n *SporeNode) dispatch(ctx context.Context, msg wire.InboundMessage) {
	topic := wire.Topic(msg.TopicHash)

	switch topic {
	case wire.TopicStatus:
		n.handleStatus(n.recordInbound(topic, msg), msg)
	case wire.TopicControl:
		n.handleControl(ctx, msg)
	case wire.TopicTask:
		n.recordInbound(topic, msg)
		n.handleTask(ctx, msg)
	case wire.TopicSpike:
		n.handleSpike(n.recordInbound(topic, msg), msg)
	case wire.TopicState:
		n.handleSync(ctx, msg)
	default:
		n.handleGeneric(ctx, topic, msg)
	}
}

// recordInbound attributes msg to its source peer on topic's mesh, if
// one is tracked, and returns that mesh (nil if untracked).
func (n *SporeNode) recordInbound(topic wire.Topic, msg wire.InboundMessage) *mesh.TopicMesh {
	n.mu.Lock()
	m := n.meshes[topic]
	n.mu.Unlock()
	if m != nil {
		m.RecordMessage(msg.SourcePeer, msg.MsgID)
	}
	return m
}

// meshFor returns the TopicMesh tracking topic, creating one with the
// default config on first use. This lets control envelopes and generic
// payloads address a mesh by name even when it isn't one of the fixed
// status/task/spike/state meshes New creates up front.
func (n *SporeNode) meshFor(topic wire.Topic) *mesh.TopicMesh {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, ok := n.meshes[topic]
	if !ok {
		m = mesh.New(string(topic), mesh.DefaultConfig(), nil)
		n.meshes[topic] = m
	}
	return m
}

func (n *SporeNode) handleStatus(m *mesh.TopicMesh, msg wire.InboundMessage) {
	status, err := wire.DecodeEnergyStatus(msg.Bytes)
	if err != nil {
		n.logger.Debug("decode energy status", "error", err)
		return
	}
	if m != nil {
		m.UpdatePeerScore(msg.SourcePeer, status.EnergyScore)
	}
}

// handleControl decodes the (target_peer, MeshControl) envelope the
// control topic carries and, only if this node is the named target,
// applies it to the mesh the envelope's control names.
func (n *SporeNode) handleControl(ctx context.Context, msg wire.InboundMessage) {
	env, err := wire.DecodeControlEnvelope(msg.Bytes)
	if err != nil {
		n.logger.Debug("decode control envelope", "error", err)
		return
	}
	if env.Target != n.id {
		return
	}

	m := n.meshFor(wire.Topic(env.Control.Topic))
	resp := m.HandleControl(msg.SourcePeer, env.Control)
	if resp != nil {
		n.sendControl(ctx, msg.SourcePeer, *resp)
	}

	if env.Control.Kind == wire.ControlIHave {
		n.pushReconciledMessages(ctx, msg.SourcePeer, env.Control)
	}
}

// pushReconciledMessages compares an IHave announcement against this
// node's durable log and proactively pushes back any message the
// announcer's own list omits, complementing the in-memory cache's
// IWant reply (which only covers what this node itself is missing).
func (n *SporeNode) pushReconciledMessages(ctx context.Context, peer wire.PeerID, ctrl wire.MeshControl) {
	n.mu.Lock()
	log := n.log
	n.mu.Unlock()
	if log == nil {
		return
	}

	neighborKeys := make([]string, len(ctrl.MessageIDs))
	for i, id := range ctrl.MessageIDs {
		neighborKeys[i] = logKey(id)
	}
	missing, err := log.Reconcile(neighborKeys)
	if err != nil {
		n.logger.Debug("reconcile message log", "error", err)
		return
	}
	for _, key := range missing {
		payload, ok, err := log.Get(key)
		if err != nil || !ok {
			continue
		}
		if err := n.tr.SendTo(ctx, peer, wire.Topic(ctrl.Topic), newMsgID(n.rng), payload); err != nil {
			n.logger.Debug("push reconciled message", "peer", peer, "error", err)
		}
	}
}

func (n *SporeNode) handleTask(ctx context.Context, msg wire.InboundMessage) {
	task, err := wire.DecodeTask(msg.Bytes)
	if err != nil {
		n.logger.Debug("decode task", "error", err)
		return
	}

	n.mu.Lock()
	bidder := n.bidder
	n.mu.Unlock()
	if bidder == nil {
		return
	}

	bid, ok := bidder.Evaluate(task, nil)
	if !ok {
		return
	}
	payload, err := json.Marshal(bid)
	if err != nil {
		n.logger.Error("encode bid", "error", err)
		return
	}
	if err := n.tr.Publish(ctx, wire.TopicTask, newMsgID(n.rng), payload); err != nil {
		n.logger.Warn("publish bid", "error", err)
	}
}

// handleGeneric implements the scheduler's "Other" inbound case: a
// topic it doesn't natively interpret. It persists the payload under a
// content key, records the message against that topic's mesh, and
// considers emergent relay — bounded by the same mesh's dedup cache, so
// a duplicate never gets relayed twice.
func (n *SporeNode) handleGeneric(ctx context.Context, topic wire.Topic, msg wire.InboundMessage) {
	n.mu.Lock()
	log := n.log
	n.mu.Unlock()
	if log != nil {
		if err := log.Insert(logKey(msg.MsgID), string(topic), msg.Bytes); err != nil {
			n.logger.Warn("persist message", "msg_id", msg.MsgID, "error", err)
		}
	}

	m := n.meshFor(topic)
	if !m.RecordMessage(msg.SourcePeer, msg.MsgID) {
		return
	}

	if !n.shouldRelay(m) {
		return
	}
	if err := n.tr.Publish(ctx, topic, msg.MsgID, msg.Bytes); err != nil {
		n.logger.Debug("relay message", "topic", topic, "error", err)
	}
}

// shouldRelay implements the emergent relay decision: energy above 0.9
// always relays; otherwise relay requires moderate energy, low local
// pressure, and a pulse phase past its rising edge.
func (n *SporeNode) shouldRelay(m *mesh.TopicMesh) bool {
	energy := n.metabolism.EnergyScore()
	if energy > 0.9 {
		return true
	}
	return energy > 0.6 && m.LocalPressure() < 7.0 && m.PulsePhase() > 0.7
}

// logKey namespaces a message ID into the persistence log's key space,
// distinguishing a received message's payload from any other record a
// future log consumer might store under a bare message ID.
func logKey(msgID string) string {
	return "msg_" + msgID
}

func (n *SporeNode) handleSpike(m *mesh.TopicMesh, msg wire.InboundMessage) {
	var spike wire.Spike
	if err := json.Unmarshal(msg.Bytes, &spike); err != nil {
		n.logger.Debug("decode spike", "error", err)
		return
	}
	if m != nil {
		m.HandleSpike(spike.Source, spike.Intensity)
	}
}

func (n *SporeNode) handleSync(ctx context.Context, msg wire.InboundMessage) {
	if n.doc == nil {
		return
	}
	var syncMsg wire.SyncMessage
	if err := json.Unmarshal(msg.Bytes, &syncMsg); err != nil {
		n.logger.Debug("decode sync message", "error", err)
		return
	}

	switch syncMsg.Kind {
	case wire.SyncStep1:
		resp, err := state.HandleSyncStep1(n.doc, syncMsg)
		if err != nil {
			n.logger.Debug("handle sync step1", "error", err)
			return
		}
		payload, err := json.Marshal(resp)
		if err != nil {
			n.logger.Error("encode sync step2", "error", err)
			return
		}
		if err := n.tr.SendTo(ctx, msg.SourcePeer, wire.TopicState, newMsgID(n.rng), payload); err != nil {
			n.logger.Debug("send sync step2", "error", err)
		}
	case wire.SyncStep2:
		if err := state.HandleSyncStep2(n.doc, syncMsg); err != nil {
			n.logger.Debug("apply sync step2", "error", err)
		}
	case wire.SyncUpdate:
		if err := state.HandleUpdate(n.doc, syncMsg); err != nil {
			n.logger.Debug("apply update", "error", err)
		}
	}
}

// ExecuteTask runs a won task's payload through this node's executor,
// charging fuel against its own remaining energy. Settlement — who won
// a task's auction — happens outside this core (the task executor is
// only specified through the interface it presents); a caller invokes
// ExecuteTask once it has made that determination by whatever means its
// deployment uses. The payload executed is whatever the log holds under
// logKey(task.ID); handleTask does not write task messages to the log,
// and with no such entry (or no log) the payload is empty.
func (n *SporeNode) ExecuteTask(ctx context.Context, task wire.Task, input []byte) ([]byte, error) {
	n.mu.Lock()
	exec := n.exec
	log := n.log
	metab := n.metabolism
	n.mu.Unlock()

	if exec == nil {
		return nil, fmt.Errorf("node %s: no executor configured", n.id)
	}

	var payload []byte
	if log != nil {
		stored, ok, err := log.Get(logKey(task.ID))
		if err != nil {
			return nil, fmt.Errorf("load task %s payload: %w", task.ID, err)
		}
		if ok {
			payload = stored
		}
	}

	return exec.Execute(ctx, payload, input, metab, metab.EnergyScore())
}

func newMsgID(rng *rand.Rand) string {
	// The ID bytes come from the node's own rng (seeded from the clock
	// in New) rather than from uuid's global random source.
	b := make([]byte, 16)
	rng.Read(b)
	id, err := uuid.FromBytes(b)
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
