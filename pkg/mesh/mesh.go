// Package mesh implements the per-topic gossip mesh: peer directory,
// scoring, graft/prune maintenance, pulse phase, local pressure, and
// deduplication.
package mesh

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// TopicMesh is the gossip mesh maintained for a single topic. All
// membership mutation happens inside the mutex-guarded methods here;
// external callers (auctioneer, test harnesses) should only read via
// Stats/snapshot-style accessors.
type TopicMesh struct {
	mu sync.Mutex

	topic string
	rng   *rand.Rand

	config        Config
	localPressure float64
	pulsePhase    float64

	meshPeers  map[wire.PeerID]struct{}
	knownPeers map[wire.PeerID]*PeerRecord
	backoff    map[wire.PeerID]time.Time

	cache           *messageCache
	duplicateCount  uint64
}

// New creates a TopicMesh for topic with the given config and a seeded
// PRNG for reproducible lazy-push selection in test mode. Pass nil to
// seed from the current time.
func New(topic string, config Config, seed *int64) *TopicMesh {
	var src rand.Source
	if seed != nil {
		src = rand.NewSource(*seed)
	} else {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &TopicMesh{
		topic:      topic,
		rng:        rand.New(src),
		config:     config,
		pulsePhase: 0,
		meshPeers:  make(map[wire.PeerID]struct{}),
		knownPeers: make(map[wire.PeerID]*PeerRecord),
		backoff:    make(map[wire.PeerID]time.Time),
		cache:      newMessageCache(defaultCacheWindow),
	}
}

// Topic returns the topic name this mesh maintains.
func (m *TopicMesh) Topic() string {
	return m.topic
}

// SetConfig replaces the mesh's maintenance config; the scheduler calls
// this every heartbeat tick with Adaptive(energy).
func (m *TopicMesh) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
}

// AddPeer idempotently inserts a peer with default conductivity/pressure
// if not already known.
func (m *TopicMesh) AddPeer(id wire.PeerID, energyScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreate(id, energyScore)
}

// UpdatePeerScore upserts a peer's advertised energy score and refreshes
// last_seen.
func (m *TopicMesh) UpdatePeerScore(id wire.PeerID, energyScore float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer := m.getOrCreate(id, energyScore)
	peer.EnergyScore = energyScore
	peer.LastSeen = time.Now()
}

// UpdatePeerPressure updates a known peer's reported backlog pressure.
// No-op if the peer is unknown.
func (m *TopicMesh) UpdatePeerPressure(id wire.PeerID, pressure float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if peer, ok := m.knownPeers[id]; ok {
		peer.Pressure = pressure
	}
}

func (m *TopicMesh) getOrCreate(id wire.PeerID, energyScore float64) *PeerRecord {
	if peer, ok := m.knownPeers[id]; ok {
		return peer
	}
	peer := newPeerRecord(id, energyScore)
	m.knownPeers[id] = peer
	return peer
}

// RecordMessage attributes a received message to peer_id: bumps its
// message count and conductivity, refreshes last_seen, and adds msg_id
// to the dedup cache. Duplicate arrivals increment duplicateCount
// without growing the cache. Returns true iff msg_id was newly added
// (false for a duplicate), so callers can bound any further action
// (e.g. relaying) by the same dedup cache.
func (m *TopicMesh) RecordMessage(peerID wire.PeerID, msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if peer, ok := m.knownPeers[peerID]; ok {
		peer.MessageCount++
		peer.LastSeen = time.Now()
		gradient := math.Max(math.Abs(m.localPressure-peer.Pressure), 0.1)
		peer.Conductivity = math.Min(peer.Conductivity+0.1*gradient, 10.0)
	}

	if m.cache.add(msgID) {
		return true
	}
	m.duplicateCount++
	return false
}

// SetPressure sets the mesh's local backlog pressure metric.
func (m *TopicMesh) SetPressure(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.localPressure = v
}

// LocalPressure returns the current local pressure.
func (m *TopicMesh) LocalPressure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localPressure
}

// TickPulse advances the pulse phase by delta, wrapping into [0,1).
func (m *TopicMesh) TickPulse(delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulsePhase = wrap01(m.pulsePhase + delta)
}

// PulsePhase returns the current pulse phase.
func (m *TopicMesh) PulsePhase() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulsePhase
}

// AlignPulse nudges the local phase toward neighborPhase by the
// wrap-aware shortest-arc difference scaled by weight. For weight in
// [0,1] this never increases the wrap-aware distance between the two
// phases.
func (m *TopicMesh) AlignPulse(neighborPhase, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	diff := shortestArc(neighborPhase - m.pulsePhase)
	m.pulsePhase = wrap01(m.pulsePhase + diff*weight)
}

func shortestArc(diff float64) float64 {
	switch {
	case diff > 0.5:
		return diff - 1.0
	case diff <= -0.5:
		return diff + 1.0
	default:
		return diff
	}
}

func wrap01(v float64) float64 {
	v = math.Mod(v, 1.0)
	if v < 0 {
		v += 1.0
	}
	return v
}

// HandleSpike processes an alarm: intensities above 200 force pressure
// to maximum and thicken the path toward the source. Lower intensities
// have no effect.
func (m *TopicMesh) HandleSpike(source wire.PeerID, intensity uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if intensity <= 200 {
		return
	}
	m.localPressure = 10.0
	if peer, ok := m.knownPeers[source]; ok {
		peer.Conductivity = math.Min(peer.Conductivity+2.0, 10.0)
	}
}

// HandleGraft attempts to admit peerID into the mesh. Returns false if
// the peer is backing off, unscored below threshold, unknown, or the
// mesh is already at d_high.
func (m *TopicMesh) HandleGraft(peerID wire.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleGraftLocked(peerID)
}

func (m *TopicMesh) handleGraftLocked(peerID wire.PeerID) bool {
	if _, backing := m.backoff[peerID]; backing {
		return false
	}
	peer, ok := m.knownPeers[peerID]
	if !ok {
		return false
	}
	if len(m.meshPeers) >= m.config.DHigh {
		return false
	}
	if peer.Score() < m.config.GraftThreshold {
		return false
	}
	m.meshPeers[peerID] = struct{}{}
	peer.InMesh = true
	return true
}

// HandlePrune removes peerID from the mesh and places it on backoff
// until now+backoff.
func (m *TopicMesh) HandlePrune(peerID wire.PeerID, backoff time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlePruneLocked(peerID, backoff)
}

func (m *TopicMesh) handlePruneLocked(peerID wire.PeerID, backoff time.Duration) {
	delete(m.meshPeers, peerID)
	if peer, ok := m.knownPeers[peerID]; ok {
		peer.InMesh = false
	}
	m.backoff[peerID] = time.Now().Add(backoff)
}

// HandleControl dispatches an inbound control verb from peerID and
// returns the response to send back (target = original source), if any.
func (m *TopicMesh) HandleControl(peerID wire.PeerID, ctrl wire.MeshControl) *wire.MeshControl {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ctrl.Kind {
	case wire.ControlGraft:
		if m.handleGraftLocked(peerID) {
			return nil
		}
		resp := wire.Prune(m.topic, 60*time.Second)
		return &resp
	case wire.ControlPrune:
		m.handlePruneLocked(peerID, ctrl.Backoff)
		return nil
	case wire.ControlIHave:
		missing := m.cache.missing(ctrl.MessageIDs)
		if len(missing) == 0 {
			return nil
		}
		resp := wire.IWant(missing)
		return &resp
	case wire.ControlIWant:
		return nil
	default:
		return nil
	}
}

// GetForwardTargets returns the peers a message should be forwarded to.
// Own messages flood to every peer scoring at or above graft_threshold;
// relayed messages go only to the current mesh.
func (m *TopicMesh) GetForwardTargets(isOwnMessage bool) []wire.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isOwnMessage {
		var targets []wire.PeerID
		for id, peer := range m.knownPeers {
			if peer.Score() >= m.config.GraftThreshold {
				targets = append(targets, id)
			}
		}
		return targets
	}

	targets := make([]wire.PeerID, 0, len(m.meshPeers))
	for id := range m.meshPeers {
		targets = append(targets, id)
	}
	return targets
}

// Stats reports a point-in-time snapshot of mesh health.
type Stats struct {
	MeshSize        int
	KnownPeers      int
	MedianScore     float64
	MinScore        float64
	MaxScore        float64
	MessagesCached  int
	DuplicateCount  uint64
	BackoffCount    int
}

// Stats returns a snapshot of the mesh's current health.
func (m *TopicMesh) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	scores := m.meshScoresLocked()
	min, max := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return Stats{
		MeshSize:       len(m.meshPeers),
		KnownPeers:     len(m.knownPeers),
		MedianScore:    medianOf(scores),
		MinScore:       min,
		MaxScore:       max,
		MessagesCached: m.cache.len(),
		DuplicateCount: m.duplicateCount,
		BackoffCount:   len(m.backoff),
	}
}

// meshScoresLocked returns the score of every current mesh member.
// Caller must hold m.mu.
func (m *TopicMesh) meshScoresLocked() []float64 {
	scores := make([]float64, 0, len(m.meshPeers))
	for id := range m.meshPeers {
		if peer, ok := m.knownPeers[id]; ok {
			scores = append(scores, peer.Score())
		}
	}
	return scores
}

func medianOf(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Slice(sorted, func(i, j int) bool { return scoreWorseThan(sorted[i], sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// MeshMembers returns a snapshot of the current mesh membership set.
func (m *TopicMesh) MeshMembers() []wire.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]wire.PeerID, 0, len(m.meshPeers))
	for id := range m.meshPeers {
		out = append(out, id)
	}
	return out
}

// InMesh reports whether id is currently a mesh member.
func (m *TopicMesh) InMesh(id wire.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.meshPeers[id]
	return ok
}

// InBackoff reports whether id is currently backing off.
func (m *TopicMesh) InBackoff(id wire.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	expiry, ok := m.backoff[id]
	return ok && expiry.After(time.Now())
}

// KnownPeer returns a copy of the peer record for id, if known.
func (m *TopicMesh) KnownPeer(id wire.PeerID) (PeerRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peer, ok := m.knownPeers[id]
	if !ok {
		return PeerRecord{}, false
	}
	return *peer, true
}

// EvictIdlePeers removes known peers whose last_seen predates the
// horizon, preventing known_peers from growing unbounded. Mesh members
// are never evicted this way; they must be
// pruned through the heartbeat/control path first.
func (m *TopicMesh) EvictIdlePeers(horizon time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	evicted := 0
	for id, peer := range m.knownPeers {
		if _, inMesh := m.meshPeers[id]; inMesh {
			continue
		}
		if now.Sub(peer.LastSeen) > horizon {
			delete(m.knownPeers, id)
			delete(m.backoff, id)
			evicted++
		}
	}
	return evicted
}
