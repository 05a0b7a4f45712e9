package mesh

import (
	"sort"
	"time"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// Directive pairs a control message with the peer it must be sent to.
// Heartbeat returns a batch of these for the caller to hand to its
// transport.
type Directive struct {
	Target  wire.PeerID
	Control wire.MeshControl
}

// Heartbeat runs one maintenance cycle over the mesh and returns the
// control directives the caller must send. The steps run in a fixed
// order so later steps see the effects of earlier ones within the same
// tick:
//
//  1. decay every known peer's conductivity toward its floor
//  2. clear expired backoffs
//  3. prune mesh members scoring below prune_threshold
//  4. prune down to d_high if still oversized
//  5. graft up to d_low from the best eligible non-mesh peers
//  6. opportunistic grafting when the mesh's median score is weak
//  7. weak-link replacement: swap the weakest member for a clearly
//     stronger outsider
//  8. lazy push: announce recent message IDs to a handful of
//     non-mesh peers
func (m *TopicMesh) Heartbeat() []Directive {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Directive

	m.decayConductivityLocked()
	m.clearExpiredBackoffLocked()
	out = append(out, m.pruneWeakMembersLocked()...)
	out = append(out, m.pruneOverflowLocked()...)
	out = append(out, m.graftUnderflowLocked()...)
	out = append(out, m.opportunisticGraftLocked()...)
	out = append(out, m.weakLinkReplacementLocked()...)
	out = append(out, m.lazyPushLocked()...)

	return out
}

const (
	conductivityDecay = 0.95
	conductivityFloor = 0.5
	maxOpportunistic   = 2
)

// decayConductivityLocked pulls every known peer's conductivity toward
// the floor each tick, so a path that stops carrying traffic cools back
// down instead of staying permanently reinforced.
func (m *TopicMesh) decayConductivityLocked() {
	for _, peer := range m.knownPeers {
		decayed := peer.Conductivity * conductivityDecay
		if decayed < conductivityFloor {
			decayed = conductivityFloor
		}
		peer.Conductivity = decayed
	}
}

func (m *TopicMesh) clearExpiredBackoffLocked() {
	now := time.Now()
	for id, expiry := range m.backoff {
		if !expiry.After(now) {
			delete(m.backoff, id)
		}
	}
}

// pruneWeakMembersLocked removes any mesh member whose current score
// has fallen below prune_threshold.
func (m *TopicMesh) pruneWeakMembersLocked() []Directive {
	var out []Directive
	for id := range m.meshPeers {
		peer, ok := m.knownPeers[id]
		if !ok || peer.Score() < m.config.PruneThreshold {
			m.handlePruneLocked(id, 60*time.Second)
			out = append(out, Directive{Target: id, Control: wire.Prune(m.topic, 60*time.Second)})
		}
	}
	return out
}

// pruneOverflowLocked removes the weakest members while the mesh
// exceeds d_high, weakest first.
func (m *TopicMesh) pruneOverflowLocked() []Directive {
	var out []Directive
	for len(m.meshPeers) > m.config.DHigh {
		weakest, ok := m.weakestMemberLocked()
		if !ok {
			break
		}
		m.handlePruneLocked(weakest, 60*time.Second)
		out = append(out, Directive{Target: weakest, Control: wire.Prune(m.topic, 60*time.Second)})
	}
	return out
}

// graftUnderflowLocked admits the best eligible non-mesh peers until
// the mesh reaches d_low or no eligible candidates remain.
func (m *TopicMesh) graftUnderflowLocked() []Directive {
	var out []Directive
	for len(m.meshPeers) < m.config.DLow {
		candidate, ok := m.bestEligibleCandidateLocked()
		if !ok {
			break
		}
		m.handleGraftLocked(candidate)
		out = append(out, Directive{Target: candidate, Control: wire.Graft(m.topic)})
	}
	return out
}

// opportunisticGraftLocked adds up to two extra members scoring above
// the mesh's own median when that median is weak, even if the mesh is
// already at d_low or above, so a mesh of mediocre peers gets a chance
// to improve.
func (m *TopicMesh) opportunisticGraftLocked() []Directive {
	median := medianOf(m.meshScoresLocked())
	if median >= m.config.OpportunisticGraftThreshold {
		return nil
	}

	candidates := m.candidatesAboveLocked(median)
	var out []Directive
	for _, candidate := range candidates {
		if len(out) >= maxOpportunistic || len(m.meshPeers) >= m.config.DHigh {
			break
		}
		if !m.handleGraftLocked(candidate) {
			continue
		}
		out = append(out, Directive{Target: candidate, Control: wire.Graft(m.topic)})
	}
	return out
}

// candidatesAboveLocked returns non-mesh, non-backing-off peers scoring
// strictly above minScore, sorted descending by score.
func (m *TopicMesh) candidatesAboveLocked(minScore float64) []wire.PeerID {
	now := time.Now()
	type scoredPeer struct {
		id    wire.PeerID
		score float64
	}
	var pool []scoredPeer
	for id, peer := range m.knownPeers {
		if _, inMesh := m.meshPeers[id]; inMesh {
			continue
		}
		if expiry, backing := m.backoff[id]; backing && expiry.After(now) {
			continue
		}
		s := peer.Score()
		if !scoreBetterThan(s, minScore) {
			continue
		}
		pool = append(pool, scoredPeer{id, s})
	}
	sort.Slice(pool, func(i, j int) bool { return scoreBetterThan(pool[i].score, pool[j].score) })
	out := make([]wire.PeerID, len(pool))
	for i, p := range pool {
		out[i] = p.id
	}
	return out
}

// weakLinkReplacementLocked swaps the mesh's weakest member for a
// clearly stronger outsider (score advantage > 0.1), one swap per
// tick, so a stale low-scoring member doesn't squat on a mesh slot
// indefinitely once better peers are known.
func (m *TopicMesh) weakLinkReplacementLocked() []Directive {
	weakest, ok := m.weakestMemberLocked()
	if !ok {
		return nil
	}
	weakScore := m.knownPeers[weakest].Score()

	candidate, ok := m.bestEligibleCandidateLocked()
	if !ok {
		return nil
	}
	if !scoreBetterThan(m.knownPeers[candidate].Score(), weakScore+0.1) {
		return nil
	}

	m.handlePruneLocked(weakest, 60*time.Second)
	m.handleGraftLocked(candidate)
	return []Directive{
		{Target: weakest, Control: wire.Prune(m.topic, 60*time.Second)},
		{Target: candidate, Control: wire.Graft(m.topic)},
	}
}

// lazyPushLocked announces recently seen message IDs to up to d_lazy
// random non-mesh peers, giving the mesh a gossip-style fallback path
// that doesn't depend on graft/prune convergence.
func (m *TopicMesh) lazyPushLocked() []Directive {
	recent := m.cache.recent(10)
	if len(recent) == 0 {
		return nil
	}
	outsiders := m.nonMeshPeersLocked()
	m.rng.Shuffle(len(outsiders), func(i, j int) { outsiders[i], outsiders[j] = outsiders[j], outsiders[i] })

	n := m.config.DLazy
	if n > len(outsiders) {
		n = len(outsiders)
	}
	out := make([]Directive, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Directive{Target: outsiders[i], Control: wire.IHave(m.topic, recent)})
	}
	return out
}

// weakestMemberLocked returns the current mesh member with the lowest
// score.
func (m *TopicMesh) weakestMemberLocked() (wire.PeerID, bool) {
	var weakest wire.PeerID
	found := false
	var weakestScore float64
	for id := range m.meshPeers {
		peer, ok := m.knownPeers[id]
		if !ok {
			continue
		}
		s := peer.Score()
		if !found || scoreWorseThan(s, weakestScore) {
			weakest, weakestScore, found = id, s, true
		}
	}
	return weakest, found
}

// bestEligibleCandidateLocked returns the highest-scoring non-mesh,
// non-backing-off, above-graft-threshold peer.
func (m *TopicMesh) bestEligibleCandidateLocked() (wire.PeerID, bool) {
	var best wire.PeerID
	found := false
	var bestScore float64
	now := time.Now()
	for id, peer := range m.knownPeers {
		if _, inMesh := m.meshPeers[id]; inMesh {
			continue
		}
		if expiry, backing := m.backoff[id]; backing && expiry.After(now) {
			continue
		}
		s := peer.Score()
		if s < m.config.GraftThreshold {
			continue
		}
		if !found || scoreBetterThan(s, bestScore) {
			best, bestScore, found = id, s, true
		}
	}
	return best, found
}

// nonMeshPeersLocked returns every known peer not currently in the
// mesh.
func (m *TopicMesh) nonMeshPeersLocked() []wire.PeerID {
	out := make([]wire.PeerID, 0, len(m.knownPeers)-len(m.meshPeers))
	for id := range m.knownPeers {
		if _, inMesh := m.meshPeers[id]; !inMesh {
			out = append(out, id)
		}
	}
	return out
}
