// Package auction implements task diffusion through the mesh and the
// stateless bid-or-decline policies a node consults when a diffused
// task reaches it.
package auction

import (
	"math"
	"sync"

	"github.com/nmxmxh/sporemesh/pkg/metabolism"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// Diffuse computes the reach intensity a task carries after hopping to
// a neighbor with the given conductivity, energy and pressure. This
// mirrors the mesh's pheromone-style decay: well-conductive,
// well-energized, low-pressure neighbors preserve reach; everything
// else erodes it.
func Diffuse(reachIntensity, conductivity, neighborEnergy, neighborPressure float64) float64 {
	pressureFactor := 1.0 - math.Min(neighborPressure, 10.0)/10.0
	return reachIntensity *
		math.Min(conductivity, 3.0) *
		math.Min(neighborEnergy+0.2, 1.0) *
		math.Min(pressureFactor+0.1, 1.0) *
		0.9
}

// Bidder evaluates diffused tasks against a node's own capabilities and
// energy budget, consulting a Policy to decide whether to bid.
type Bidder struct {
	mu           sync.Mutex
	peerID       wire.PeerID
	metabolism   metabolism.Metabolism
	capabilities []wire.Capability
	policy       Policy
}

// NewBidder creates a Bidder for peerID backed by metab, deciding
// bid-or-decline per policy (quorum-sensing or emergent).
func NewBidder(peerID wire.PeerID, metab metabolism.Metabolism, capabilities []wire.Capability, policy Policy) *Bidder {
	return &Bidder{
		peerID:       peerID,
		metabolism:   metab,
		capabilities: capabilities,
		policy:       policy,
	}
}

// AddCapability registers an additional capability this node can serve.
func (b *Bidder) AddCapability(cap wire.Capability) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capabilities = append(b.capabilities, cap)
}

// Evaluate decides whether to bid for task, consulting known for
// whatever context this Bidder's policy needs about bids already
// gathered for task.ID (see Policy).
func (b *Bidder) Evaluate(task wire.Task, known []wire.Bid) (wire.Bid, bool) {
	b.mu.Lock()
	energy := b.metabolism.EnergyScore()
	capabilities := append([]wire.Capability(nil), b.capabilities...)
	peerID := b.peerID
	policy := b.policy
	b.mu.Unlock()

	return policy.Evaluate(peerID, task, energy, capabilities, known)
}
