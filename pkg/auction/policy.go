package auction

import (
	"math"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// bidCost is the fixed cost both bidding policies attach to a bid; the
// auction never models a variable per-task cost.
const bidCost = 50.0

// TokenValidator is consulted by Emergent before bidding on a task that
// carries a non-empty auth_token.
type TokenValidator interface {
	Validate(task wire.Task) error
}

// Policy is a bid-or-decline rule a Bidder consults for a diffused
// Task. known carries whatever context the policy needs about bids
// already gathered for task.ID: QuorumSensing only looks at its count,
// Emergent scans it for the current best bid.
type Policy interface {
	Evaluate(self wire.PeerID, task wire.Task, energy float64, capabilities []wire.Capability, known []wire.Bid) (wire.Bid, bool)
}

func matchesAny(capabilities []wire.Capability, want wire.Capability) bool {
	for _, cap := range capabilities {
		if cap.Matches(want) {
			return true
		}
	}
	return false
}

// QuorumSensing is the simple bid-or-decline policy: once Quorum or
// more competing bids are already known, only a node above HighEnergy
// still bids; below FloorEnergy, no node bids regardless of quorum.
type QuorumSensing struct {
	Quorum      int
	HighEnergy  float64
	FloorEnergy float64
}

// NewQuorumSensing returns the baseline quorum-sensing thresholds:
// quorum 3, high-energy floor 0.8, hard floor 0.2.
func NewQuorumSensing() *QuorumSensing {
	return &QuorumSensing{Quorum: 3, HighEnergy: 0.8, FloorEnergy: 0.2}
}

// Evaluate implements: if Quorum or more bids are already known and
// energy < HighEnergy, decline; if energy < FloorEnergy, decline;
// otherwise bid iff a capability matches.
func (q *QuorumSensing) Evaluate(self wire.PeerID, task wire.Task, energy float64, capabilities []wire.Capability, known []wire.Bid) (wire.Bid, bool) {
	if len(known) >= q.Quorum && energy < q.HighEnergy {
		return wire.Bid{}, false
	}
	if energy < q.FloorEnergy {
		return wire.Bid{}, false
	}
	if !matchesAny(capabilities, task.RequiredCapability) {
		return wire.Bid{}, false
	}
	return wire.Bid{TaskID: task.ID, BidderID: self, EnergyScore: energy, Cost: bidCost}, true
}

// Emergent is the bundle bid-or-decline policy: it validates any
// auth_token, only improves on the current best bid known for the
// task, and discounts its own bid by the task's remaining diffusion
// reach, so a task far from its source draws conservative bids.
type Emergent struct {
	validator TokenValidator
}

// NewEmergent returns an Emergent policy that validates a non-empty
// auth_token with validator. With a nil validator, any task carrying a
// non-empty auth_token is declined, since the token cannot be checked;
// tasks with an empty auth_token are evaluated without validation.
func NewEmergent(validator TokenValidator) *Emergent {
	return &Emergent{validator: validator}
}

// Evaluate implements: validate auth_token if present (decline on
// failure); decline if energy is below the current best known bid's
// energy_score; decline if reach_intensity < 0.1; otherwise bid iff a
// capability matches, scaling energy_score by reach_intensity.
func (e *Emergent) Evaluate(self wire.PeerID, task wire.Task, energy float64, capabilities []wire.Capability, known []wire.Bid) (wire.Bid, bool) {
	if task.AuthToken != "" {
		if e.validator == nil || e.validator.Validate(task) != nil {
			return wire.Bid{}, false
		}
	}

	if best, ok := bestBid(known); ok && scoreBetterThan(best.EnergyScore, energy) {
		return wire.Bid{}, false
	}
	if task.ReachIntensity < 0.1 {
		return wire.Bid{}, false
	}
	if !matchesAny(capabilities, task.RequiredCapability) {
		return wire.Bid{}, false
	}

	return wire.Bid{
		TaskID:      task.ID,
		BidderID:    self,
		EnergyScore: energy * task.ReachIntensity,
		Cost:        bidCost,
	}, true
}

// bestBid returns the bid in bids with the highest energy_score, a
// total order that treats NaN as worst so a malformed bid never wins
// by comparison quirk.
func bestBid(bids []wire.Bid) (wire.Bid, bool) {
	var best wire.Bid
	have := false
	for _, b := range bids {
		if !have || scoreBetterThan(b.EnergyScore, best.EnergyScore) {
			best = b
			have = true
		}
	}
	return best, have
}

// scoreBetterThan reports whether a ranks above b, treating NaN as
// worst on either side.
func scoreBetterThan(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a > b
}
