package mesh

import (
	"math"
	"time"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// PeerRecord is everything the mesh tracks about one peer: its last
// advertised energy score, the path conductivity/pressure used to
// compute its score, and its membership bookkeeping.
type PeerRecord struct {
	ID            wire.PeerID
	EnergyScore   float64
	Conductivity  float64
	Pressure      float64
	MessageCount  uint64
	LastSeen      time.Time
	InMesh        bool
}

// newPeerRecord creates a record with neutral defaults: conductivity 1.0
// (just above the 0.5 decay floor, well below the 10.0 ceiling),
// pressure 0.
func newPeerRecord(id wire.PeerID, energyScore float64) *PeerRecord {
	return &PeerRecord{
		ID:           id,
		EnergyScore:  energyScore,
		Conductivity: 1.0,
		Pressure:     0,
		LastSeen:     time.Now(),
	}
}

// Score computes the fixed affine combination the mesh uses for every
// membership decision. NaN and infinite inputs never panic: a NaN
// score sorts as "worst" wherever scores are compared.
func (p *PeerRecord) Score() float64 {
	if p == nil {
		return math.NaN()
	}
	activity := clampMin0Max1(p.MessageCount, 100)
	conductivity := clamp(p.Conductivity, 0, 5) / 5
	pressure := 1 - clamp(p.Pressure, 0, 10)/10
	return 0.30*p.EnergyScore + 0.20*activity + 0.30*conductivity + 0.20*pressure
}

func clampMin0Max1(count uint64, ceiling float64) float64 {
	v := float64(count) / ceiling
	if v > 1 {
		return 1
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// scoreWorseThan orders scores for sort/min/max purposes, treating NaN
// as worse than any finite value so a peer with a corrupted score is
// always eligible for pruning and never selected for grafting.
func scoreWorseThan(a, b float64) bool {
	if math.IsNaN(a) {
		return !math.IsNaN(b)
	}
	if math.IsNaN(b) {
		return false
	}
	return a < b
}

// scoreBetterThan is the inverse ordering, used when picking the best
// candidate.
func scoreBetterThan(a, b float64) bool {
	return scoreWorseThan(b, a)
}
