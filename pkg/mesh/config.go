package mesh

import "time"

// Config holds the per-topic mesh maintenance parameters. JSON tags
// let nodes serialize mesh config alongside the rest of their
// configuration.
type Config struct {
	D                           int           `json:"d"`
	DLow                        int           `json:"d_low"`
	DHigh                       int           `json:"d_high"`
	DLazy                       int           `json:"d_lazy"`
	HeartbeatInterval           time.Duration `json:"heartbeat_interval"`
	OpportunisticGraftThreshold float64       `json:"opportunistic_graft_threshold"`
	GraftThreshold              float64       `json:"graft_threshold"`
	PruneThreshold              float64       `json:"prune_threshold"`
}

// DefaultConfig returns the baseline mesh maintenance parameters.
func DefaultConfig() Config {
	return Config{
		D:                           6,
		DLow:                        4,
		DHigh:                       12,
		DLazy:                       6,
		HeartbeatInterval:           time.Second,
		OpportunisticGraftThreshold: 0.3,
		GraftThreshold:              0.1,
		PruneThreshold:              0.05,
	}
}

// Adaptive recomputes degree parameters from the node's current energy
// score. Thresholds are unchanged across tiers; only the degree knobs
// shrink as energy drops, so a starving node carries a thinner mesh.
func Adaptive(energyScore float64) Config {
	cfg := DefaultConfig()
	switch {
	case energyScore < 0.2:
		cfg.D, cfg.DLow, cfg.DHigh, cfg.DLazy = 2, 1, 4, 2
	case energyScore < 0.5:
		cfg.D, cfg.DLow, cfg.DHigh, cfg.DLazy = 4, 2, 8, 4
	}
	return cfg
}
