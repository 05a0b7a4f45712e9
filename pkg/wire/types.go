// Package wire defines the payload-level records exchanged over the
// pub/sub transport and their JSON encoding. Every record round-trips
// through json.Marshal/Unmarshal with no custom binary framing.
package wire

import "time"

// PeerID is an opaque, comparable token. The core never inspects its
// contents; the transport adapter owns peer-identity cryptography.
type PeerID string

// Topic names the five structured message classes the scheduler
// recognizes. Any other string is an opaque "generic" topic whose
// payload is persisted verbatim.
type Topic string

const (
	TopicStatus  Topic = "status"
	TopicControl Topic = "control"
	TopicTask    Topic = "task"
	TopicSpike   Topic = "spike"
	TopicState   Topic = "state"
)

// InboundMessage is what the transport adapter's event stream yields
// for each delivered message.
type InboundMessage struct {
	SourcePeer PeerID `json:"source_peer"`
	MsgID      string `json:"msg_id"`
	TopicHash  string `json:"topic_hash"`
	Bytes      []byte `json:"bytes"`
}

// EnergyStatus is the status-topic payload: a peer advertising its
// current energy score.
type EnergyStatus struct {
	SourceID    PeerID  `json:"source_id"`
	EnergyScore float64 `json:"energy_score"`
}

// ControlKind tags the variant of a MeshControl verb.
type ControlKind string

const (
	ControlGraft ControlKind = "graft"
	ControlPrune ControlKind = "prune"
	ControlIHave ControlKind = "ihave"
	ControlIWant ControlKind = "iwant"
)

// MeshControl is the tagged union of mesh maintenance verbs. Only the
// fields relevant to Kind are populated; the rest are left zero.
type MeshControl struct {
	Kind       ControlKind   `json:"kind"`
	Topic      string        `json:"topic,omitempty"`
	Backoff    time.Duration `json:"backoff,omitempty"`
	MessageIDs []string      `json:"message_ids,omitempty"`
}

func Graft(topic string) MeshControl {
	return MeshControl{Kind: ControlGraft, Topic: topic}
}

func Prune(topic string, backoff time.Duration) MeshControl {
	return MeshControl{Kind: ControlPrune, Topic: topic, Backoff: backoff}
}

func IHave(topic string, ids []string) MeshControl {
	return MeshControl{Kind: ControlIHave, Topic: topic, MessageIDs: ids}
}

func IWant(ids []string) MeshControl {
	return MeshControl{Kind: ControlIWant, MessageIDs: ids}
}

// ControlEnvelope carries the (target_peer_id, MeshControl) pair the
// control topic transports; receivers ignore envelopes not addressed
// to them, whichever peer delivered the envelope.
type ControlEnvelope struct {
	Target  PeerID      `json:"target_peer_id"`
	Control MeshControl `json:"control"`
}

// Spike is the "danger" alarm: a high-intensity signal that forces
// local pressure to maximum and thickens the path toward its source.
type Spike struct {
	Source    PeerID `json:"source"`
	Intensity uint8  `json:"intensity"`
	PatternID uint8  `json:"pattern_id"`
}

// CapabilityKind tags the variant of a Capability.
type CapabilityKind string

const (
	CapabilityCompute CapabilityKind = "compute"
	CapabilityStorage CapabilityKind = "storage"
	CapabilitySensing CapabilityKind = "sensing"
)

// Capability is a tagged variant describing what a task requires or a
// node offers. Two capabilities match iff same variant and payload.
type Capability struct {
	Kind    CapabilityKind `json:"kind"`
	Compute uint32         `json:"compute,omitempty"`
	Storage uint64         `json:"storage,omitempty"`
	Sensing string         `json:"sensing,omitempty"`
}

func ComputeCapability(n uint32) Capability { return Capability{Kind: CapabilityCompute, Compute: n} }
func StorageCapability(n uint64) Capability { return Capability{Kind: CapabilityStorage, Storage: n} }
func SensingCapability(tag string) Capability {
	return Capability{Kind: CapabilitySensing, Sensing: tag}
}

// Matches reports whether two capabilities share the same variant and
// payload.
func (c Capability) Matches(other Capability) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case CapabilityCompute:
		return c.Compute == other.Compute
	case CapabilityStorage:
		return c.Storage == other.Storage
	case CapabilitySensing:
		return c.Sensing == other.Sensing
	default:
		return false
	}
}

// Task is a unit of work diffused through the mesh for auction.
type Task struct {
	ID                 string     `json:"id"`
	RequiredCapability Capability `json:"required_capability"`
	Priority           uint8      `json:"priority"`
	ReachIntensity     float64    `json:"reach_intensity"`
	SourceID           PeerID     `json:"source_id"`
	AuthToken          string     `json:"auth_token,omitempty"`
}

// Bid is a node's offer to perform a Task.
type Bid struct {
	TaskID      string  `json:"task_id"`
	BidderID    PeerID  `json:"bidder_id"`
	EnergyScore float64 `json:"energy_score"`
	Cost        float64 `json:"cost"`
}

// SyncMessageKind tags the variant of a CRDT SyncMessage.
type SyncMessageKind string

const (
	SyncUpdate SyncMessageKind = "update"
	SyncStep1  SyncMessageKind = "sync_step1"
	SyncStep2  SyncMessageKind = "sync_step2"
)

// SyncMessage is the state-topic payload exchanged with the CRDT
// collaborator.
type SyncMessage struct {
	Kind SyncMessageKind `json:"kind"`
	Data []byte          `json:"data"`
}

func UpdateMessage(update []byte) SyncMessage { return SyncMessage{Kind: SyncUpdate, Data: update} }
func SyncStep1Message(sv []byte) SyncMessage  { return SyncMessage{Kind: SyncStep1, Data: sv} }
func SyncStep2Message(update []byte) SyncMessage {
	return SyncMessage{Kind: SyncStep2, Data: update}
}
