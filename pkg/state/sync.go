package state

import (
	"fmt"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// CreateSyncStep1 builds the SyncStep1 message to start a sync with a
// peer: this replica's own state vector.
func CreateSyncStep1(doc SharedState) wire.SyncMessage {
	return wire.SyncMessage{Kind: wire.SyncStep1, Data: doc.StateVectorEncoded()}
}

// HandleSyncStep1 replies to a peer's state vector with whatever
// entries it is missing, as a SyncStep2 message.
func HandleSyncStep1(doc SharedState, msg wire.SyncMessage) (wire.SyncMessage, error) {
	update, err := doc.UpdateSince(msg.Data)
	if err != nil {
		return wire.SyncMessage{}, fmt.Errorf("handle sync step 1: %w", err)
	}
	return wire.SyncMessage{Kind: wire.SyncStep2, Data: update}, nil
}

// HandleSyncStep2 applies a peer's SyncStep2 reply (the entries it
// sent back in answer to this replica's SyncStep1).
func HandleSyncStep2(doc SharedState, msg wire.SyncMessage) error {
	return doc.ApplyUpdate(msg.Data)
}

// HandleUpdate applies a broadcast Update message.
func HandleUpdate(doc SharedState, msg wire.SyncMessage) error {
	return doc.ApplyUpdate(msg.Data)
}
