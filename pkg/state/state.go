// Package state implements a SharedState collaborator: document sync
// via SyncStep1/SyncStep2/Update messages, backed by a deliberately
// simple last-writer-wins map CRDT.
package state

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nmxmxh/sporemesh/errs"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// Entry is one replicated key's last-writer-wins record. Counter is
// per-author and monotonically increasing, so conflicting writes from
// the same author resolve by recency and writes from different authors
// resolve by (Counter, PeerID) to stay deterministic across replicas.
type Entry struct {
	Key     string      `json:"key"`
	Value   string      `json:"value"`
	Author  wire.PeerID `json:"author"`
	Counter uint64      `json:"counter"`
}

func (e Entry) wins(other Entry) bool {
	if e.Counter != other.Counter {
		return e.Counter > other.Counter
	}
	return e.Author > other.Author
}

// SharedState is the external collaborator interface the scheduler
// talks to on the state topic.
type SharedState interface {
	// Set applies a local write, authored by author.
	Set(key, value string, author wire.PeerID)
	// ApplyUpdate merges a remote Update payload into the document.
	ApplyUpdate(update []byte) error
	// StateVectorEncoded returns this replica's current state vector.
	StateVectorEncoded() []byte
	// UpdateSince returns the entries this replica has that are newer
	// than the given encoded state vector.
	UpdateSince(svEncoded []byte) ([]byte, error)
	// Snapshot returns a point-in-time copy of all live key/value pairs.
	Snapshot() map[string]string
}

// Document is an in-memory SharedState implementation.
type Document struct {
	mu      sync.RWMutex
	entries map[string]Entry
	authors map[wire.PeerID]uint64
}

// NewDocument creates an empty Document.
func NewDocument() *Document {
	return &Document{
		entries: make(map[string]Entry),
		authors: make(map[wire.PeerID]uint64),
	}
}

// Set writes key=value as author, bumping author's local counter.
func (d *Document) Set(key, value string, author wire.PeerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authors[author]++
	entry := Entry{Key: key, Value: value, Author: author, Counter: d.authors[author]}
	if existing, ok := d.entries[key]; !ok || entry.wins(existing) {
		d.entries[key] = entry
	}
}

// ApplyUpdate merges every entry in update into the document,
// resolving conflicts by last-writer-wins.
func (d *Document) ApplyUpdate(update []byte) error {
	var entries []Entry
	if err := json.Unmarshal(update, &entries); err != nil {
		return fmt.Errorf("%w: decode update: %v", errs.DecodeFailure, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range entries {
		if existing, ok := d.entries[entry.Key]; !ok || entry.wins(existing) {
			d.entries[entry.Key] = entry
		}
		if entry.Counter > d.authors[entry.Author] {
			d.authors[entry.Author] = entry.Counter
		}
	}
	return nil
}

// StateVectorEncoded returns the per-author counters this replica has
// observed, JSON-encoded.
func (d *Document) StateVectorEncoded() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out, _ := json.Marshal(d.authors)
	return out
}

// UpdateSince decodes a remote state vector and returns the entries
// this replica holds that the remote side has not yet seen (its
// recorded counter for that author is behind ours).
func (d *Document) UpdateSince(svEncoded []byte) ([]byte, error) {
	var remoteVector map[wire.PeerID]uint64
	if err := json.Unmarshal(svEncoded, &remoteVector); err != nil {
		return nil, fmt.Errorf("%w: decode state vector: %v", errs.DecodeFailure, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	var missing []Entry
	for _, entry := range d.entries {
		if entry.Counter > remoteVector[entry.Author] {
			missing = append(missing, entry)
		}
	}
	out, err := json.Marshal(missing)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return out, nil
}

// Snapshot returns the current live key/value view.
func (d *Document) Snapshot() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.entries))
	for k, v := range d.entries {
		out[k] = v.Value
	}
	return out
}
