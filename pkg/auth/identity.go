// Package auth implements capability-scoped authorization for tasks
// and delegations: ed25519 node identities, signed delegation tokens,
// and the ability/scope check a node runs before accepting a task's
// auth_token.
package auth

import (
	"encoding/json"
	"os"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Identity is a node's persistent signing keypair, following the
// transport layer's own persisted-identity convention so both layers
// share one key if desired.
type Identity struct {
	Priv   crypto.PrivKey
	PeerID peer.ID
}

// NewIdentity generates a fresh ed25519 identity.
func NewIdentity() (*Identity, error) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return &Identity{Priv: priv, PeerID: pid}, nil
}

// persistedIdentity is the on-disk JSON form of an Identity.
type persistedIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

// SaveIdentity writes id to path.
func SaveIdentity(id *Identity, path string) error {
	raw, err := crypto.MarshalPrivateKey(id.Priv)
	if err != nil {
		return err
	}
	data, err := json.Marshal(persistedIdentity{PrivKey: raw, PeerID: id.PeerID.String()})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadOrCreateIdentity loads the identity persisted at path, creating
// and persisting a new one if none exists yet.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		id, genErr := NewIdentity()
		if genErr != nil {
			return nil, genErr
		}
		if saveErr := SaveIdentity(id, path); saveErr != nil {
			return nil, saveErr
		}
		return id, nil
	}

	var persisted persistedIdentity
	if err := json.Unmarshal(data, &persisted); err != nil {
		return nil, err
	}
	priv, err := crypto.UnmarshalPrivateKey(persisted.PrivKey)
	if err != nil {
		return nil, err
	}
	pid, err := peer.Decode(persisted.PeerID)
	if err != nil {
		return nil, err
	}
	return &Identity{Priv: priv, PeerID: pid}, nil
}

// Sign signs message with this identity's private key.
func (id *Identity) Sign(message []byte) ([]byte, error) {
	return id.Priv.Sign(message)
}
