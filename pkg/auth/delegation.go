package auth

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/nmxmxh/sporemesh/errs"
)

// Ability names the operation a delegation authorizes, mirroring the
// ability taxonomy a capability-scoped token distinguishes between
// (execute a task, store a result, read a sensor, administer a node).
type Ability string

const (
	AbilityExecute Ability = "sporemesh/execute"
	AbilityStore   Ability = "sporemesh/store"
	AbilitySense   Ability = "sporemesh/sense"
	AbilityAdmin   Ability = "sporemesh/admin"
)

// Scope names the resource a delegation is valid over: a specific
// origin node and resource type, e.g. ("node-3", "task").
type Scope struct {
	OriginNode string
	Resource   string
}

// Contains reports whether this scope covers other — currently exact
// match only, no hierarchical scopes.
func (s Scope) Contains(other Scope) bool {
	return s.OriginNode == other.OriginNode && s.Resource == other.Resource
}

// Delegation is a signed capability grant: issuer authorizes audience
// to exercise ability within scope until it expires.
type Delegation struct {
	Issuer    peer.ID
	Audience  peer.ID
	Ability   Ability
	Scope     Scope
	ExpiresAt time.Time
	Signature []byte
}

func (d Delegation) signingBytes() []byte {
	return []byte(fmt.Sprintf("DELEGATE:%s:%s:%s:%s:%s:%d",
		d.Issuer, d.Audience, d.Ability, d.Scope.OriginNode, d.Scope.Resource, d.ExpiresAt.Unix()))
}

// Delegate issues a Delegation from id to audience, signed by id.
func Delegate(id *Identity, audience peer.ID, ability Ability, scope Scope, ttl time.Duration) (Delegation, error) {
	d := Delegation{
		Issuer:    id.PeerID,
		Audience:  audience,
		Ability:   ability,
		Scope:     scope,
		ExpiresAt: time.Now().Add(ttl),
	}
	sig, err := id.Sign(d.signingBytes())
	if err != nil {
		return Delegation{}, fmt.Errorf("sign delegation: %w", err)
	}
	d.Signature = sig
	return d, nil
}

// Verify checks d's signature against its issuer's public key, that it
// has not expired, and that it authorizes ability within scope.
func Verify(d Delegation, requireAbility Ability, requireScope Scope) error {
	if time.Now().After(d.ExpiresAt) {
		return fmt.Errorf("%w: delegation expired at %s", errs.PolicyReject, d.ExpiresAt)
	}
	if d.Ability != requireAbility {
		return fmt.Errorf("%w: delegation grants %s, want %s", errs.PolicyReject, d.Ability, requireAbility)
	}
	if !d.Scope.Contains(requireScope) {
		return fmt.Errorf("%w: delegation scope %+v does not cover %+v", errs.PolicyReject, d.Scope, requireScope)
	}

	pub, err := d.Issuer.ExtractPublicKey()
	if err != nil {
		return fmt.Errorf("%w: cannot extract issuer public key: %v", errs.PolicyReject, err)
	}
	ok, err := pub.Verify(d.signingBytes(), d.Signature)
	if err != nil || !ok {
		return fmt.Errorf("%w: delegation signature invalid", errs.PolicyReject)
	}
	return nil
}

// EncodeSignature base64-encodes a Delegation's signature for embedding
// as a wire.Task.AuthToken. The rest of the delegation (issuer,
// audience, ability, scope, expiry) travels alongside it out of band,
// keeping the task payload itself small.
func EncodeSignature(d Delegation) string {
	return base64.StdEncoding.EncodeToString(d.Signature)
}
