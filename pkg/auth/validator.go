package auth

import (
	"fmt"
	"sync"

	"github.com/nmxmxh/sporemesh/errs"
	"github.com/nmxmxh/sporemesh/pkg/wire"
)

// DelegationValidator implements auction.TokenValidator against a
// registry of delegations this node has received out of band, keyed
// by their encoded signature. It satisfies the core's three auth_token
// requirements: an empty token is rejected only in secure mode,
// well-formed tokens pass a signature and capability check, and
// malformed (unrecognized) tokens decline without side effects.
type DelegationValidator struct {
	mu         sync.Mutex
	secureMode bool
	byToken    map[string]Delegation
}

// NewDelegationValidator creates a validator with an empty registry.
// In secure mode, a task with no auth_token is rejected outright.
func NewDelegationValidator(secureMode bool) *DelegationValidator {
	return &DelegationValidator{secureMode: secureMode, byToken: make(map[string]Delegation)}
}

// Register makes d recognizable by its encoded signature, so a later
// Task carrying that signature as AuthToken can be validated against
// it.
func (v *DelegationValidator) Register(d Delegation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byToken[EncodeSignature(d)] = d
}

// Validate checks task.AuthToken against the registered delegation that
// issued it, requiring the AbilityExecute grant to cover the task's
// source node and required capability kind.
func (v *DelegationValidator) Validate(task wire.Task) error {
	if task.AuthToken == "" {
		if v.secureMode {
			return fmt.Errorf("%w: empty auth_token in secure mode", errs.PolicyReject)
		}
		return nil
	}

	v.mu.Lock()
	d, ok := v.byToken[task.AuthToken]
	v.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unrecognized auth_token", errs.PolicyReject)
	}

	scope := Scope{OriginNode: string(task.SourceID), Resource: string(task.RequiredCapability.Kind)}
	return Verify(d, AbilityExecute, scope)
}
