package auth

import (
	"testing"
	"time"
)

func mustIdentity(t *testing.T) *Identity {
	t.Helper()
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("new identity: %v", err)
	}
	return id
}

func TestDelegationRoundTripVerifies(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	scope := Scope{OriginNode: "node-3", Resource: "task"}

	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, scope, time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if err := Verify(d, AbilityExecute, scope); err != nil {
		t.Fatalf("expected valid delegation to verify, got %v", err)
	}
}

func TestDelegationRejectsWrongAbility(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	scope := Scope{OriginNode: "node-3", Resource: "task"}

	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, scope, time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if err := Verify(d, AbilityAdmin, scope); err == nil {
		t.Fatalf("expected verification to reject mismatched ability")
	}
}

func TestDelegationRejectsExpired(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	scope := Scope{OriginNode: "node-3", Resource: "task"}

	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, scope, -time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	if err := Verify(d, AbilityExecute, scope); err == nil {
		t.Fatalf("expected verification to reject expired delegation")
	}
}

func TestDelegationRejectsTamperedSignature(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	scope := Scope{OriginNode: "node-3", Resource: "task"}

	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, scope, time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	d.Signature[0] ^= 0xFF

	if err := Verify(d, AbilityExecute, scope); err == nil {
		t.Fatalf("expected verification to reject tampered signature")
	}
}

func TestScopeContainsRequiresExactMatch(t *testing.T) {
	scope := Scope{OriginNode: "node-3", Resource: "task"}
	if !scope.Contains(scope) {
		t.Fatalf("a scope should contain itself")
	}
	if scope.Contains(Scope{OriginNode: "node-4", Resource: "task"}) {
		t.Fatalf("different origin nodes should not match")
	}
}
