package auth

import (
	"time"

	"testing"

	"github.com/nmxmxh/sporemesh/pkg/wire"
)

func TestDelegationValidatorAcceptsRegisteredToken(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, Scope{OriginNode: "node-a", Resource: string(wire.CapabilityCompute)}, time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	v := NewDelegationValidator(false)
	v.Register(d)

	task := wire.Task{
		ID:                 "t1",
		RequiredCapability: wire.ComputeCapability(100),
		SourceID:           "node-a",
		AuthToken:          EncodeSignature(d),
	}
	if err := v.Validate(task); err != nil {
		t.Fatalf("expected registered token to validate, got %v", err)
	}
}

func TestDelegationValidatorRejectsUnrecognizedToken(t *testing.T) {
	v := NewDelegationValidator(false)
	task := wire.Task{ID: "t1", AuthToken: "not-a-real-token"}
	if err := v.Validate(task); err == nil {
		t.Fatalf("expected unrecognized token to fail validation")
	}
}

func TestDelegationValidatorAllowsEmptyTokenOutsideSecureMode(t *testing.T) {
	v := NewDelegationValidator(false)
	if err := v.Validate(wire.Task{ID: "t1"}); err != nil {
		t.Fatalf("expected empty token to pass outside secure mode, got %v", err)
	}
}

func TestDelegationValidatorRejectsEmptyTokenInSecureMode(t *testing.T) {
	v := NewDelegationValidator(true)
	if err := v.Validate(wire.Task{ID: "t1"}); err == nil {
		t.Fatalf("expected empty token to fail in secure mode")
	}
}

func TestDelegationValidatorRejectsScopeMismatch(t *testing.T) {
	issuer := mustIdentity(t)
	audience := mustIdentity(t)
	d, err := Delegate(issuer, audience.PeerID, AbilityExecute, Scope{OriginNode: "node-a", Resource: string(wire.CapabilityCompute)}, time.Minute)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}

	v := NewDelegationValidator(false)
	v.Register(d)

	task := wire.Task{
		ID:                 "t1",
		RequiredCapability: wire.StorageCapability(10),
		SourceID:           "node-a",
		AuthToken:          EncodeSignature(d),
	}
	if err := v.Validate(task); err == nil {
		t.Fatalf("expected scope mismatch to fail validation")
	}
}
