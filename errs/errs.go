// Package errs defines the sentinel error kinds shared across spore
// components. Callers test against these with errors.Is; components
// wrap them with context via fmt.Errorf("...: %w", errs.Exhausted).
package errs

import "errors"

var (
	// DecodeFailure marks a malformed inbound payload. The caller logs
	// and drops the message; it is never fatal.
	DecodeFailure = errors.New("decode failure")

	// TransportBackpressure marks a transient send failure (outbound
	// rate limit hit, stream open or write failure). Nothing retries it:
	// the node driver logs the error and drops that message.
	TransportBackpressure = errors.New("transport backpressure")

	// TransportFatal marks an unrecoverable transport failure (listen
	// or dial socket death). Surfaced to the caller, who decides
	// whether to restart the driver.
	TransportFatal = errors.New("transport fatal error")

	// Exhausted marks a metabolism-budget refusal: the node declined
	// an action because it cannot afford the cost.
	Exhausted = errors.New("metabolism exhausted")

	// PolicyReject marks a decline driven by authorization or quorum
	// policy rather than resource exhaustion.
	PolicyReject = errors.New("policy reject")

	// InvariantViolation marks a detected inconsistency between mesh
	// membership and peer records. Callers assert and reconcile;
	// they never panic on it in production paths.
	InvariantViolation = errors.New("invariant violation")
)
