// Package executor runs a task's payload against a node's metabolism
// budget, metering consumed energy the way a real sandboxed runtime
// would meter fuel.
package executor

import (
	"context"
	"fmt"

	"github.com/nmxmxh/sporemesh/errs"
	"github.com/nmxmxh/sporemesh/pkg/metabolism"
)

// fuelPerBudgetUnit is the energy-to-fuel exchange rate: one full unit
// of energy budget buys 100,000 fuel units.
const fuelPerBudgetUnit = 100_000.0

// Executor runs a task payload under a fuel budget derived from the
// caller's remaining energy, deducting the consumed amount from
// metabolism before returning.
type Executor interface {
	Name() string
	Execute(ctx context.Context, payload, input []byte, metab metabolism.Metabolism, budget float64) ([]byte, error)
}

// SandboxExecutor is a metering-only stand-in for a real sandboxed
// runtime: it does not interpret payload, it charges a deterministic
// fuel cost derived from payload size against the budget and fails
// closed if that cost exceeds the budget's fuel allowance.
type SandboxExecutor struct{}

// NewSandboxExecutor returns a SandboxExecutor.
func NewSandboxExecutor() *SandboxExecutor { return &SandboxExecutor{} }

func (s *SandboxExecutor) Name() string { return "sandbox" }

// Execute charges len(payload)+len(input) fuel units (floor 1) against
// the budget. If the cost would exceed the fuel budget, or the
// metabolism refuses the deduction, it returns errs.Exhausted.
func (s *SandboxExecutor) Execute(ctx context.Context, payload, input []byte, metab metabolism.Metabolism, budget float64) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fuelLimit := budget * fuelPerBudgetUnit
	fuelCost := float64(len(payload) + len(input))
	if fuelCost < 1 {
		fuelCost = 1
	}
	if fuelCost > fuelLimit {
		return nil, fmt.Errorf("%w: task requires %.0f fuel, budget allows %.0f", errs.Exhausted, fuelCost, fuelLimit)
	}

	cost := fuelCost / fuelPerBudgetUnit
	if !metab.Consume(cost) {
		return nil, fmt.Errorf("%w: metabolism refused to consume %.4f", errs.Exhausted, cost)
	}

	return []byte{}, nil
}
