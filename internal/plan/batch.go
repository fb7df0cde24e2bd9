// Package plan resolves a recipe plus submit-time overrides into a
// concrete launch plan: the batch arithmetic, the external launcher's
// argument vector, the communication-backend environment and the trainer
// JSON configuration.
//
// Planning is pure computation with no side effects, so the CLI can run
// it client-side for dry runs ("trainctl plan") and the server runs the
// same code on submission.
package plan

import "fmt"

// BatchPlan is the resolved batch geometry for one job.
//
// The invariants maintained here are the contract with the external
// trainer:
//   - MicroBatch * Nodes * GPUsPerNode * AccumulationSteps >= EffectiveBatchSize
//   - AccumulationSteps == 1 whenever the per-device share of the
//     effective batch already fits under the per-device ceiling
//   - MicroBatch never exceeds the per-device ceiling
type BatchPlan struct {
	// EffectiveBatchSize is the requested global batch size.
	EffectiveBatchSize int

	// Nodes and GPUsPerNode describe the accelerator topology.
	Nodes       int
	GPUsPerNode int

	// MicroBatch is the per-device batch for a single forward/backward pass.
	MicroBatch int

	// AccumulationSteps is the number of passes whose gradients are summed
	// before each optimizer update.
	AccumulationSteps int
}

// WorldSize returns the total accelerator count.
func (b *BatchPlan) WorldSize() int {
	return b.Nodes * b.GPUsPerNode
}

// ceilDiv returns ceil(a/b) for positive a, b.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// ComputeBatchPlan derives the per-device micro batch and the
// gradient-accumulation step count from the effective batch size, the
// topology and the per-device batch ceiling.
//
// The per-device share of the effective batch is ceil(effective/world).
// When the share fits under maxDeviceBatch no accumulation is needed and
// a single step is used. Otherwise the share is split into the fewest
// steps whose micro batch stays under the ceiling. Ceiling divisions mean
// the plan can cover slightly more than the requested effective batch,
// never less.
//
// Parameters:
//   - effectiveBatch: global batch size per optimizer update
//   - nodes: node count
//   - gpusPerNode: accelerators per node
//   - maxDeviceBatch: largest micro batch one device can hold
//
// Returns:
//   - The computed batch plan
//   - Error if any input is not positive
func ComputeBatchPlan(effectiveBatch, nodes, gpusPerNode, maxDeviceBatch int) (*BatchPlan, error) {
	if effectiveBatch <= 0 {
		return nil, fmt.Errorf("effective batch size must be positive, got %d", effectiveBatch)
	}
	if nodes <= 0 {
		return nil, fmt.Errorf("node count must be positive, got %d", nodes)
	}
	if gpusPerNode <= 0 {
		return nil, fmt.Errorf("GPUs per node must be positive, got %d", gpusPerNode)
	}
	if maxDeviceBatch <= 0 {
		return nil, fmt.Errorf("max device batch size must be positive, got %d", maxDeviceBatch)
	}

	world := nodes * gpusPerNode
	perDevice := ceilDiv(effectiveBatch, world)

	steps := 1
	micro := perDevice
	if perDevice > maxDeviceBatch {
		steps = ceilDiv(perDevice, maxDeviceBatch)
		micro = ceilDiv(perDevice, steps)
	}

	return &BatchPlan{
		EffectiveBatchSize: effectiveBatch,
		Nodes:              nodes,
		GPUsPerNode:        gpusPerNode,
		MicroBatch:         micro,
		AccumulationSteps:  steps,
	}, nil
}
