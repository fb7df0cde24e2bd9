package device

import (
	"fmt"
	"sort"
	"sync"

	"github.com/forgeml/trainctl/internal/logger"
)

// Allocator manages the allocation and release of GPUs to jobs.
//
// Unlike container-tracked allocation, training jobs may run as plain
// host processes, so allocations are tracked in memory and keyed by job
// ID. The launcher manager releases devices when a job reaches a
// terminal state.
//
// Thread-safety: all methods are safe for concurrent use.
type Allocator struct {
	mu    sync.Mutex
	gpus  []GPU
	byJob map[string][]int
	inUse map[int]string
}

// NewAllocator creates an allocator over the manager's device list.
func NewAllocator(m *Manager) *Allocator {
	return &Allocator{
		gpus:  m.GPUs(),
		byJob: make(map[string][]int),
		inUse: make(map[int]string),
	}
}

// Allocate reserves count free devices for a job and returns their
// indexes in ascending order.
//
// Returns:
//   - Allocated device indexes
//   - Error if fewer than count devices are free
func (a *Allocator) Allocate(jobID string, count int) ([]int, error) {
	if count <= 0 {
		return nil, fmt.Errorf("device count must be positive, got %d", count)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byJob[jobID]; exists {
		return nil, fmt.Errorf("job %s already holds devices", jobID)
	}

	var free []int
	for _, g := range a.gpus {
		if _, taken := a.inUse[g.Index]; !taken {
			free = append(free, g.Index)
		}
	}

	if len(free) < count {
		return nil, fmt.Errorf("insufficient free devices: requested %d, available %d",
			count, len(free))
	}

	picked := free[:count]
	for _, idx := range picked {
		a.inUse[idx] = jobID
	}
	a.byJob[jobID] = picked

	logger.Info("Allocated %d device(s) to job %s: %v", count, jobID, picked)

	return picked, nil
}

// AllocateExact reserves a specific set of device indexes for a job,
// used when the submission pins devices with --device.
func (a *Allocator) AllocateExact(jobID string, indexes []int) ([]int, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("at least one device index is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byJob[jobID]; exists {
		return nil, fmt.Errorf("job %s already holds devices", jobID)
	}

	valid := make(map[int]bool, len(a.gpus))
	for _, g := range a.gpus {
		valid[g.Index] = true
	}

	sorted := append([]int(nil), indexes...)
	sort.Ints(sorted)

	for _, idx := range sorted {
		if !valid[idx] {
			return nil, fmt.Errorf("unknown device index %d", idx)
		}
		if holder, taken := a.inUse[idx]; taken {
			return nil, fmt.Errorf("device %d is held by job %s", idx, holder)
		}
	}

	for _, idx := range sorted {
		a.inUse[idx] = jobID
	}
	a.byJob[jobID] = sorted

	logger.Info("Allocated device(s) %v to job %s", sorted, jobID)

	return sorted, nil
}

// Release frees all devices held by a job. Releasing a job with no
// allocation is a no-op.
func (a *Allocator) Release(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	indexes, ok := a.byJob[jobID]
	if !ok {
		return
	}

	for _, idx := range indexes {
		delete(a.inUse, idx)
	}
	delete(a.byJob, jobID)

	logger.Debug("Released device(s) %v from job %s", indexes, jobID)
}

// Allocated returns the set of device indexes currently in use.
func (a *Allocator) Allocated() map[int]bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[int]bool, len(a.inUse))
	for idx := range a.inUse {
		out[idx] = true
	}
	return out
}
