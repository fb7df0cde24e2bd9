package device

import (
	"os"
	"path/filepath"
	"testing"
)

func declaredManager(t *testing.T, count int) *Manager {
	t.Helper()
	dir := t.TempDir()

	yaml := "gpus:\n"
	for i := 0; i < count; i++ {
		yaml += "  - model_name: Test GPU\n"
	}
	if err := os.WriteFile(filepath.Join(dir, DevicesFileName), []byte(yaml), 0644); err != nil {
		t.Fatalf("write devices.yaml: %v", err)
	}

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Count() != count {
		t.Fatalf("manager has %d devices, want %d", m.Count(), count)
	}
	return m
}

func TestAllocateAndRelease(t *testing.T) {
	a := NewAllocator(declaredManager(t, 4))

	got, err := a.Allocate("job-1", 2)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("allocated %v, want 2 devices", got)
	}

	if _, err := a.Allocate("job-2", 3); err == nil {
		t.Fatal("expected insufficient devices error")
	}

	a.Release("job-1")
	if _, err := a.Allocate("job-2", 3); err != nil {
		t.Fatalf("Allocate after release: %v", err)
	}
}

func TestAllocateRejectsDoubleAllocation(t *testing.T) {
	a := NewAllocator(declaredManager(t, 2))

	if _, err := a.Allocate("job-1", 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate("job-1", 1); err == nil {
		t.Fatal("expected error for second allocation by the same job")
	}
}

func TestAllocateExact(t *testing.T) {
	a := NewAllocator(declaredManager(t, 4))

	got, err := a.AllocateExact("job-1", []int{3, 1})
	if err != nil {
		t.Fatalf("AllocateExact: %v", err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("AllocateExact = %v, want [1 3]", got)
	}

	if _, err := a.AllocateExact("job-2", []int{1}); err == nil {
		t.Fatal("expected conflict error for held device")
	}
	if _, err := a.AllocateExact("job-3", []int{9}); err == nil {
		t.Fatal("expected error for unknown device index")
	}
}

func TestAllocatedSet(t *testing.T) {
	a := NewAllocator(declaredManager(t, 3))

	if _, err := a.AllocateExact("job-1", []int{0, 2}); err != nil {
		t.Fatalf("AllocateExact: %v", err)
	}

	allocated := a.Allocated()
	if !allocated[0] || allocated[1] || !allocated[2] {
		t.Errorf("Allocated() = %v, want {0,2}", allocated)
	}
}

func TestManagerWithoutDevicesFile(t *testing.T) {
	// No devices.yaml and (on most test hosts) no NVIDIA GPUs: the
	// manager should come up with an empty list, not fail.
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	_ = m.GPUs()
}
