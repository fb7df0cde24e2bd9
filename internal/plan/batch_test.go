package plan

import "testing"

func TestComputeBatchPlan(t *testing.T) {
	tests := []struct {
		name           string
		effective      int
		nodes          int
		gpusPerNode    int
		maxDeviceBatch int
		wantMicro      int
		wantSteps      int
	}{
		{
			name:      "fits without accumulation",
			effective: 256, nodes: 1, gpusPerNode: 8, maxDeviceBatch: 32,
			wantMicro: 32, wantSteps: 1,
		},
		{
			name:      "exact accumulation split",
			effective: 4096, nodes: 4, gpusPerNode: 8, maxDeviceBatch: 16,
			wantMicro: 16, wantSteps: 8,
		},
		{
			name:      "single device single example",
			effective: 1, nodes: 1, gpusPerNode: 1, maxDeviceBatch: 1,
			wantMicro: 1, wantSteps: 1,
		},
		{
			name:      "uneven share rounds up",
			effective: 100, nodes: 1, gpusPerNode: 3, maxDeviceBatch: 10,
			// per-device share ceil(100/3)=34, steps ceil(34/10)=4, micro ceil(34/4)=9
			wantMicro: 9, wantSteps: 4,
		},
		{
			name:      "share equal to ceiling needs one step",
			effective: 128, nodes: 2, gpusPerNode: 4, maxDeviceBatch: 16,
			wantMicro: 16, wantSteps: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, err := ComputeBatchPlan(tt.effective, tt.nodes, tt.gpusPerNode, tt.maxDeviceBatch)
			if err != nil {
				t.Fatalf("ComputeBatchPlan: %v", err)
			}
			if bp.MicroBatch != tt.wantMicro {
				t.Errorf("micro batch = %d, want %d", bp.MicroBatch, tt.wantMicro)
			}
			if bp.AccumulationSteps != tt.wantSteps {
				t.Errorf("accumulation steps = %d, want %d", bp.AccumulationSteps, tt.wantSteps)
			}
		})
	}
}

func TestComputeBatchPlanRejectsInvalidInput(t *testing.T) {
	cases := [][4]int{
		{0, 1, 1, 1},
		{-5, 1, 1, 1},
		{8, 0, 1, 1},
		{8, 1, 0, 1},
		{8, 1, 1, 0},
		{8, -1, 1, 4},
	}

	for _, c := range cases {
		if _, err := ComputeBatchPlan(c[0], c[1], c[2], c[3]); err == nil {
			t.Errorf("ComputeBatchPlan(%v) = nil error, want error", c)
		}
	}
}

// TestBatchPlanCoverage sweeps a grid of inputs and checks the two
// arithmetic guarantees: the plan always covers the requested effective
// batch, and accumulation only kicks in when the per-device share
// exceeds the device ceiling.
func TestBatchPlanCoverage(t *testing.T) {
	for effective := 1; effective <= 512; effective += 7 {
		for nodes := 1; nodes <= 4; nodes++ {
			for gpus := 1; gpus <= 8; gpus *= 2 {
				for maxBatch := 1; maxBatch <= 64; maxBatch *= 4 {
					bp, err := ComputeBatchPlan(effective, nodes, gpus, maxBatch)
					if err != nil {
						t.Fatalf("ComputeBatchPlan(%d,%d,%d,%d): %v",
							effective, nodes, gpus, maxBatch, err)
					}

					world := nodes * gpus
					covered := bp.MicroBatch * world * bp.AccumulationSteps
					if covered < effective {
						t.Errorf("plan(%d,%d,%d,%d) covers %d < effective %d",
							effective, nodes, gpus, maxBatch, covered, effective)
					}

					if bp.MicroBatch > maxBatch {
						t.Errorf("plan(%d,%d,%d,%d) micro batch %d exceeds ceiling %d",
							effective, nodes, gpus, maxBatch, bp.MicroBatch, maxBatch)
					}

					perDevice := (effective + world - 1) / world
					if perDevice <= maxBatch && bp.AccumulationSteps != 1 {
						t.Errorf("plan(%d,%d,%d,%d) uses %d steps although share %d fits under %d",
							effective, nodes, gpus, maxBatch,
							bp.AccumulationSteps, perDevice, maxBatch)
					}
					if bp.AccumulationSteps < 1 {
						t.Errorf("plan(%d,%d,%d,%d) steps %d < 1",
							effective, nodes, gpus, maxBatch, bp.AccumulationSteps)
					}
				}
			}
		}
	}
}
