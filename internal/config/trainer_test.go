package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func validTrainerConfig() *TrainerConfig {
	return &TrainerConfig{
		TrainBatchSize:            256,
		TrainMicroBatchSizePerGPU: 32,
		GradientAccumulationSteps: 1,
		Optimizer: OptimizerConfig{
			Type:   "Adam",
			Params: OptimizerParams{LR: 1e-4},
		},
	}
}

func TestTrainerConfigValidate(t *testing.T) {
	tc := validTrainerConfig()
	if err := tc.Validate(8); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestTrainerConfigValidateBatchMismatch(t *testing.T) {
	tc := validTrainerConfig()
	// 32 * 1 * 4 = 128 < 256: the world is too small for the batch.
	err := tc.Validate(4)
	if err == nil {
		t.Fatal("expected batch arithmetic error")
	}
	if !strings.Contains(err.Error(), "batch arithmetic") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestTrainerConfigValidateRejectsBadFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*TrainerConfig)
	}{
		{"zero micro batch", func(tc *TrainerConfig) { tc.TrainMicroBatchSizePerGPU = 0 }},
		{"zero steps", func(tc *TrainerConfig) { tc.GradientAccumulationSteps = 0 }},
		{"zero train batch", func(tc *TrainerConfig) { tc.TrainBatchSize = 0 }},
		{"missing optimizer", func(tc *TrainerConfig) { tc.Optimizer.Type = "" }},
		{"zero lr", func(tc *TrainerConfig) { tc.Optimizer.Params.LR = 0 }},
		{"bad quantize bits", func(tc *TrainerConfig) {
			tc.QuantizeTraining = &QuantizeConfig{Enabled: true, TargetBits: 0}
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tc := validTrainerConfig()
			c.mutate(tc)
			if err := tc.Validate(8); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTrainerConfigWriteAndLoad(t *testing.T) {
	tc := validTrainerConfig()
	tc.FP16 = &FP16Config{Enabled: true, InitialScalePower: 16}
	tc.QuantizeTraining = &QuantizeConfig{Enabled: true, TargetBits: 8, StartBits: 16}

	path := filepath.Join(t.TempDir(), TrainerConfigFileName)
	if err := tc.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := LoadTrainerConfig(path)
	if err != nil {
		t.Fatalf("LoadTrainerConfig: %v", err)
	}

	if loaded.TrainBatchSize != tc.TrainBatchSize {
		t.Errorf("train batch = %d, want %d", loaded.TrainBatchSize, tc.TrainBatchSize)
	}
	if loaded.FP16 == nil || !loaded.FP16.Enabled {
		t.Error("fp16 block lost in round trip")
	}
	if loaded.QuantizeTraining == nil || loaded.QuantizeTraining.TargetBits != 8 {
		t.Error("quantize block lost in round trip")
	}
	if err := loaded.Validate(8); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadTrainerConfigMissingFile(t *testing.T) {
	if _, err := LoadTrainerConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
