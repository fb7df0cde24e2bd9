package plan

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/recipes"
)

func testSpec() *recipes.RecipeSpec {
	return &recipes.RecipeSpec{
		ID:             "bert-test",
		DisplayName:    "BERT Test",
		Family:         "bert",
		Model:          "bert-base-uncased",
		Entrypoint:     "train_bert.py",
		DatasetDirName: "bert-pretrain",
		Defaults: recipes.Hyperparameters{
			EffectiveBatchSize: 256,
			MaxDeviceBatchSize: 32,
			LearningRate:       1e-4,
			SequenceLength:     128,
			Epochs:             3,
			WarmupProportion:   0.01,
			FP16:               true,
			FusedKernels:       true,
		},
		Optimizer: config.OptimizerConfig{
			Type:   "Adam",
			Params: config.OptimizerParams{Betas: [2]float64{0.9, 0.999}, Eps: 1e-8},
		},
		GradientClipping: 1.0,
		ZeroStage:        1,
		SupportedDevices: []api.DeviceType{api.DeviceTypeCUDA},
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.NewConfigWithCustomDirs(dir, "")
	return cfg
}

func TestResolveDefaults(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)
	req := &api.SubmitJobRequest{
		Recipe:    spec.ID,
		Overrides: api.JobOverrides{GPUsPerNode: 8},
	}

	p, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if p.Batch.Nodes != 1 || p.Batch.GPUsPerNode != 8 {
		t.Errorf("topology = %dx%d, want 1x8", p.Batch.Nodes, p.Batch.GPUsPerNode)
	}
	if p.Batch.MicroBatch != 32 || p.Batch.AccumulationSteps != 1 {
		t.Errorf("batch = micro %d steps %d, want 32/1", p.Batch.MicroBatch, p.Batch.AccumulationSteps)
	}
	if p.TrainerConfig.TrainBatchSize != 256 {
		t.Errorf("train batch = %d, want 256", p.TrainerConfig.TrainBatchSize)
	}
	if p.TrainerConfig.FP16 == nil || !p.TrainerConfig.FP16.Enabled {
		t.Error("fp16 block should be enabled")
	}
	if p.TrainerConfig.Optimizer.Params.LR != 1e-4 {
		t.Errorf("optimizer lr = %g, want 1e-4", p.TrainerConfig.Optimizer.Params.LR)
	}
	if want := filepath.Join("/tmp/job-1", "checkpoints"); p.CheckpointDir != want {
		t.Errorf("checkpoint dir = %s, want %s", p.CheckpointDir, want)
	}
}

func TestResolveAppliesOverrides(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)
	noFP16 := false
	req := &api.SubmitJobRequest{
		Recipe: spec.ID,
		Overrides: api.JobOverrides{
			GPUsPerNode:        4,
			EffectiveBatchSize: 1024,
			MaxDeviceBatchSize: 16,
			LearningRate:       5e-5,
			Epochs:             1,
			FP16:               &noFP16,
		},
	}

	p, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// 1024 across 4 GPUs is 256 per device; 16 steps of 16 cover it.
	if p.Batch.MicroBatch != 16 || p.Batch.AccumulationSteps != 16 {
		t.Errorf("batch = micro %d steps %d, want 16/16", p.Batch.MicroBatch, p.Batch.AccumulationSteps)
	}
	if p.Hyper.LearningRate != 5e-5 {
		t.Errorf("lr = %g, want 5e-5", p.Hyper.LearningRate)
	}
	if p.TrainerConfig.FP16 != nil {
		t.Error("fp16 block should be absent when overridden off")
	}
}

func TestResolveMergesEnvOverrides(t *testing.T) {
	spec := testSpec()
	spec.LaunchEnv = map[string]string{
		"NCCL_TREE_THRESHOLD": "0",
		"NCCL_DEBUG":          "WARN",
	}
	cfg := testConfig(t)
	req := &api.SubmitJobRequest{
		Recipe: spec.ID,
		Env: map[string]string{
			"NCCL_DEBUG":         "INFO",
			"NCCL_SOCKET_IFNAME": "eth0",
		},
		Overrides: api.JobOverrides{GPUsPerNode: 2},
	}

	env := config.DefaultLaunchEnv()
	env.TreeThreshold = 15360

	p, err := Resolve(spec, req, cfg, env, "/tmp/job-env")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	got := make(map[string]int)
	for _, entry := range p.Env {
		key, _, _ := strings.Cut(entry, "=")
		got[key]++
	}
	for key, n := range got {
		if n > 1 {
			t.Errorf("env key %s appears %d times", key, n)
		}
	}

	want := map[string]string{
		// recipe override beats launch_env.yaml
		"NCCL_TREE_THRESHOLD": "0",
		// submit override beats the recipe
		"NCCL_DEBUG": "INFO",
		// submit-only key is added
		"NCCL_SOCKET_IFNAME": "eth0",
	}
	for key, value := range want {
		if !containsEnv(p.Env, key+"="+value) {
			t.Errorf("env missing %s=%s in %v", key, value, p.Env)
		}
	}
}

func containsEnv(env []string, entry string) bool {
	for _, e := range env {
		if e == entry {
			return true
		}
	}
	return false
}

func TestResolveMultiNodeNeedsHostfile(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)
	req := &api.SubmitJobRequest{
		Recipe:    spec.ID,
		Overrides: api.JobOverrides{Nodes: 2, GPUsPerNode: 8},
	}

	if _, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-3"); err == nil {
		t.Fatal("expected error for multi-node job without hostfile")
	}

	cfg.Launcher.Hostfile = "/etc/trainctl/hostfile"
	p, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-3")
	if err != nil {
		t.Fatalf("Resolve with hostfile: %v", err)
	}

	argv := strings.Join(p.Argv(), " ")
	if !strings.Contains(argv, "--hostfile /etc/trainctl/hostfile") {
		t.Errorf("argv missing hostfile: %s", argv)
	}
	if !strings.Contains(argv, "--num_nodes 2") {
		t.Errorf("argv missing node count: %s", argv)
	}
}

func TestResolveRejectsMismatchedUserConfig(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)

	// Write a user config whose accumulation disagrees with the plan.
	tc := &config.TrainerConfig{
		TrainBatchSize:            256,
		TrainMicroBatchSizePerGPU: 8,
		GradientAccumulationSteps: 4,
		Optimizer: config.OptimizerConfig{
			Type:   "Adam",
			Params: config.OptimizerParams{LR: 1e-4},
		},
	}
	path := filepath.Join(t.TempDir(), "user_config.json")
	if err := tc.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	req := &api.SubmitJobRequest{
		Recipe:            spec.ID,
		Overrides:         api.JobOverrides{GPUsPerNode: 8},
		TrainerConfigPath: path,
	}

	if _, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-4"); err == nil {
		t.Fatal("expected mismatch error for user config")
	}
}

func TestArgvContents(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)
	req := &api.SubmitJobRequest{
		Recipe:    spec.ID,
		Overrides: api.JobOverrides{GPUsPerNode: 8},
	}

	p, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-5")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	argv := p.Argv()
	if argv[0] != config.DefaultLauncherBinary {
		t.Errorf("argv[0] = %s, want %s", argv[0], config.DefaultLauncherBinary)
	}

	joined := strings.Join(argv, " ")
	for _, want := range []string{
		"train_bert.py",
		"--model_name bert-base-uncased",
		"--train_micro_batch_size_per_gpu 32",
		"--gradient_accumulation_steps 1",
		"--fp16",
		"--transformer_kernel",
		"--config /tmp/job-5/trainer_config.json",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("argv missing %q: %s", want, joined)
		}
	}
}

func TestRenderMentionsCommand(t *testing.T) {
	spec := testSpec()
	cfg := testConfig(t)
	req := &api.SubmitJobRequest{Recipe: spec.ID, Overrides: api.JobOverrides{GPUsPerNode: 2}}

	p, err := Resolve(spec, req, cfg, config.DefaultLaunchEnv(), "/tmp/job-6")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	var buf bytes.Buffer
	p.Render(&buf)
	out := buf.String()
	if !strings.Contains(out, "Command:") || !strings.Contains(out, spec.Entrypoint) {
		t.Errorf("render output missing command line: %s", out)
	}
}
