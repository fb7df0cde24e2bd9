package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadLaunchEnvMissingFileUsesDefaults(t *testing.T) {
	env, err := LoadLaunchEnv(t.TempDir())
	if err != nil {
		t.Fatalf("LoadLaunchEnv: %v", err)
	}
	if len(env.Environ()) != 0 {
		t.Errorf("default env should render empty, got %v", env.Environ())
	}
}

func TestLoadLaunchEnvFromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := `socket_interface: eth0
tree_threshold: 0
disable_infiniband: true
debug: INFO
extra:
  NCCL_MIN_NRINGS: "4"
`
	if err := os.WriteFile(filepath.Join(dir, LaunchEnvFileName), []byte(yaml), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	env, err := LoadLaunchEnv(dir)
	if err != nil {
		t.Fatalf("LoadLaunchEnv: %v", err)
	}

	got := env.Environ()
	want := []string{
		"NCCL_DEBUG=INFO",
		"NCCL_IB_DISABLE=1",
		"NCCL_MIN_NRINGS=4",
		"NCCL_SOCKET_IFNAME=eth0",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Environ() = %v, want %v", got, want)
	}
}

func TestLaunchEnvTreeThreshold(t *testing.T) {
	env := &LaunchEnv{TreeThreshold: 44739243}
	got := env.Environ()
	if len(got) != 1 || got[0] != "NCCL_TREE_THRESHOLD=44739243" {
		t.Errorf("Environ() = %v", got)
	}
}

func TestCUDAVisibleDevices(t *testing.T) {
	if got := CUDAVisibleDevices(nil); got != "" {
		t.Errorf("empty set should render empty, got %q", got)
	}
	if got := CUDAVisibleDevices([]int{0, 2, 3}); got != "0,2,3" {
		t.Errorf("CUDAVisibleDevices = %q, want 0,2,3", got)
	}
}
