package recipes

import (
	"testing"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
)

func testSpec(id string) *RecipeSpec {
	return &RecipeSpec{
		ID:          id,
		DisplayName: "Test " + id,
		Family:      "bert",
		Model:       "bert-base-uncased",
		Entrypoint:  "train_bert.py",
		Defaults: Hyperparameters{
			EffectiveBatchSize: 256,
			MaxDeviceBatchSize: 32,
			LearningRate:       1e-4,
			SequenceLength:     128,
			Epochs:             2,
		},
		Optimizer: config.OptimizerConfig{
			Type:   "Adam",
			Params: config.OptimizerParams{LR: 1e-4},
		},
		SupportedDevices: []api.DeviceType{api.DeviceTypeCUDA},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testSpec("bert-test")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	spec, err := r.Get("bert-test")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if spec.DisplayName != "Test bert-test" {
		t.Errorf("unexpected spec returned: %+v", spec)
	}

	if _, err := r.Get("no-such-recipe"); err == nil {
		t.Error("expected error for unknown recipe")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testSpec("dup")); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := r.Register(testSpec("dup")); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRegistryRejectsInvalidSpec(t *testing.T) {
	spec := testSpec("broken")
	spec.Defaults.EffectiveBatchSize = 0

	r := NewRegistry()
	if err := r.Register(spec); err == nil {
		t.Error("expected invalid spec to be rejected")
	}
}

func TestRegistryListSortsAndFilters(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(testSpec(id)); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	list := r.List(api.DeviceTypeAll)
	if len(list) != 3 {
		t.Fatalf("expected 3 recipes, got %d", len(list))
	}
	if list[0].ID != "alpha" || list[2].ID != "zeta" {
		t.Errorf("list not sorted by ID: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}

	cuda := r.List(api.DeviceTypeCUDA)
	if len(cuda) != 3 {
		t.Errorf("expected all recipes to support cuda, got %d", len(cuda))
	}
}
