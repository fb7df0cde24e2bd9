// Package bert defines the shipped BERT-family training recipes.
//
// Each recipe lives in its own file and registers itself with the default
// registry from init(). Importing this package (done by the server and
// the plan command) makes the recipes available.
package bert

import (
	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/recipes"
)

func init() {
	recipes.MustRegister(&recipes.RecipeSpec{
		ID:          "bert-base",
		DisplayName: "BERT Base (uncased)",
		Family:      "bert",
		Description: "Pre-training for the 12-layer BERT base model on masked-language-model " +
			"and next-sentence-prediction objectives. Tuned for a single node of 16 GB GPUs.",
		Model:          "bert-base-uncased",
		Entrypoint:     "train_bert.py",
		DatasetDirName: "bert-pretrain",
		Defaults: recipes.Hyperparameters{
			EffectiveBatchSize: 256,
			MaxDeviceBatchSize: 32,
			LearningRate:       1e-4,
			SequenceLength:     128,
			Epochs:             10,
			WarmupProportion:   0.01,
			FP16:               true,
			FusedKernels:       true,
		},
		Optimizer: config.OptimizerConfig{
			Type: "Adam",
			Params: config.OptimizerParams{
				Betas:       [2]float64{0.9, 0.999},
				Eps:         1e-8,
				WeightDecay: 0.01,
			},
		},
		GradientClipping: 1.0,
		ZeroStage:        1,
		SupportedDevices: []api.DeviceType{api.DeviceTypeCUDA},
		RequiredVRAM:     16,
	})
}
