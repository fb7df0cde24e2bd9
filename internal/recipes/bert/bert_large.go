package bert

import (
	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/recipes"
)

func init() {
	recipes.MustRegister(&recipes.RecipeSpec{
		ID:          "bert-large",
		DisplayName: "BERT Large (uncased)",
		Family:      "bert",
		Description: "Large-batch pre-training for the 24-layer BERT large model using the " +
			"LAMB optimizer. Sized for multi-node runs; gradient accumulation fills the gap " +
			"between the global batch and what fits on each GPU.",
		Model:          "bert-large-uncased",
		Entrypoint:     "train_bert.py",
		DatasetDirName: "bert-pretrain",
		Defaults: recipes.Hyperparameters{
			EffectiveBatchSize: 4096,
			MaxDeviceBatchSize: 16,
			LearningRate:       2e-3,
			SequenceLength:     128,
			Epochs:             4,
			WarmupProportion:   0.02,
			FP16:               true,
			FusedKernels:       true,
		},
		Optimizer: config.OptimizerConfig{
			Type: "Lamb",
			Params: config.OptimizerParams{
				Betas:       [2]float64{0.9, 0.999},
				Eps:         1e-8,
				WeightDecay: 0.01,
			},
		},
		GradientClipping: 1.0,
		ZeroStage:        2,
		SupportedDevices: []api.DeviceType{api.DeviceTypeCUDA},
		RequiredVRAM:     32,
	})
}
