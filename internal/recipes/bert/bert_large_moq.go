package bert

import (
	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/recipes"
)

func init() {
	recipes.MustRegister(&recipes.RecipeSpec{
		ID:          "bert-large-moq",
		DisplayName: "BERT Large (quantized fine-tune)",
		Family:      "bert",
		Description: "Question-answering fine-tune of BERT large with mixed-precision " +
			"quantization-aware training. Weights anneal from 16 to 8 bits on a fixed " +
			"schedule while accuracy is preserved by the eased transition.",
		Model:          "bert-large-uncased-whole-word-masking",
		Tokenizer:      "bert-large-uncased",
		Entrypoint:     "train_squad.py",
		DatasetDirName: "squad",
		Defaults: recipes.Hyperparameters{
			EffectiveBatchSize: 24,
			MaxDeviceBatchSize: 6,
			LearningRate:       3e-5,
			SequenceLength:     384,
			Epochs:             2,
			WarmupProportion:   0.1,
			FP16:               true,
			FusedKernels:       false,
		},
		Optimizer: config.OptimizerConfig{
			Type: "Adam",
			Params: config.OptimizerParams{
				Betas:       [2]float64{0.9, 0.999},
				Eps:         1e-8,
				WeightDecay: 0.0,
			},
		},
		GradientClipping: 1.0,
		ZeroStage:        1,
		Quantize: &config.QuantizeConfig{
			Enabled:        true,
			TargetBits:     8,
			StartBits:      16,
			QuantizePeriod: 400,
			ScheduleOffset: 100,
			QuantizeGroups: 8,
		},
		SupportedDevices: []api.DeviceType{api.DeviceTypeCUDA},
		RequiredVRAM:     32,
	})
}
