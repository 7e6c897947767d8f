package serving

import (
	"fmt"
	"math"

	"model-lifecycle-service/internal/core/domain"
)

// Activations applied to each output of a linear model.
const (
	ActivationIdentity = "identity"
	ActivationSigmoid  = "sigmoid"
)

// LinearModel is a dense layer: output[i] = act(sum_j Weights[i][j]*x[j] + Bias[i]).
// It is never mutated after loading.
type LinearModel struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

func (m *LinearModel) validate() error {
	if len(m.Weights) == 0 {
		return fmt.Errorf("%w: no weights", domain.ErrUnsupportedArtifact)
	}
	width := len(m.Weights[0])
	if width == 0 {
		return fmt.Errorf("%w: empty weight row", domain.ErrUnsupportedArtifact)
	}
	for i, row := range m.Weights {
		if len(row) != width {
			return fmt.Errorf("%w: weight row %d has %d columns, want %d", domain.ErrUnsupportedArtifact, i, len(row), width)
		}
	}
	if len(m.Bias) != 0 && len(m.Bias) != len(m.Weights) {
		return fmt.Errorf("%w: %d biases for %d outputs", domain.ErrUnsupportedArtifact, len(m.Bias), len(m.Weights))
	}
	switch m.Activation {
	case "", ActivationIdentity, ActivationSigmoid:
	default:
		return fmt.Errorf("%w: unknown activation %q", domain.ErrUnsupportedArtifact, m.Activation)
	}
	return nil
}

// Inputs is the feature count the model expects.
func (m *LinearModel) Inputs() int {
	return len(m.Weights[0])
}

// Predict returns one value per output row.
func (m *LinearModel) Predict(features []float64) ([]float64, error) {
	if len(features) != m.Inputs() {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", domain.ErrInvalidFeatures, len(features), m.Inputs())
	}

	out := make([]float64, len(m.Weights))
	for i, row := range m.Weights {
		sum := 0.0
		for j, w := range row {
			sum += w * features[j]
		}
		if len(m.Bias) > 0 {
			sum += m.Bias[i]
		}
		if m.Activation == ActivationSigmoid {
			sum = 1 / (1 + math.Exp(-sum))
		}
		if math.IsNaN(sum) || math.IsInf(sum, 0) {
			return nil, fmt.Errorf("output %d is not finite", i)
		}
		out[i] = sum
	}
	return out, nil
}
