package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// LinearModel scores a tensor with one weight row per class plus a bias.
type LinearModel struct {
	width   int
	height  int
	weights [][]float32
	bias    []float32
}

type linearArtifact struct {
	Labels    []string    `json:"labels"`
	InputSize [2]int      `json:"input_size"`
	Weights   [][]float32 `json:"weights"`
	Bias      []float32   `json:"bias"`
}

// NewLinearModel validates the weight matrix against a width x height RGB input.
func NewLinearModel(width, height int, weights [][]float32, bias []float32) (*LinearModel, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", width, height)
	}
	if len(weights) == 0 {
		return nil, errors.New("no weight rows")
	}
	dim := 3 * width * height
	for i, row := range weights {
		if len(row) != dim {
			return nil, fmt.Errorf("weight row %d has %d values, want %d", i, len(row), dim)
		}
	}
	if len(bias) != 0 && len(bias) != len(weights) {
		return nil, fmt.Errorf("bias has %d values, want %d", len(bias), len(weights))
	}
	return &LinearModel{width: width, height: height, weights: weights, bias: bias}, nil
}

// InputSize implements Model.
func (m *LinearModel) InputSize() (int, int) { return m.width, m.height }

// Run implements Model.
func (m *LinearModel) Run(input []float32) ([]float32, error) {
	if want := 3 * m.width * m.height; len(input) != want {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), want)
	}
	scores := make([]float32, len(m.weights))
	for c, row := range m.weights {
		var sum float32
		for i, w := range row {
			sum += w * input[i]
		}
		if len(m.bias) > 0 {
			sum += m.bias[c]
		}
		scores[c] = sum
	}
	return scores, nil
}

// Load reads a model artifact. It never fails past this boundary: any problem with the file
// yields an Unavailable adapter whose LoadError says why.
func Load(path string) *Adapter {
	if path == "" {
		return Unavailable(fmt.Errorf("%w: no model path configured", ErrUnavailable))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Unavailable(fmt.Errorf("%w: model file not found at %s", ErrUnavailable, path))
		}
		return Unavailable(fmt.Errorf("%w: read model: %v", ErrUnavailable, err))
	}

	var artifact linearArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return Unavailable(fmt.Errorf("%w: parse model: %v", ErrUnavailable, err))
	}
	model, err := NewLinearModel(artifact.InputSize[0], artifact.InputSize[1], artifact.Weights, artifact.Bias)
	if err != nil {
		return Unavailable(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	return New(model, artifact.Labels)
}
