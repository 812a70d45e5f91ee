// Package classifier wraps an opaque emotion model behind a predict contract that never panics
// and never fails the session: a missing or broken model leaves the adapter Unavailable.
package classifier

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by Predict when no model is loaded.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrInference wraps every failure raised while running the model.
	ErrInference = errors.New("inference failed")
)

// UnknownLabel names a predicted index outside the label table.
const UnknownLabel = "Unknown"

// DefaultLabels is the class table of the bundled emotion model.
var DefaultLabels = []string{
	"anger",
	"contempt",
	"disgust",
	"embarrass",
	"fear",
	"joy",
	"neutral",
	"pride",
	"sadness",
	"surprise",
}

// Model is the opaque inference capability. Run receives a CHW float tensor and returns one
// score per class.
type Model interface {
	Run(input []float32) ([]float32, error)
	InputSize() (width, height int)
}

// Result is one classification.
type Result struct {
	Label      string
	Confidence float64
	ClassIndex int
}

// Adapter is the boundary around a Model. The zero value is Unavailable.
type Adapter struct {
	model   Model
	labels  []string
	loadErr error
}

// New wraps an already loaded model. A nil model yields an Unavailable adapter.
func New(model Model, labels []string) *Adapter {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	a := &Adapter{model: model, labels: append([]string(nil), labels...)}
	if model == nil {
		a.loadErr = ErrUnavailable
	}
	return a
}

// Unavailable returns an adapter that reports cause from LoadError.
func Unavailable(cause error) *Adapter {
	if cause == nil {
		cause = ErrUnavailable
	}
	return &Adapter{labels: DefaultLabels, loadErr: cause}
}

// Available reports whether Predict will attempt inference.
func (a *Adapter) Available() bool {
	return a != nil && a.model != nil
}

// LoadError explains why the adapter is unavailable; nil when a model is loaded.
func (a *Adapter) LoadError() error {
	if a == nil {
		return ErrUnavailable
	}
	return a.loadErr
}

// InputSize returns the frame size the model expects, or 0, 0 when unavailable.
func (a *Adapter) InputSize() (int, int) {
	if !a.Available() {
		return 0, 0
	}
	return a.model.InputSize()
}

// Labels returns the class table.
func (a *Adapter) Labels() []string {
	return append([]string(nil), a.labels...)
}

// Predict runs the model over a preprocessed tensor and picks the arg-max class. Confidence is the
// raw winning score. Model errors and panics come back wrapped in ErrInference.
func (a *Adapter) Predict(ctx context.Context, input []float32) (res Result, err error) {
	if !a.Available() {
		return Result{}, ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(input) == 0 {
		return Result{}, fmt.Errorf("%w: empty input", ErrInference)
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: model panic: %v", ErrInference, r)
		}
	}()

	scores, err := a.model.Run(input)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(scores) == 0 {
		return Result{}, fmt.Errorf("%w: model returned no scores", ErrInference)
	}

	best := 0
	for i, s := range scores[1:] {
		if s > scores[best] {
			best = i + 1
		}
	}

	label := UnknownLabel
	if best < len(a.labels) {
		label = a.labels[best]
	}
	return Result{Label: label, Confidence: float64(scores[best]), ClassIndex: best}, nil
}
