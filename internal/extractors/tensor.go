package extractors

import (
	"errors"
	"fmt"
	"image"
)

// ErrEmptyFrame is returned for nil or zero-area frames.
var ErrEmptyFrame = errors.New("empty frame")

// ImageNet channel statistics used to normalise RGB input.
var (
	imageNetMean = [3]float32{0.485, 0.456, 0.406}
	imageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// TensorExtractor turns camera frames into the CHW float tensor the classifier expects.
type TensorExtractor struct {
	width  int
	height int
}

// NewTensorExtractor creates an extractor resizing to width x height. Non-positive sizes fall
// back to 224x224.
func NewTensorExtractor(width, height int) *TensorExtractor {
	if width <= 0 || height <= 0 {
		width, height = 224, 224
	}
	return &TensorExtractor{width: width, height: height}
}

// Size returns the output frame size.
func (e *TensorExtractor) Size() (int, int) { return e.width, e.height }

// Extract resizes frame with nearest-neighbour sampling, scales to [0,1], normalises each
// channel and lays the result out channel-first.
func (e *TensorExtractor) Extract(frame image.Image) ([]float32, error) {
	if frame == nil {
		return nil, ErrEmptyFrame
	}
	bounds := frame.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyFrame, srcW, srcH)
	}

	plane := e.width * e.height
	tensor := make([]float32, 3*plane)
	for y := 0; y < e.height; y++ {
		sy := bounds.Min.Y + y*srcH/e.height
		for x := 0; x < e.width; x++ {
			sx := bounds.Min.X + x*srcW/e.width
			r, g, b, _ := frame.At(sx, sy).RGBA()
			offset := y*e.width + x
			tensor[offset] = normalise(r, 0)
			tensor[plane+offset] = normalise(g, 1)
			tensor[2*plane+offset] = normalise(b, 2)
		}
	}
	return tensor, nil
}

func normalise(v uint32, channel int) float32 {
	scaled := float32(v>>8) / 255.0
	return (scaled - imageNetMean[channel]) / imageNetStd[channel]
}
