package extractors

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestTensorExtractorLayoutAndNormalisation(t *testing.T) {
	extractor := NewTensorExtractor(4, 2)
	tensor, err := extractor.Extract(solid(16, 9, color.RGBA{R: 255, G: 0, B: 128, A: 255}))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(tensor) != 3*4*2 {
		t.Fatalf("expected %d values, got %d", 3*4*2, len(tensor))
	}

	wantR := (1.0 - 0.485) / 0.229
	wantG := (0.0 - 0.456) / 0.224
	wantB := (128.0/255.0 - 0.406) / 0.225
	plane := 8
	for i := 0; i < plane; i++ {
		if math.Abs(float64(tensor[i])-wantR) > 1e-4 {
			t.Fatalf("red plane[%d]=%f, want %f", i, tensor[i], wantR)
		}
		if math.Abs(float64(tensor[plane+i])-wantG) > 1e-4 {
			t.Fatalf("green plane[%d]=%f, want %f", i, tensor[plane+i], wantG)
		}
		if math.Abs(float64(tensor[2*plane+i])-wantB) > 1e-4 {
			t.Fatalf("blue plane[%d]=%f, want %f", i, tensor[2*plane+i], wantB)
		}
	}
}

func TestTensorExtractorSamplesNearestPixel(t *testing.T) {
	img := image.NewRGBA(image.Rect(10, 10, 12, 11))
	img.Set(10, 10, color.RGBA{A: 255})
	img.Set(11, 10, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	tensor, err := NewTensorExtractor(2, 1).Extract(img)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if tensor[0] >= tensor[1] {
		t.Fatalf("expected left pixel darker than right pixel, got %f vs %f", tensor[0], tensor[1])
	}
}

func TestTensorExtractorRejectsEmptyFrames(t *testing.T) {
	extractor := NewTensorExtractor(0, 0)
	if w, h := extractor.Size(); w != 224 || h != 224 {
		t.Fatalf("expected default size 224x224, got %dx%d", w, h)
	}
	if _, err := extractor.Extract(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame for nil frame, got %v", err)
	}
	if _, err := extractor.Extract(image.NewRGBA(image.Rect(0, 0, 0, 0))); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame for zero-area frame, got %v", err)
	}
}
