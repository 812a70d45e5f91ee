package camera

import (
	"context"
	"image"
	"image/color"
)

// PatternOpener produces synthetic gradient frames. Useful for dry runs without hardware.
type PatternOpener struct {
	Width  int
	Height int
}

// Open implements Opener. Any non-negative index succeeds.
func (o PatternOpener) Open(ctx context.Context, index int) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 {
		return nil, ErrDeviceUnavailable
	}
	w, h := o.Width, o.Height
	if w <= 0 || h <= 0 {
		w, h = 64, 48
	}
	return &patternDevice{width: w, height: h}, nil
}

type patternDevice struct {
	width  int
	height int
	frame  int
}

func (d *patternDevice) Read(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	shift := uint8(d.frame * 8)
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x*255/d.width) + shift,
				G: uint8(y*255/d.height) + shift,
				B: shift,
				A: 255,
			})
		}
	}
	d.frame++
	return img, nil
}

func (d *patternDevice) Close() error { return nil }
