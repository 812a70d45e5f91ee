// Package camera abstracts the video source sampled by the capture loop.
package camera

import (
	"context"
	"errors"
	"image"
)

// ErrDeviceUnavailable is returned when a device is absent or already held by another reader.
var ErrDeviceUnavailable = errors.New("camera device unavailable")

// Device is an open camera. Read and Close are called from a single goroutine.
type Device interface {
	Read(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener acquires a device by index.
type Opener interface {
	Open(ctx context.Context, index int) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, index int) (Device, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, index int) (Device, error) {
	return f(ctx, index)
}
