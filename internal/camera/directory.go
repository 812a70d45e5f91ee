package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DirectoryOpener serves device N from <Root>/video<N>, a directory of PNG or JPEG frames
// replayed in name order. A device can be held by one reader at a time.
type DirectoryOpener struct {
	Root string

	mu   sync.Mutex
	busy map[int]bool
}

// NewDirectoryOpener creates an opener rooted at root.
func NewDirectoryOpener(root string) *DirectoryOpener {
	return &DirectoryOpener{Root: root}
}

// DevicePath returns the directory backing a device index.
func (o *DirectoryOpener) DevicePath(index int) string {
	return filepath.Join(o.Root, fmt.Sprintf("video%d", index))
}

// Open implements Opener.
func (o *DirectoryOpener) Open(ctx context.Context, index int) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := o.DevicePath(index)
	frames, err := listFrames(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no device at %s", ErrDeviceUnavailable, dir)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", ErrDeviceUnavailable, dir)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy == nil {
		o.busy = make(map[int]bool)
	}
	if o.busy[index] {
		return nil, fmt.Errorf("%w: device %d is busy", ErrDeviceUnavailable, index)
	}
	o.busy[index] = true
	return &directoryDevice{opener: o, index: index, frames: frames}, nil
}

func (o *DirectoryOpener) release(index int) {
	o.mu.Lock()
	delete(o.busy, index)
	o.mu.Unlock()
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}

type directoryDevice struct {
	opener *DirectoryOpener
	index  int
	frames []string
	next   int

	closeOnce sync.Once
	closed    bool
}

func (d *directoryDevice) Read(ctx context.Context) (image.Image, error) {
	if d.closed {
		return nil, fmt.Errorf("%w: device %d closed", ErrDeviceUnavailable, d.index)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := d.frames[d.next]
	d.next = (d.next + 1) % len(d.frames)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read frame %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (d *directoryDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closed = true
		d.opener.release(d.index)
	})
	return nil
}
