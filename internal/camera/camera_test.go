package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writeFrame(t *testing.T, dir, name string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("create frame: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func TestDirectoryOpenerMissingDevice(t *testing.T) {
	opener := NewDirectoryOpener(t.TempDir())
	if _, err := opener.Open(context.Background(), 0); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestDirectoryOpenerEmptyDevice(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "video0"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := NewDirectoryOpener(root).Open(context.Background(), 0); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable for empty device, got %v", err)
	}
}

func TestDirectoryDeviceReplaysFramesInOrder(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "video1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFrame(t, dir, "b.png", color.RGBA{G: 255, A: 255})
	writeFrame(t, dir, "a.png", color.RGBA{R: 255, A: 255})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	opener := NewDirectoryOpener(root)
	dev, err := opener.Open(context.Background(), 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	wantRed := []bool{true, false, true}
	for i, red := range wantRed {
		img, err := dev.Read(context.Background())
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		r, g, _, _ := img.At(0, 0).RGBA()
		if (r > g) != red {
			t.Fatalf("frame %d: expected red=%v, got r=%d g=%d", i, red, r, g)
		}
	}

	if _, err := opener.Open(context.Background(), 1); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected busy device to be unavailable, got %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := dev.Read(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected read after close to fail, got %v", err)
	}

	again, err := opener.Open(context.Background(), 1)
	if err != nil {
		t.Fatalf("expected device to be released after close: %v", err)
	}
	_ = again.Close()
}

func TestPatternOpener(t *testing.T) {
	dev, err := PatternOpener{Width: 8, Height: 4}.Open(context.Background(), 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	img, err := dev.Read(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
		t.Fatalf("unexpected frame size %v", b)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled read, got %v", err)
	}
	if _, err := (PatternOpener{}).Open(context.Background(), -1); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected negative index to be unavailable, got %v", err)
	}
}
