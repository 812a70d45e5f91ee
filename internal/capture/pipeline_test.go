package capture

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-affect/internal/camera"
	"github.com/miradorstack/mirador-affect/internal/classifier"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

type fakeDevice struct {
	reads  atomic.Int64
	closed atomic.Bool
	read   func(ctx context.Context, n int64) (image.Image, error)
}

func (d *fakeDevice) Read(ctx context.Context) (image.Image, error) {
	n := d.reads.Add(1)
	if d.read != nil {
		return d.read(ctx, n)
	}
	return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
}

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

func openerFor(dev camera.Device) camera.Opener {
	return camera.OpenerFunc(func(ctx context.Context, index int) (camera.Device, error) {
		return dev, nil
	})
}

type fakePredictor struct {
	available bool
	fail      func(n int64) bool
	calls     atomic.Int64
}

func (p *fakePredictor) Available() bool { return p.available }

func (p *fakePredictor) Predict(ctx context.Context, input []float32) (classifier.Result, error) {
	n := p.calls.Add(1)
	if p.fail != nil && p.fail(n) {
		return classifier.Result{}, classifier.ErrInference
	}
	return classifier.Result{Label: "joy", Confidence: 0.9, ClassIndex: 5}, nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(frame image.Image) ([]float32, error) {
	if frame == nil {
		return nil, errors.New("nil frame")
	}
	return []float32{1, 2, 3}, nil
}

type memorySink struct {
	mu      sync.Mutex
	records []models.Classification
}

func (s *memorySink) Record(c models.Classification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, c)
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{
		SampleInterval: 10 * time.Millisecond,
		PollSlice:      2 * time.Millisecond,
		StopGrace:      500 * time.Millisecond,
		OpenTimeout:    200 * time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestPipelineRecordsClassifications(t *testing.T) {
	dev := &fakeDevice{}
	sink := &memorySink{}
	p := NewPipeline(quietLogger(), openerFor(dev), &fakePredictor{available: true}, fakeExtractor{}, sink, fastOptions())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if p.State() != StateRunning {
		t.Fatalf("expected running, got %s", p.State())
	}
	waitFor(t, func() bool { return sink.Len() >= 3 })

	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", p.State())
	}
	if !dev.closed.Load() {
		t.Fatalf("expected camera to be released")
	}
	if p.Err() != nil {
		t.Fatalf("expected clean run, got %v", p.Err())
	}

	stats := p.Stats()
	if stats.Classified < 3 || stats.Classified != int64(sink.Len()) {
		t.Fatalf("unexpected stats %+v for %d records", stats, sink.Len())
	}
	sink.mu.Lock()
	first := sink.records[0]
	sink.mu.Unlock()
	if first.Label != "joy" || first.ClassIndex != 5 || first.Timestamp.IsZero() {
		t.Fatalf("unexpected classification %+v", first)
	}
}

func TestStopReturnsWithinOnePollSlice(t *testing.T) {
	dev := &fakeDevice{}
	sink := &memorySink{}
	opts := Options{
		SampleInterval: 10 * time.Second,
		PollSlice:      50 * time.Millisecond,
		StopGrace:      2500 * time.Millisecond,
	}
	p := NewPipeline(quietLogger(), openerFor(dev), &fakePredictor{available: true}, fakeExtractor{}, sink, opts)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return sink.Len() == 1 })

	start := time.Now()
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > opts.StopGrace {
		t.Fatalf("stop took %s, longer than grace %s", elapsed, opts.StopGrace)
	}
	if !dev.closed.Load() {
		t.Fatalf("expected camera to be released")
	}
	select {
	case <-p.Done():
	default:
		t.Fatalf("expected done channel to be closed after stop")
	}
}

func TestCameraOpenFailureEndsRun(t *testing.T) {
	opener := camera.OpenerFunc(func(ctx context.Context, index int) (camera.Device, error) {
		return nil, camera.ErrDeviceUnavailable
	})
	sink := &memorySink{}
	p := NewPipeline(quietLogger(), opener, &fakePredictor{available: true}, fakeExtractor{}, sink, fastOptions())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-p.Done()

	if p.State() != StateIdle {
		t.Fatalf("expected idle after open failure, got %s", p.State())
	}
	if !errors.Is(p.Err(), camera.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable error, got %v", p.Err())
	}
	if err := p.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if sink.Len() != 0 {
		t.Fatalf("expected no classifications, got %d", sink.Len())
	}
}

func TestCameraOpenTimeout(t *testing.T) {
	opener := camera.OpenerFunc(func(ctx context.Context, index int) (camera.Device, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	opts := fastOptions()
	opts.OpenTimeout = 20 * time.Millisecond
	p := NewPipeline(quietLogger(), opener, &fakePredictor{available: true}, fakeExtractor{}, &memorySink{}, opts)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatalf("open timeout was not enforced")
	}
	if !errors.Is(p.Err(), camera.ErrDeviceUnavailable) {
		t.Fatalf("expected device unavailable error, got %v", p.Err())
	}
}

func TestTransientFailuresDoNotStopTheLoop(t *testing.T) {
	dev := &fakeDevice{read: func(ctx context.Context, n int64) (image.Image, error) {
		if n%2 == 0 {
			return nil, errors.New("dropped frame")
		}
		return image.NewRGBA(image.Rect(0, 0, 2, 2)), nil
	}}
	predictor := &fakePredictor{available: true, fail: func(n int64) bool { return n%3 == 0 }}
	sink := &memorySink{}
	p := NewPipeline(quietLogger(), openerFor(dev), predictor, fakeExtractor{}, sink, fastOptions())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		s := p.Stats()
		return s.Classified >= 3 && s.FrameFailures >= 1 && s.InferenceFailures >= 1
	})
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Err() != nil {
		t.Fatalf("transient failures must not end the run: %v", p.Err())
	}
}

func TestUnavailableClassifierSkipsSamples(t *testing.T) {
	dev := &fakeDevice{}
	sink := &memorySink{}
	p := NewPipeline(quietLogger(), openerFor(dev), &fakePredictor{}, fakeExtractor{}, sink, fastOptions())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return p.Stats().Skipped >= 2 })
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if sink.Len() != 0 {
		t.Fatalf("expected no classifications without a model, got %d", sink.Len())
	}
}

func TestLifecycleErrors(t *testing.T) {
	p := NewPipeline(quietLogger(), openerFor(&fakeDevice{}), &fakePredictor{available: true}, fakeExtractor{}, &memorySink{}, fastOptions())

	if err := p.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning before start, got %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := p.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopTimeoutWhenReadBlocks(t *testing.T) {
	release := make(chan struct{})
	dev := &fakeDevice{read: func(ctx context.Context, n int64) (image.Image, error) {
		<-release
		return nil, errors.New("released")
	}}
	opts := fastOptions()
	opts.StopGrace = 30 * time.Millisecond
	p := NewPipeline(quietLogger(), openerFor(dev), &fakePredictor{available: true}, fakeExtractor{}, &memorySink{}, opts)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return dev.reads.Load() == 1 })

	err := p.Stop()
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	if kind := utils.KindOf(err); kind != utils.KindTimeout {
		t.Fatalf("expected timeout kind, got %q", kind)
	}
	if p.State() != StateStopping {
		t.Fatalf("expected stopping while read blocks, got %s", p.State())
	}

	close(release)
	<-p.Done()
	if !dev.closed.Load() {
		t.Fatalf("expected camera to be released once the loop exits")
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle after late exit, got %s", p.State())
	}
}

func TestPanicInLoopReleasesCamera(t *testing.T) {
	dev := &fakeDevice{read: func(ctx context.Context, n int64) (image.Image, error) {
		panic("driver fault")
	}}
	p := NewPipeline(quietLogger(), openerFor(dev), &fakePredictor{available: true}, fakeExtractor{}, &memorySink{}, fastOptions())

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-p.Done()
	if !dev.closed.Load() {
		t.Fatalf("expected camera to be released after panic")
	}
	if p.Err() == nil {
		t.Fatalf("expected panic to be reported through Err")
	}
	if p.State() != StateIdle {
		t.Fatalf("expected idle after panic, got %s", p.State())
	}
}
