// Package capture runs the background loop that samples the camera, classifies each frame and
// appends the result to the classification log.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-affect/internal/camera"
	"github.com/miradorstack/mirador-affect/internal/classifier"
	"github.com/miradorstack/mirador-affect/internal/metrics"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

var (
	// ErrAlreadyRunning is returned by Start outside the Idle state.
	ErrAlreadyRunning = errors.New("capture already running")
	// ErrNotRunning is returned by Stop outside the Running state.
	ErrNotRunning = errors.New("capture not running")
	// ErrStopTimeout means the loop did not exit within the grace period. The camera may
	// still be held.
	ErrStopTimeout = errors.New("capture stop timed out")
)

// State is the pipeline lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Predictor classifies a preprocessed tensor. *classifier.Adapter satisfies it.
type Predictor interface {
	Available() bool
	Predict(ctx context.Context, input []float32) (classifier.Result, error)
}

// Extractor turns a frame into model input.
type Extractor interface {
	Extract(frame image.Image) ([]float32, error)
}

// Sink receives successful classifications.
type Sink interface {
	Record(c models.Classification) error
}

// Options tunes the loop. Zero values take the defaults.
type Options struct {
	DeviceIndex    int
	SampleInterval time.Duration
	PollSlice      time.Duration
	StopGrace      time.Duration
	OpenTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SampleInterval <= 0 {
		o.SampleInterval = time.Second
	}
	if o.PollSlice <= 0 {
		o.PollSlice = 100 * time.Millisecond
	}
	if o.PollSlice > o.SampleInterval {
		o.PollSlice = o.SampleInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2500 * time.Millisecond
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 5 * time.Second
	}
	return o
}

// Stats is a snapshot of loop counters.
type Stats struct {
	Samples           int64
	Classified        int64
	FrameFailures     int64
	InferenceFailures int64
	SinkFailures      int64
	Skipped           int64
	InferenceP95      time.Duration
}

// Pipeline owns the capture goroutine. All methods are safe for concurrent use.
type Pipeline struct {
	logger    *slog.Logger
	opener    camera.Opener
	predictor Predictor
	extractor Extractor
	sink      Sink
	opts      Options
	now       func() time.Time

	latency *utils.LatencyTracker
	warn    *rate.Limiter

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	runErr error

	samples           atomic.Int64
	classified        atomic.Int64
	frameFailures     atomic.Int64
	inferenceFailures atomic.Int64
	sinkFailures      atomic.Int64
	skipped           atomic.Int64
}

// NewPipeline wires the loop collaborators. A nil logger uses slog.Default().
func NewPipeline(logger *slog.Logger, opener camera.Opener, predictor Predictor, extractor Extractor, sink Sink, opts Options) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Pipeline{
		logger:    logger,
		opener:    opener,
		predictor: predictor,
		extractor: extractor,
		sink:      sink,
		opts:      opts.withDefaults(),
		now:       time.Now,
		latency:   utils.NewLatencyTracker(256),
		warn:      rate.NewLimiter(rate.Every(5*time.Second), 3),
		done:      done,
	}
}

// Start spawns the capture goroutine. It returns immediately; camera open happens inside the
// loop and its failure ends the run without a retry.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.state = StateRunning
	p.cancel = cancel
	p.done = done
	p.runErr = nil

	go p.run(runCtx, done)
	return nil
}

// Stop cancels the loop and waits up to the grace period for it to exit.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrNotRunning
	}
	p.state = StateStopping
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()

	timer := time.NewTimer(p.opts.StopGrace)
	defer timer.Stop()
	select {
	case <-done:
		metrics.ObserveStop(metrics.OutcomeSuccess)
		return nil
	case <-timer.C:
		metrics.ObserveStop(metrics.OutcomeTimeout)
		p.logger.Warn("capture loop did not exit within grace period; camera may still be held",
			slog.Duration("grace", p.opts.StopGrace))
		return utils.NewAppError("capture.stop", utils.KindTimeout, "loop still running after grace period", ErrStopTimeout)
	}
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed when the current (or last) run exits.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err returns why the last run ended early, nil after a clean stop.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

// Stats returns the loop counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Samples:           p.samples.Load(),
		Classified:        p.classified.Load(),
		FrameFailures:     p.frameFailures.Load(),
		InferenceFailures: p.inferenceFailures.Load(),
		SinkFailures:      p.sinkFailures.Load(),
		Skipped:           p.skipped.Load(),
		InferenceP95:      p.latency.Percentile(95),
	}
}

func (p *Pipeline) run(ctx context.Context, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("capture loop panicked", slog.Any("panic", r))
			p.setErr(fmt.Errorf("capture loop panic: %v", r))
		}
		p.mu.Lock()
		p.state = StateIdle
		p.cancel = nil
		p.mu.Unlock()
		close(done)
	}()

	dev, err := p.openDevice(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, camera.ErrDeviceUnavailable) {
			return
		}
		metrics.ObserveCaptureRun(metrics.OutcomeError)
		p.logger.Error("camera unavailable; capture disabled for this session",
			slog.Int("device", p.opts.DeviceIndex),
			slog.String("error", err.Error()))
		p.setErr(err)
		return
	}
	metrics.ObserveCaptureRun(metrics.OutcomeSuccess)
	defer func() {
		if err := dev.Close(); err != nil {
			p.logger.Warn("camera close failed", slog.String("error", err.Error()))
		}
	}()

	if !p.predictor.Available() {
		p.logger.Info("classifier unavailable; frames will be sampled but not classified")
	}
	p.logger.Debug("capture loop started",
		slog.Int("device", p.opts.DeviceIndex),
		slog.Duration("interval", p.opts.SampleInterval))

	for ctx.Err() == nil {
		p.sample(ctx, dev)
		if !p.sleep(ctx) {
			break
		}
	}
	p.logger.Debug("capture loop stopped", slog.Int64("samples", p.samples.Load()))
}

func (p *Pipeline) openDevice(ctx context.Context) (camera.Device, error) {
	openCtx, cancel := context.WithTimeout(ctx, p.opts.OpenTimeout)
	defer cancel()

	type result struct {
		dev camera.Device
		err error
	}
	ch := make(chan result, 1)
	go func() {
		dev, err := p.opener.Open(openCtx, p.opts.DeviceIndex)
		ch <- result{dev: dev, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.dev == nil {
			return nil, camera.ErrDeviceUnavailable
		}
		return r.dev, nil
	case <-openCtx.Done():
		go func() {
			if r := <-ch; r.dev != nil {
				_ = r.dev.Close()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: open timed out after %s", camera.ErrDeviceUnavailable, p.opts.OpenTimeout)
	}
}

func (p *Pipeline) sample(ctx context.Context, dev camera.Device) {
	p.samples.Add(1)

	frame, err := dev.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := p.frameFailures.Add(1)
		metrics.ObserveSample(metrics.SampleFrameFailed)
		p.warnf("frame read failed", err, n)
		return
	}

	if !p.predictor.Available() {
		p.skipped.Add(1)
		metrics.ObserveSample(metrics.SampleSkipped)
		return
	}

	tensor, err := p.extractor.Extract(frame)
	if err != nil {
		n := p.frameFailures.Add(1)
		metrics.ObserveSample(metrics.SampleFrameFailed)
		p.warnf("frame preprocessing failed", err, n)
		return
	}

	start := time.Now()
	res, err := p.predictor.Predict(ctx, tensor)
	elapsed := time.Since(start)
	p.latency.Observe(elapsed)
	metrics.ObserveInference(elapsed)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		n := p.inferenceFailures.Add(1)
		metrics.ObserveSample(metrics.SampleInferenceFailed)
		p.warnf("inference failed", err, n)
		return
	}

	c := models.Classification{
		Timestamp:  utils.TruncateMillis(p.now()),
		Label:      res.Label,
		Confidence: res.Confidence,
		ClassIndex: res.ClassIndex,
	}
	if err := p.sink.Record(c); err != nil {
		n := p.sinkFailures.Add(1)
		metrics.ObserveSample(metrics.SampleSinkFailed)
		p.warnf("classification append failed", err, n)
		return
	}
	p.classified.Add(1)
	metrics.ObserveSample(metrics.SampleClassified)
}

// sleep waits one sampling interval in poll slices and reports whether the loop should go on.
func (p *Pipeline) sleep(ctx context.Context) bool {
	remaining := p.opts.SampleInterval
	for remaining > 0 {
		slice := p.opts.PollSlice
		if slice > remaining {
			slice = remaining
		}
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		remaining -= slice
	}
	return ctx.Err() == nil
}

func (p *Pipeline) warnf(msg string, err error, failures int64) {
	if !p.warn.Allow() {
		return
	}
	p.logger.Warn(msg, slog.String("error", err.Error()), slog.Int64("failures", failures))
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	p.runErr = err
	p.mu.Unlock()
}
