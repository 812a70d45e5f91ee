package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-affect/internal/camera"
	"github.com/miradorstack/mirador-affect/internal/capture"
	"github.com/miradorstack/mirador-affect/internal/classifier"
	"github.com/miradorstack/mirador-affect/internal/eventlog"
	"github.com/miradorstack/mirador-affect/internal/extractors"
	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

// Detail key explaining a capture_unavailable event.
const detailReason = "reason"

// SessionConfig describes one questionnaire session.
type SessionConfig struct {
	LogDir    string
	SessionID string
	Capture   capture.Options
}

// Session owns both event logs and the capture pipeline of one run. The survey recorder is for
// the UI goroutine; the pipeline writes classifications on its own goroutine.
type Session struct {
	logger      *slog.Logger
	id          string
	survey      *eventlog.Log[eventlog.SurveyRecord]
	predictions *eventlog.Log[eventlog.PredictionRecord]
	recorder    *eventlog.SurveyRecorder
	pipeline    *capture.Pipeline
	predictor   capture.Predictor
	reports     *ReportService

	mu        sync.Mutex
	started   bool
	closed    bool
	stopWatch chan struct{}
	watchDone chan struct{}
}

// NewSession opens both session logs under a shared session id and wires the capture pipeline
// to the classification log.
func NewSession(logger *slog.Logger, cfg SessionConfig, opener camera.Opener, predictor capture.Predictor, extractor capture.Extractor, reports *ReportService) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if reports == nil {
		reports = NewReportService(logger, nil, nil, nil)
	}
	if predictor == nil {
		predictor = classifier.Unavailable(nil)
	}
	if extractor == nil {
		extractor = extractors.NewTensorExtractor(0, 0)
	}
	id := cfg.SessionID
	if id == "" {
		id = utils.SessionID(time.Now())
	}
	logger = logger.With(slog.String("session_id", id))

	survey, err := eventlog.Open[eventlog.SurveyRecord](cfg.LogDir, eventlog.KindSurvey, id, logger)
	if err != nil {
		return nil, err
	}
	predictions, err := eventlog.Open[eventlog.PredictionRecord](cfg.LogDir, eventlog.KindPrediction, id, logger)
	if err != nil {
		_ = survey.Close()
		return nil, err
	}

	sink := eventlog.NewClassificationRecorder(predictions, nil)
	return &Session{
		logger:      logger,
		id:          id,
		survey:      survey,
		predictions: predictions,
		recorder:    eventlog.NewSurveyRecorder(survey, nil),
		pipeline:    capture.NewPipeline(logger, opener, predictor, extractor, sink, cfg.Capture),
		predictor:   predictor,
		reports:     reports,
		stopWatch:   make(chan struct{}),
		watchDone:   make(chan struct{}),
	}, nil
}

// ID returns the session identifier shared by both logs.
func (s *Session) ID() string { return s.id }

// Recorder returns the survey event recorder for the questionnaire.
func (s *Session) Recorder() *eventlog.SurveyRecorder { return s.recorder }

// SurveyPath returns the survey log location.
func (s *Session) SurveyPath() string { return s.survey.Path() }

// PredictionPath returns the classification log location.
func (s *Session) PredictionPath() string { return s.predictions.Path() }

// CaptureStats exposes the capture loop counters.
func (s *Session) CaptureStats() capture.Stats { return s.pipeline.Stats() }

// Start records app_init and launches capture. A capture problem is recorded in the survey log
// and never stops the questionnaire.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return eventlog.ErrClosed
	}
	if s.started {
		return capture.ErrAlreadyRunning
	}
	s.started = true

	s.record(models.ActionPassive, models.KindAppInit, nil)
	if !s.predictor.Available() {
		s.record(models.ActionPassive, models.KindCaptureUnavailable, map[string]any{detailReason: "classifier unavailable"})
	}

	if err := s.pipeline.Start(ctx); err != nil {
		close(s.watchDone)
		return err
	}
	go s.watch(s.pipeline.Done())
	return nil
}

func (s *Session) watch(done <-chan struct{}) {
	defer close(s.watchDone)
	select {
	case <-done:
	case <-s.stopWatch:
		// a run that failed just before Close still gets its event
		select {
		case <-done:
		default:
			return
		}
	}
	if err := s.pipeline.Err(); err != nil {
		s.record(models.ActionPassive, models.KindCaptureUnavailable, map[string]any{detailReason: err.Error()})
	}
}

// Close stops capture within the pipeline's grace period, records application_closed and seals
// both logs. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	s.mu.Unlock()

	if started {
		err := s.pipeline.Stop()
		switch {
		case err == nil, errors.Is(err, capture.ErrNotRunning):
		case utils.KindOf(err) == utils.KindTimeout:
			s.logger.Warn("capture still running after close, camera may remain held", slog.Any("error", err))
		default:
			s.logger.Warn("capture did not stop cleanly", slog.Any("error", err))
		}
		close(s.stopWatch)
		<-s.watchDone
		if err := s.predictions.Flush(); err != nil {
			s.logger.Warn("classification log not flushed", slog.Any("error", err))
		}
	}

	s.record(models.ActionPassive, models.KindApplicationClosed, nil)
	return errors.Join(s.survey.Close(), s.predictions.Close())
}

// Report correlates what the session has logged so far. It is meant to run after Close.
func (s *Session) Report(ctx context.Context) (models.Report, error) {
	survey, _ := eventlog.SurveyEvents(s.survey.ReadAll())
	predictions, _ := eventlog.Classifications(s.predictions.ReadAll())
	return s.reports.Generate(ctx, models.CorrelateRequest{
		SessionID:   s.id,
		Survey:      survey,
		Predictions: predictions,
	})
}

func (s *Session) record(action models.ActionType, kind models.EventKind, details map[string]any) {
	if err := s.recorder.Record(action, kind, details); err != nil {
		s.logger.Warn("survey event not recorded", slog.String("event", string(kind)), slog.Any("error", err))
	}
}
