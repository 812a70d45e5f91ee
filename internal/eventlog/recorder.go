package eventlog

import (
	"time"

	"github.com/miradorstack/mirador-affect/internal/models"
)

// SurveyRecorder writes questionnaire events. It is driven by the UI goroutine only.
type SurveyRecorder struct {
	log *Log[SurveyRecord]
	now func() time.Time
}

// NewSurveyRecorder wraps log; now defaults to time.Now.
func NewSurveyRecorder(log *Log[SurveyRecord], now func() time.Time) *SurveyRecorder {
	return &SurveyRecorder{log: log, now: now}
}

// Record appends an arbitrary survey event stamped with the current time.
func (r *SurveyRecorder) Record(action models.ActionType, kind models.EventKind, details map[string]any) error {
	return r.log.Append(NewSurveyRecord(models.Event{
		Timestamp: stamp(r.now),
		Kind:      kind,
		Action:    action,
		Details:   details,
	}))
}

// DisplayQuestion emits the question-interval boundary for a 1-based question index.
func (r *SurveyRecorder) DisplayQuestion(index int) error {
	return r.Record(models.ActionPassive, models.KindQuestionDisplayed, map[string]any{
		models.DetailQuestionIndex: index,
	})
}

// SelectOption records an answer for the question on screen.
func (r *SurveyRecorder) SelectOption(index int, option string) error {
	return r.Record(models.ActionActive, models.KindOptionSelected, map[string]any{
		models.DetailQuestionIndex:  index,
		models.DetailSelectedOption: option,
	})
}

// Submit records the terminal survey event.
func (r *SurveyRecorder) Submit() error {
	return r.Record(models.ActionPassive, models.KindSurveySubmitted, nil)
}

// Log exposes the underlying log.
func (r *SurveyRecorder) Log() *Log[SurveyRecord] { return r.log }

// ClassificationRecorder writes inference results. It is driven by the capture goroutine only.
type ClassificationRecorder struct {
	log *Log[PredictionRecord]
	now func() time.Time
}

// NewClassificationRecorder wraps log; now defaults to time.Now.
func NewClassificationRecorder(log *Log[PredictionRecord], now func() time.Time) *ClassificationRecorder {
	return &ClassificationRecorder{log: log, now: now}
}

// Record appends c, stamping it with the current time when it carries none.
func (r *ClassificationRecorder) Record(c models.Classification) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = stamp(r.now)
	}
	return r.log.Append(NewPredictionRecord(c))
}

// Log exposes the underlying log.
func (r *ClassificationRecorder) Log() *Log[PredictionRecord] { return r.log }
