package eventlog

import (
	"fmt"
	"math"
	"time"

	"github.com/miradorstack/mirador-affect/internal/models"
	"github.com/miradorstack/mirador-affect/internal/utils"
)

// SurveyRecord is the on-disk shape of one survey log entry.
type SurveyRecord struct {
	Timestamp  string         `json:"timestamp"`
	ActionType string         `json:"action_type"`
	EventType  string         `json:"event_type"`
	Details    map[string]any `json:"details,omitempty"`
}

// PredictionRecord is the on-disk shape of one classification log entry.
type PredictionRecord struct {
	Timestamp      string  `json:"timestamp"`
	PredictedLabel string  `json:"predicted_label"`
	Confidence     float64 `json:"confidence"`
	PredictedIndex int     `json:"predicted_index"`
}

// NewSurveyRecord renders a domain event in the survey log schema.
func NewSurveyRecord(ev models.Event) SurveyRecord {
	rec := SurveyRecord{
		Timestamp:  utils.FormatLogTimestamp(ev.Timestamp),
		ActionType: string(ev.Action),
		EventType:  string(ev.Kind),
	}
	if len(ev.Details) > 0 {
		rec.Details = ev.Details
	}
	return rec
}

// Event parses the record back into a domain event.
func (r SurveyRecord) Event() (models.Event, error) {
	ts, err := utils.ParseLogTimestamp(r.Timestamp)
	if err != nil {
		return models.Event{}, fmt.Errorf("survey event %q: %w", r.EventType, err)
	}
	return models.Event{
		Timestamp: ts,
		Kind:      models.EventKind(r.EventType),
		Action:    models.ActionType(r.ActionType),
		Details:   r.Details,
	}, nil
}

// NewPredictionRecord renders a classification in the prediction log schema.
// Confidence is rounded to four decimals.
func NewPredictionRecord(c models.Classification) PredictionRecord {
	return PredictionRecord{
		Timestamp:      utils.FormatLogTimestamp(c.Timestamp),
		PredictedLabel: c.Label,
		Confidence:     math.Round(c.Confidence*10000) / 10000,
		PredictedIndex: c.ClassIndex,
	}
}

// Classification parses the record back into a domain classification.
func (r PredictionRecord) Classification() (models.Classification, error) {
	ts, err := utils.ParseLogTimestamp(r.Timestamp)
	if err != nil {
		return models.Classification{}, fmt.Errorf("prediction %q: %w", r.PredictedLabel, err)
	}
	return models.Classification{
		Timestamp:  ts,
		Label:      r.PredictedLabel,
		Confidence: r.Confidence,
		ClassIndex: r.PredictedIndex,
	}, nil
}

// SurveyEvents converts records in order, skipping entries whose timestamp cannot be parsed.
// The number of skipped entries is returned alongside.
func SurveyEvents(records []SurveyRecord) ([]models.Event, int) {
	events := make([]models.Event, 0, len(records))
	skipped := 0
	for _, rec := range records {
		ev, err := rec.Event()
		if err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	return events, skipped
}

// Classifications converts records in order, skipping entries whose timestamp cannot be parsed.
func Classifications(records []PredictionRecord) ([]models.Classification, int) {
	out := make([]models.Classification, 0, len(records))
	skipped := 0
	for _, rec := range records {
		c, err := rec.Classification()
		if err != nil {
			skipped++
			continue
		}
		out = append(out, c)
	}
	return out, skipped
}

func stamp(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return utils.TruncateMillis(now())
}
