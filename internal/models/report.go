package models

import "time"

// Interval is a half-open span [Start, End) during which one question was on screen.
type Interval struct {
	QuestionIndex int       `json:"question_index"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
}

// Contains reports whether ts falls inside the half-open span.
func (i Interval) Contains(ts time.Time) bool {
	return !ts.Before(i.Start) && ts.Before(i.End)
}

// Duration returns the span length, never negative.
func (i Interval) Duration() time.Duration {
	if i.End.Before(i.Start) {
		return 0
	}
	return i.End.Sub(i.Start)
}

// EmotionSample is a (label, confidence) pair attributed to a question.
type EmotionSample struct {
	Timestamp  time.Time `json:"timestamp"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// QuestionSummary aggregates everything observed while one question was active.
type QuestionSummary struct {
	QuestionIndex int             `json:"question_index"`
	QuestionText  string          `json:"question_text"`
	TotalDuration time.Duration   `json:"total_duration_ns"`
	SubIntervals  []Interval      `json:"sub_intervals"`
	Answers       []string        `json:"answers"`
	Emotions      []EmotionSample `json:"emotions"`
}

// Report is the per-question correlation of a finished session.
type Report struct {
	ReportID               string            `json:"report_id,omitempty"`
	SessionID              string            `json:"session_id,omitempty"`
	Questions              []QuestionSummary `json:"questions"`
	DroppedClassifications int               `json:"dropped_classifications"`
	DroppedAnswers         int               `json:"dropped_answers"`
	GeneratedAt            time.Time         `json:"generated_at"`
}

// CorrelateRequest carries both closed logs of one session.
type CorrelateRequest struct {
	SessionID   string
	Survey      []Event
	Predictions []Classification
}

// ReportSummary is the archive listing entry for one stored report.
type ReportSummary struct {
	ReportID      string    `json:"report_id"`
	SessionID     string    `json:"session_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	QuestionCount int       `json:"question_count"`
}
