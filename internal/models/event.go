package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// EventKind enumerates survey event types.
type EventKind string

const (
	// KindQuestionDisplayed marks the instant a question became visible. It is the
	// question-interval boundary: a new one implicitly closes the previous interval.
	KindQuestionDisplayed EventKind = "question_displayed"
	// KindOptionSelected records an answer for the question on screen.
	KindOptionSelected EventKind = "option_selected"
	// KindSurveySubmitted is the terminal event closing the last interval.
	KindSurveySubmitted EventKind = "survey_submitted"

	KindAppInit            EventKind = "app_init"
	KindNextClicked        EventKind = "next_clicked"
	KindPreviousClicked    EventKind = "previous_clicked"
	KindFinishClicked      EventKind = "finish_clicked"
	KindSurveyCompleted    EventKind = "survey_completed"
	KindApplicationClosed  EventKind = "application_closed"
	KindCaptureUnavailable EventKind = "capture_unavailable"
)

// ActionType distinguishes user-driven events from ones the app emits on its own.
type ActionType string

const (
	ActionActive  ActionType = "active"
	ActionPassive ActionType = "passive"
)

// Detail keys carried by survey events.
const (
	DetailQuestionIndex  = "question_index"
	DetailSelectedOption = "selected_option"
	DetailFromQuestion   = "from_question"
)

// MissingAnswer stands in for an answer event that carries no selected option.
const MissingAnswer = "N/A"

// Event is one immutable survey log entry.
type Event struct {
	Timestamp time.Time
	Kind      EventKind
	Action    ActionType
	Details   map[string]any
}

// QuestionIndex returns the question_index detail when it holds a whole number.
func (e Event) QuestionIndex() (int, bool) {
	return IntDetail(e.Details, DetailQuestionIndex)
}

// SelectedOption returns the selected_option detail as text. Non-string values are printed
// with fmt; ok is false when the detail is absent or null.
func (e Event) SelectedOption() (string, bool) {
	v, ok := e.Details[DetailSelectedOption]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Classification is one inference result taken from the camera feed.
type Classification struct {
	Timestamp  time.Time
	Label      string
	Confidence float64
	ClassIndex int
}

// IntDetail reads an integer detail regardless of how it was decoded.
func IntDetail(details map[string]any, key string) (int, bool) {
	v, ok := details[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}
