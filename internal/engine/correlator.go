// Package engine reconstructs per-question timelines from a finished session's logs.
package engine

import (
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-affect/internal/models"
)

// QuestionLookup resolves question text for a 1-based index. *QuestionBank satisfies it.
type QuestionLookup interface {
	Text(index int) (string, bool)
}

// UnknownQuestion is used when the lookup has no text for an index.
const UnknownQuestion = "Unknown Question"

// Correlator maps classifications and answers onto question intervals. It holds no session
// state and may be shared.
type Correlator struct {
	logger *slog.Logger
}

// NewCorrelator creates a correlator. A nil logger uses slog.Default().
func NewCorrelator(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{logger: logger}
}

type timeline struct {
	order     []int
	summaries map[int]*models.QuestionSummary
	intervals []models.Interval
}

// Correlate builds the per-question report. It never fails: events that fit no interval are
// counted as dropped. ReportID, SessionID and GeneratedAt are left for the caller.
func (c *Correlator) Correlate(survey []models.Event, predictions []models.Classification, questions QuestionLookup) models.Report {
	tl := c.buildTimeline(survey)

	var report models.Report
	for _, ev := range survey {
		if ev.Kind != models.KindOptionSelected {
			continue
		}
		iv, ok := tl.find(ev.Timestamp)
		if !ok {
			report.DroppedAnswers++
			continue
		}
		option, ok := ev.SelectedOption()
		if !ok {
			option = models.MissingAnswer
		}
		s := tl.summaries[iv.QuestionIndex]
		s.Answers = append(s.Answers, option)
	}

	sorted := append([]models.Classification(nil), predictions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	for _, p := range sorted {
		iv, ok := tl.find(p.Timestamp)
		if !ok {
			report.DroppedClassifications++
			continue
		}
		s := tl.summaries[iv.QuestionIndex]
		s.Emotions = append(s.Emotions, models.EmotionSample{
			Timestamp:  p.Timestamp,
			Label:      p.Label,
			Confidence: p.Confidence,
		})
	}

	report.Questions = make([]models.QuestionSummary, 0, len(tl.order))
	for _, idx := range tl.order {
		s := tl.summaries[idx]
		s.QuestionText = UnknownQuestion
		if questions != nil {
			if text, ok := questions.Text(idx); ok {
				s.QuestionText = text
			}
		}
		for _, iv := range s.SubIntervals {
			s.TotalDuration += iv.Duration()
		}
		report.Questions = append(report.Questions, *s)
	}

	if report.DroppedClassifications > 0 || report.DroppedAnswers > 0 {
		c.logger.Debug("events outside question intervals",
			slog.Int("classifications", report.DroppedClassifications),
			slog.Int("answers", report.DroppedAnswers))
	}
	return report
}

// buildTimeline scans the survey log in order and cuts it into half-open question intervals.
func (c *Correlator) buildTimeline(survey []models.Event) *timeline {
	tl := &timeline{summaries: make(map[int]*models.QuestionSummary)}

	var (
		open    models.Interval
		hasOpen bool
		last    time.Time
	)
	closeOpen := func(at time.Time) {
		if !hasOpen {
			return
		}
		open.End = at
		tl.intervals = append(tl.intervals, open)
		s := tl.summaries[open.QuestionIndex]
		s.SubIntervals = append(s.SubIntervals, open)
		hasOpen = false
	}

	for _, ev := range survey {
		last = ev.Timestamp
		switch ev.Kind {
		case models.KindQuestionDisplayed:
			idx, ok := ev.QuestionIndex()
			if !ok || idx < 1 {
				c.logger.Debug("ignoring question boundary without a valid index",
					slog.Time("timestamp", ev.Timestamp))
				continue
			}
			closeOpen(ev.Timestamp)
			if _, seen := tl.summaries[idx]; !seen {
				tl.summaries[idx] = &models.QuestionSummary{QuestionIndex: idx}
				tl.order = append(tl.order, idx)
			}
			open = models.Interval{QuestionIndex: idx, Start: ev.Timestamp}
			hasOpen = true
		case models.KindSurveySubmitted:
			closeOpen(ev.Timestamp)
		}
	}
	closeOpen(last)
	return tl
}

// find returns the first recorded interval containing ts.
func (tl *timeline) find(ts time.Time) (models.Interval, bool) {
	for _, iv := range tl.intervals {
		if iv.Contains(ts) {
			return iv, true
		}
	}
	return models.Interval{}, false
}
