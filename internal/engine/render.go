package engine

import (
	"fmt"
	"strings"

	"github.com/miradorstack/mirador-affect/internal/models"
)

const reportHeading = "Based on the survey log and prediction log, here is the summary of the survey responses:"

// RenderText formats a report as plain text, one block per question.
func RenderText(report models.Report) string {
	blocks := make([]string, 0, len(report.Questions)+1)
	blocks = append(blocks, reportHeading)

	for _, q := range report.Questions {
		answers := "No answers"
		if len(q.Answers) > 0 {
			answers = strings.Join(q.Answers, ", ")
		}

		emotions := "No emotions detected"
		if len(q.Emotions) > 0 {
			parts := make([]string, 0, len(q.Emotions))
			for _, e := range q.Emotions {
				parts = append(parts, fmt.Sprintf("%s (%.4f)", e.Label, e.Confidence))
			}
			emotions = strings.Join(parts, ", ")
		}

		text := q.QuestionText
		if text == "" {
			text = UnknownQuestion
		}

		var b strings.Builder
		fmt.Fprintf(&b, "No %d\n", q.QuestionIndex)
		fmt.Fprintf(&b, "Question : %s\n", text)
		fmt.Fprintf(&b, "Duration : %.4f seconds\n", q.TotalDuration.Seconds())
		fmt.Fprintf(&b, "Attempted Answers : %s\n", answers)
		fmt.Fprintf(&b, "Detected Emotions : %s", emotions)
		if dominant, ok := DominantEmotion(q); ok {
			fmt.Fprintf(&b, "\nDominant Emotion : %s", dominant)
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

// DominantEmotion returns the most frequent label; ties go to the label seen first.
func DominantEmotion(q models.QuestionSummary) (string, bool) {
	if len(q.Emotions) == 0 {
		return "", false
	}
	counts := make(map[string]int, len(q.Emotions))
	var order []string
	for _, e := range q.Emotions {
		if counts[e.Label] == 0 {
			order = append(order, e.Label)
		}
		counts[e.Label]++
	}
	best := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best, true
}
