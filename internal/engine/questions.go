package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Question is one questionnaire item.
type Question struct {
	Text    string   `yaml:"text"`
	Options []string `yaml:"options"`
}

// QuestionBankFile is the YAML root structure.
type QuestionBankFile struct {
	Questions []Question `yaml:"questions"`
}

// QuestionBank resolves 1-based question indexes to question text.
type QuestionBank struct {
	questions []Question
}

// DefaultOptions are the answers offered for every built-in question.
var DefaultOptions = []string{"Yes", "No"}

// defaultQuestions is the built-in PHQ-style screener.
var defaultQuestions = []string{
	"Over the last 2 weeks, have you often been bothered by feeling down, depressed, or hopeless?",
	"Over the last 2 weeks, have you often been bothered by little interest or pleasure in doing things?",
	"Over the last 2 weeks, have you often been bothered by feeling nervous, anxious, or on edge?",
	"Over the last 2 weeks, have you often been bothered by not being able to stop or control worrying?",
	"Over the last 2 weeks, have you often been bothered by having trouble relaxing?",
}

// DefaultQuestionBank returns the built-in screener.
func DefaultQuestionBank() *QuestionBank {
	qs := make([]Question, 0, len(defaultQuestions))
	for _, text := range defaultQuestions {
		qs = append(qs, Question{Text: text, Options: append([]string(nil), DefaultOptions...)})
	}
	return &QuestionBank{questions: qs}
}

// NewQuestionBank builds a bank from questions; items without options get DefaultOptions.
func NewQuestionBank(questions []Question) *QuestionBank {
	qs := make([]Question, 0, len(questions))
	for _, q := range questions {
		if len(q.Options) == 0 {
			q.Options = append([]string(nil), DefaultOptions...)
		}
		qs = append(qs, q)
	}
	return &QuestionBank{questions: qs}
}

// LoadQuestionBank reads a YAML question bank. An empty path or a missing file yields the
// built-in bank.
func LoadQuestionBank(path string, logger *slog.Logger) (*QuestionBank, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return DefaultQuestionBank(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("question bank not found; using built-in questions", slog.String("path", path))
			return DefaultQuestionBank(), nil
		}
		return nil, err
	}
	var file QuestionBankFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse question bank %s: %w", path, err)
	}
	for i, q := range file.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question bank %s: question %d has no text", path, i+1)
		}
	}
	if len(file.Questions) == 0 {
		return nil, fmt.Errorf("question bank %s has no questions", path)
	}
	return NewQuestionBank(file.Questions), nil
}

// Len returns the number of questions.
func (b *QuestionBank) Len() int {
	if b == nil {
		return 0
	}
	return len(b.questions)
}

// Question returns the 1-based question.
func (b *QuestionBank) Question(index int) (Question, bool) {
	if b == nil || index < 1 || index > len(b.questions) {
		return Question{}, false
	}
	return b.questions[index-1], true
}

// Text implements QuestionLookup.
func (b *QuestionBank) Text(index int) (string, bool) {
	q, ok := b.Question(index)
	return q.Text, ok
}

// ScreenResult is the outcome of the yes/no screener.
type ScreenResult struct {
	YesCount int
	Positive bool
	Message  string
}

const (
	screenPositiveMessage = "Based on your responses, it might be helpful to talk to someone about how you're feeling. " +
		"Remember, support is available, and speaking with a qualified healthcare professional can provide guidance."
	screenNegativeMessage = "Thank you for taking the time for this check-in. Remember to prioritize your well-being. " +
		"If you ever feel overwhelmed or have concerns, reaching out to a healthcare professional is a positive step."
)

// Screen scores final answers keyed by 1-based index. Two or more "Yes" answers are positive.
func Screen(answers map[int]string) ScreenResult {
	yes := 0
	for _, a := range answers {
		if strings.EqualFold(a, "yes") {
			yes++
		}
	}
	res := ScreenResult{YesCount: yes, Positive: yes >= 2}
	if res.Positive {
		res.Message = screenPositiveMessage
	} else {
		res.Message = screenNegativeMessage
	}
	return res
}
