// Package ui is the terminal questionnaire. Every navigation step is written to the survey log
// through a Recorder so the correlator can rebuild question intervals afterwards.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/miradorstack/mirador-affect/internal/engine"
	"github.com/miradorstack/mirador-affect/internal/models"
)

const (
	noAnswerWarning = "Please select an answer before proceeding."
	disclaimer      = "Important: This is NOT a diagnostic tool. Consult a professional for any mental health concerns."
	resultFootnote  = "Disclaimer: This tool is for illustrative purposes only and is not a substitute for professional medical advice, diagnosis, or treatment."
)

// Recorder receives survey events. *eventlog.SurveyRecorder satisfies it.
type Recorder interface {
	Record(action models.ActionType, kind models.EventKind, details map[string]any) error
	DisplayQuestion(index int) error
	SelectOption(index int, option string) error
	Submit() error
}

type phase int

const (
	phaseAsking phase = iota
	phaseDone
)

// Model is the questionnaire state.
type Model struct {
	bank     *engine.QuestionBank
	recorder Recorder
	logger   *slog.Logger

	current int
	cursor  int
	answers []string
	warning string
	phase   phase
	result  engine.ScreenResult
	aborted bool

	width int
	keys  keyMap
	help  help.Model
}

// New creates the questionnaire and records the first question as displayed.
func New(bank *engine.QuestionBank, recorder Recorder, logger *slog.Logger) Model {
	if bank == nil || bank.Len() == 0 {
		bank = engine.DefaultQuestionBank()
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := Model{
		bank:     bank,
		recorder: recorder,
		logger:   logger,
		answers:  make([]string, bank.Len()),
		keys:     defaultKeyMap(),
		help:     help.New(),
	}
	m.emit(func(r Recorder) error { return r.DisplayQuestion(1) }, models.KindQuestionDisplayed)
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			if m.phase == phaseAsking {
				m.aborted = true
			}
			return m, tea.Quit
		}
		if m.phase == phaseDone {
			return m, tea.Quit
		}
		return m.updateAsking(msg)
	}
	return m, nil
}

func (m Model) updateAsking(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	options := m.options()
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(options)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Select):
		m.choose(options[m.cursor])
	case key.Matches(msg, m.keys.Next):
		return m.next()
	case key.Matches(msg, m.keys.Prev):
		m.previous()
	default:
		// Digits pick an option directly.
		if s := msg.String(); len(s) == 1 && s[0] >= '1' && s[0] <= '9' {
			if i := int(s[0] - '1'); i < len(options) {
				m.cursor = i
				m.choose(options[i])
			}
		}
	}
	return m, nil
}

func (m *Model) choose(option string) {
	m.answers[m.current] = option
	m.warning = ""
	index := m.current + 1
	m.emit(func(r Recorder) error { return r.SelectOption(index, option) }, models.KindOptionSelected)
}

func (m Model) next() (tea.Model, tea.Cmd) {
	if m.answers[m.current] == "" {
		m.warning = noAnswerWarning
		return m, nil
	}
	from := map[string]any{models.DetailFromQuestion: m.current + 1}

	if m.current == len(m.answers)-1 {
		m.record(models.ActionActive, models.KindFinishClicked, from)
		m.finish()
		return m, nil
	}

	m.record(models.ActionActive, models.KindNextClicked, from)
	m.show(m.current + 1)
	return m, nil
}

func (m *Model) previous() {
	if m.current == 0 {
		return
	}
	m.record(models.ActionActive, models.KindPreviousClicked, map[string]any{models.DetailFromQuestion: m.current + 1})
	m.show(m.current - 1)
}

func (m *Model) show(i int) {
	m.current = i
	m.warning = ""
	m.cursor = 0
	for j, opt := range m.options() {
		if opt == m.answers[i] {
			m.cursor = j
		}
	}
	index := i + 1
	m.emit(func(r Recorder) error { return r.DisplayQuestion(index) }, models.KindQuestionDisplayed)
}

func (m *Model) finish() {
	m.emit(Recorder.Submit, models.KindSurveySubmitted)
	m.result = engine.Screen(m.Answers())
	m.phase = phaseDone
	m.record(models.ActionPassive, models.KindSurveyCompleted, nil)
}

func (m *Model) record(action models.ActionType, kind models.EventKind, details map[string]any) {
	m.emit(func(r Recorder) error { return r.Record(action, kind, details) }, kind)
}

func (m *Model) emit(fn func(Recorder) error, kind models.EventKind) {
	if m.recorder == nil {
		return
	}
	if err := fn(m.recorder); err != nil {
		m.logger.Warn("survey event not recorded", slog.String("event", string(kind)), slog.Any("error", err))
	}
}

func (m Model) options() []string {
	q, _ := m.bank.Question(m.current + 1)
	if len(q.Options) == 0 {
		return engine.DefaultOptions
	}
	return q.Options
}

// Completed reports whether the survey was submitted.
func (m Model) Completed() bool { return m.phase == phaseDone }

// Aborted reports whether the user quit before finishing.
func (m Model) Aborted() bool { return m.aborted }

// Answers returns the current answers keyed by 1-based question index.
func (m Model) Answers() map[int]string {
	out := make(map[int]string, len(m.answers))
	for i, a := range m.answers {
		if a != "" {
			out[i+1] = a
		}
	}
	return out
}

// Result returns the screener outcome once the survey is complete.
func (m Model) Result() engine.ScreenResult { return m.result }

// View implements tea.Model.
func (m Model) View() string {
	if m.phase == phaseDone {
		return m.resultView()
	}

	q, _ := m.bank.Question(m.current + 1)
	var b strings.Builder
	b.WriteString(ProgressStyle.Render(fmt.Sprintf("Question %d of %d", m.current+1, m.bank.Len())))
	b.WriteString("\n")
	b.WriteString(QuestionStyle.Render(q.Text))
	b.WriteString("\n")

	for i, opt := range m.options() {
		mark := "( )"
		if m.answers[m.current] == opt {
			mark = "(•)"
		}
		line := fmt.Sprintf("%s %s", mark, opt)
		if i == m.cursor {
			b.WriteString(CursorOption.Render(line))
		} else {
			b.WriteString(NormalOption.Render(line))
		}
		b.WriteString("\n")
	}

	if m.warning != "" {
		b.WriteString(WarningStyle.Render(m.warning))
		b.WriteString("\n")
	}
	b.WriteString(DisclaimerStyle.Render(disclaimer))
	b.WriteString("\n\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m Model) resultView() string {
	var b strings.Builder
	b.WriteString("Thank you for completing the check-in.\n\nYour responses:\n")
	for i, a := range m.answers {
		text, _ := m.bank.Text(i + 1)
		fmt.Fprintf(&b, "- %s: %s\n", shortQuestion(text), a)
	}
	b.WriteString("\n")
	b.WriteString(m.result.Message)
	b.WriteString("\n\n")
	b.WriteString(resultFootnote)

	body := b.String()
	if m.width > 4 {
		return ResultStyle.Width(m.width-4).Render(body) + "\n\nPress any key to exit."
	}
	return ResultStyle.Render(body) + "\n\nPress any key to exit."
}

// shortQuestion drops a leading "N. " numbering prefix.
func shortQuestion(text string) string {
	if _, rest, ok := strings.Cut(text, ". "); ok {
		return rest
	}
	return text
}

// Run drives the questionnaire until the user finishes or quits, or ctx is done.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) (Model, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(m, opts...).Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	return m, err
}
