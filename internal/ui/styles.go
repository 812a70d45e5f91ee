package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary   = lipgloss.Color("62")  // Purple
	colorSecondary = lipgloss.Color("241") // Gray
	colorHighlight = lipgloss.Color("212") // Pink
	colorWarning   = lipgloss.Color("214") // Orange
)

// ProgressStyle renders the "Question N of M" line.
var ProgressStyle = lipgloss.NewStyle().
	Foreground(colorSecondary).
	MarginBottom(1)

// QuestionStyle renders the question text.
var QuestionStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	MarginBottom(1)

// CursorOption is the option under the cursor.
var CursorOption = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("255")).
	Background(colorPrimary).
	Padding(0, 1)

// NormalOption is any other option.
var NormalOption = lipgloss.NewStyle().
	Foreground(lipgloss.Color("255")).
	Padding(0, 1)

// WarningStyle renders validation messages.
var WarningStyle = lipgloss.NewStyle().
	Foreground(colorWarning).
	Bold(true).
	MarginTop(1)

// DisclaimerStyle renders the standing disclaimer.
var DisclaimerStyle = lipgloss.NewStyle().
	Foreground(colorHighlight).
	MarginTop(1)

// ResultStyle frames the completion summary.
var ResultStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(colorPrimary).
	Padding(1, 2)
