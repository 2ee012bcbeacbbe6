package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fundrag/internal/domain"
)

// AnswerPort is the TUI-facing subset of the RAG service.
type AnswerPort interface {
	Answer(ctx context.Context, question string) (domain.Answer, error)
}

type answerMsg struct {
	question string
	answer   domain.Answer
	err      error
}

// Model is the Bubble Tea model for the interactive ask session.
type Model struct {
	service  AnswerPort
	timeout  time.Duration
	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	answer   domain.Answer
	header   string
	status   string
	cursor   int
	ready    bool
	busy     bool
	question string
}

// New creates a new TUI model instance. header describes the loaded index.
func New(service AnswerPort, header string, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about holdings or trades and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{service: service, timeout: timeout, input: ti, viewport: vp, spinner: sp, header: header, status: "Index loaded. Ask a question."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.timeout)
			defer cancel()
		}
		ans, err := m.service.Answer(ctx, q)
		return answerMsg{question: q, answer: ans, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header lines, status, spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer = domain.Answer{}
		} else {
			m.status = fmt.Sprintf("Answered %q via %s", msg.question, msg.answer.Path)
			m.answer = msg.answer
			m.question = msg.question
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, tea.Batch(m.ask(q), m.spinner.Tick)
			}
		case "down":
			if len(m.answer.Context) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Context)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if len(m.answer.Context) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Context)) % len(m.answer.Context)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Fund RAG")
	sub := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	input := queryBoxStyle.Render(m.input.View())
	status := m.status
	if m.busy {
		status = m.spinner.View() + " " + status
	}
	status = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + sub + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer.Text == "" {
		return "No answer yet."
	}
	out := answerStyle.Render(m.answer.Text) + "\n"
	if len(m.answer.Context) == 0 {
		return out
	}
	r := m.answer.Context[m.cursor]
	title := fmt.Sprintf("Context %d/%d  distance=%.3f  %s", m.cursor+1, len(m.answer.Context), r.Distance, r.Document.ID)
	return out + "\n" + title + "\n\n" + highlightBestField(r.Document.Text, m.question)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	wordRe         = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// highlightBestField puts each "column: value" pair on its own line and
// highlights the one sharing the most words with the question.
func highlightBestField(text, question string) string {
	fields := strings.Split(text, " | ")
	qTokens := toTokenSet(question)
	bestIdx, bestScore := -1, 0
	for i, f := range fields {
		if score := tokenOverlapScore(qTokens, f); score > bestScore {
			bestScore, bestIdx = score, i
		}
	}
	for i := range fields {
		if i == bestIdx {
			fields[i] = highlightStyle.Render(fields[i])
		}
	}
	return strings.Join(fields, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := wordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, field string) int {
	score := 0
	seen := map[string]struct{}{}
	for _, t := range wordRe.FindAllString(strings.ToLower(field), -1) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
