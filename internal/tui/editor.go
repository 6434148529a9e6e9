// internal/tui/editor.go
// Package tui provides the interactive story editor that drives a generation worker.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/util"
	"github.com/mwiater/weave/internal/worker"
)

// maxNotes bounds the event pane.
const maxNotes = 50

// redrawMsg is sent by the worker's notifier; it tells the editor to drain responses.
type redrawMsg struct{}

// model is the Bubble Tea model for the story editor.
type model struct {
	ctx    context.Context
	config *appconfig.Config
	worker worker.Worker
	opts   worker.Options
	log    *zap.Logger

	textArea  textarea.Model
	notesView viewport.Model
	spinner   spinner.Model

	generating bool
	// stopSent marks a Stop sent during the current generation.
	stopSent bool
	// staleStop means a Stop may still be acknowledged with an extra Done
	// after the generation it targeted has already finished.
	staleStop bool
	// received is set once the current generation produced a response.
	received bool

	status        string
	err           error
	diagnostic    string
	notes         []string
	width, height int
}

// newModel creates the editor around an already started worker.
func newModel(ctx context.Context, cfg *appconfig.Config, w worker.Worker, story string) *model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ta := textarea.New()
	ta.Placeholder = "Start your story..."
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = -1
	ta.MaxHeight = 0
	ta.SetValue(story)
	ta.Focus()

	return &model{
		ctx:       ctx,
		config:    cfg,
		worker:    w,
		opts:      worker.OptionsFromConfig(*cfg),
		log:       logging.Named("tui"),
		textArea:  ta,
		notesView: viewport.New(80, 4),
		spinner:   s,
		status:    "ready",
	}
}

// Init starts the spinner animation.
func (m *model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Story returns the current buffer contents.
func (m *model) Story() string {
	return m.textArea.Value()
}

// Update is the central update function for the Bubble Tea model.
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.shutdown()
			return m, tea.Quit
		case "ctrl+g":
			return m, m.predict()
		case "esc":
			m.stop()
			return m, nil
		case "ctrl+r":
			m.restart()
			return m, nil
		case "ctrl+l":
			m.models()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		headerHeight := 2
		footerHeight := 3
		notesHeight := 5
		m.textArea.SetWidth(msg.Width - 2)
		m.textArea.SetHeight(max(3, msg.Height-headerHeight-footerHeight-notesHeight))
		m.notesView.Width = msg.Width
		m.notesView.Height = notesHeight - 1
		m.refreshNotes()

	case redrawMsg:
		m.drain()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	// The buffer is read-only while a generation is appending to it.
	if !m.generating {
		var cmd tea.Cmd
		m.textArea, cmd = m.textArea.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *model) predict() tea.Cmd {
	if m.generating {
		m.status = "already generating; esc to stop"
		return nil
	}
	if !m.worker.IsAlive() {
		if err := m.worker.Start(m.ctx); err != nil {
			m.setError(err)
			return nil
		}
	}
	if err := m.worker.Predict(m.textArea.Value(), m.opts); err != nil {
		m.setError(err)
		return nil
	}
	m.generating = true
	m.received = false
	m.err = nil
	m.diagnostic = ""
	m.status = "generating"
	m.textArea.Blur()
	return m.spinner.Tick
}

func (m *model) stop() {
	if !m.generating {
		return
	}
	if err := m.worker.Stop(); err != nil {
		m.setError(err)
		return
	}
	m.stopSent = true
	m.status = "stopping"
}

func (m *model) restart() {
	if err := m.worker.Shutdown(); err != nil {
		m.addNote(fmt.Sprintf("shutdown: %v", err))
	}
	m.unlock()
	m.stopSent, m.staleStop = false, false
	if err := m.worker.Start(m.ctx); err != nil {
		m.setError(err)
		return
	}
	m.err = nil
	m.diagnostic = ""
	m.status = "worker restarted"
	m.addNote("worker restarted")
}

// models asks a remote worker for its catalog, or reloads the local model.
func (m *model) models() {
	var cmd worker.Command = worker.FetchModels{}
	if m.config.BackendName() == appconfig.BackendLocal {
		cmd = worker.LoadModel{Path: m.config.Local.ModelPath}
	}
	if !m.worker.IsAlive() {
		if err := m.worker.Start(m.ctx); err != nil {
			m.setError(err)
			return
		}
	}
	if err := m.worker.Send(cmd); err != nil {
		m.setError(err)
		return
	}
	m.status = worker.Describe(cmd)
}

func (m *model) shutdown() {
	if err := m.worker.Shutdown(); err != nil {
		m.log.Warn("worker shutdown", zap.Error(err))
	}
}

// drain applies every queued response.
func (m *model) drain() {
	for {
		resp, ok, err := m.worker.TryReceive()
		if err != nil {
			m.disconnected(err)
			return
		}
		if !ok {
			return
		}
		m.apply(resp)
	}
}

func (m *model) apply(resp worker.Response) {
	switch r := resp.(type) {
	case worker.Predicted:
		m.received = true
		m.textArea.SetValue(m.textArea.Value() + r.Piece)
	case worker.Done:
		m.finish()
	case worker.Busy:
		m.received = true
		m.status = "queued behind current generation: " + worker.Describe(r.Command)
		m.addNote(m.status)
	case worker.Error:
		m.received = true
		m.staleStop = m.generating && m.stopSent
		m.stopSent = false
		m.setError(r.Err)
		m.unlock()
	case worker.LoadedModel:
		m.status = "model loaded"
		m.addNote(describeCapabilities(r))
	case worker.Models:
		m.status = fmt.Sprintf("%d models available", len(r.Catalog))
		m.addNote("models: " + strings.Join(r.Catalog, ", "))
	}
}

// finish ends the current generation on Done. A Stop that raced natural
// completion is acknowledged by a second Done, which arrives before any
// response of the next generation and is skipped.
func (m *model) finish() {
	if m.generating && m.staleStop && !m.received {
		m.staleStop = false
		m.log.Debug("skipped acknowledgment of an earlier stop")
		return
	}
	m.staleStop = false
	if !m.generating {
		return
	}
	m.textArea.SetValue(util.TrimTrailingSpace(m.textArea.Value()))
	m.status = "done"
	if m.stopSent {
		m.stopSent, m.staleStop = false, true
	}
	m.unlock()
}

func (m *model) disconnected(err error) {
	m.unlock()
	m.err = err
	m.status = "worker disconnected; ctrl+r to restart"
	var panicErr *worker.PanicError
	if errors.As(err, &panicErr) {
		m.diagnostic = fmt.Sprint(panicErr.Value)
	}
	m.addNote(err.Error())
	m.log.Warn("worker disconnected", zap.Error(err))
}

func (m *model) unlock() {
	m.generating = false
	m.textArea.Focus()
}

func (m *model) setError(err error) {
	m.err = err
	m.status = "error"
	m.addNote("error: " + err.Error())
}

func (m *model) addNote(note string) {
	m.notes = append(m.notes, note)
	if len(m.notes) > maxNotes {
		m.notes = m.notes[len(m.notes)-maxNotes:]
	}
	m.refreshNotes()
}

func (m *model) refreshNotes() {
	m.notesView.SetContent(lipgloss.NewStyle().Width(m.notesView.Width).Render(strings.Join(m.notes, "\n")))
	m.notesView.GotoBottom()
}

func describeCapabilities(r worker.LoadedModel) string {
	name := r.Capabilities.Metadata["name"]
	if name == "" {
		name = r.Path
	}
	return fmt.Sprintf("loaded %s (context %d, trained %d)", name, r.Capabilities.ContextSize, r.Capabilities.TrainedContextSize)
}

// View renders the editor.
func (m *model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var builder strings.Builder
	builder.WriteString(m.header() + "\n\n")
	builder.WriteString(m.textArea.View() + "\n")

	statusLine := m.status
	if m.generating {
		statusLine = m.spinner.View() + " " + statusLine
	}
	builder.WriteString(statusStyle.Render(util.TruncateRunes(statusLine, max(10, m.width-2))) + "\n")
	if m.err != nil {
		builder.WriteString(errorStyle.Render(util.TruncateRunes("Error: "+m.err.Error(), max(10, m.width-2))) + "\n")
	}
	if m.diagnostic != "" {
		builder.WriteString(errorStyle.Render("panic: "+m.diagnostic) + "\n")
	}
	builder.WriteString(m.notesView.View() + "\n")
	builder.WriteString(helpStyle.Render("ctrl+g generate • esc stop • ctrl+r restart worker • ctrl+l models • ctrl+c quit"))
	return builder.String()
}

func (m *model) header() string {
	model := m.opts.Model
	if m.config.BackendName() == appconfig.BackendLocal {
		model = m.config.Local.ModelPath
	}
	return lipgloss.JoinHorizontal(lipgloss.Top,
		renderBackendBadge(m.config.BackendName()),
		renderModelBadge(model),
		renderWorkerBadge(m.worker.IsAlive(), m.generating),
	)
}
