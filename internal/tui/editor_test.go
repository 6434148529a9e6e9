// internal/tui/editor_test.go
package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/worker"
)

// fakeWorker records calls and replays scripted responses.
type fakeWorker struct {
	alive     bool
	startErr  error
	queue     []worker.Response
	disconn   error
	predicts  []string
	sent      []worker.Command
	stops     int
	shutdowns int
	starts    int
}

func (f *fakeWorker) Start(context.Context) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.alive = true
	return nil
}

func (f *fakeWorker) Stop() error {
	f.stops++
	return nil
}

func (f *fakeWorker) Shutdown() error {
	f.shutdowns++
	f.alive = false
	return nil
}

func (f *fakeWorker) Predict(prompt string, opts worker.Options) error {
	if !f.alive {
		return &worker.SendError{Command: worker.Predict{Prompt: prompt, Options: opts}, Err: worker.ErrNotAlive}
	}
	f.predicts = append(f.predicts, prompt)
	return nil
}

func (f *fakeWorker) Send(cmd worker.Command) error {
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeWorker) TryReceive() (worker.Response, bool, error) {
	if len(f.queue) > 0 {
		r := f.queue[0]
		f.queue = f.queue[1:]
		return r, true, nil
	}
	if f.disconn != nil {
		err := f.disconn
		f.disconn = nil
		f.alive = false
		return nil, false, err
	}
	return nil, false, nil
}

func (f *fakeWorker) IsAlive() bool { return f.alive }

func newTestModel(t *testing.T, cfg *appconfig.Config, story string) (*model, *fakeWorker) {
	t.Helper()
	w := &fakeWorker{alive: true}
	m := newModel(context.Background(), cfg, w, story)
	_, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, w
}

func key(s string) tea.KeyMsg {
	switch s {
	case "ctrl+g":
		return tea.KeyMsg{Type: tea.KeyCtrlG}
	case "ctrl+r":
		return tea.KeyMsg{Type: tea.KeyCtrlR}
	case "ctrl+l":
		return tea.KeyMsg{Type: tea.KeyCtrlL}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestGenerateAppendsPiecesAndTrimsOnDone(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "It was a dark night.")

	m.Update(key("ctrl+g"))
	if len(w.predicts) != 1 || w.predicts[0] != "It was a dark night." {
		t.Fatalf("expected predict with the buffer, got %v", w.predicts)
	}
	if !m.generating {
		t.Fatal("expected the editor to be generating")
	}

	// Typing is ignored while generating.
	m.Update(key("x"))
	if m.Story() != "It was a dark night." {
		t.Fatalf("buffer changed while generating: %q", m.Story())
	}

	w.queue = []worker.Response{
		worker.Predicted{Piece: " The wind"},
		worker.Predicted{Piece: " howled. \n\n"},
		worker.Done{},
	}
	m.Update(redrawMsg{})

	if got, want := m.Story(), "It was a dark night. The wind howled."; got != want {
		t.Fatalf("story = %q, want %q", got, want)
	}
	if m.generating || m.status != "done" {
		t.Fatalf("expected idle editor after Done; generating=%v status=%q", m.generating, m.status)
	}
}

func TestRedrawDrainsEveryQueuedResponse(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "")
	m.Update(key("ctrl+g"))

	for i := 0; i < 100; i++ {
		w.queue = append(w.queue, worker.Predicted{Piece: "a"})
	}
	m.Update(redrawMsg{})
	if len(w.queue) != 0 || len(m.Story()) != 100 {
		t.Fatalf("expected one redraw to drain all responses; left=%d story=%d", len(w.queue), len(m.Story()))
	}
}

func TestStopWhileGenerating(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")

	m.Update(key("esc"))
	if w.stops != 0 {
		t.Fatal("stop sent while idle")
	}

	m.Update(key("ctrl+g"))
	m.Update(key("esc"))
	if w.stops != 1 || m.status != "stopping" {
		t.Fatalf("expected one stop; stops=%d status=%q", w.stops, m.status)
	}
}

func TestStopAckAfterNaturalFinishDoesNotUnlockNextGeneration(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "A")

	// The generation finishes on its own just as esc is pressed.
	m.Update(key("ctrl+g"))
	m.Update(key("esc"))
	w.queue = []worker.Response{worker.Predicted{Piece: " b"}, worker.Done{}}
	m.Update(redrawMsg{})
	require.False(t, m.generating)

	// The Stop is then acknowledged while idle, after the next Predict was sent.
	m.Update(key("ctrl+g"))
	w.queue = []worker.Response{worker.Done{}}
	m.Update(redrawMsg{})
	assert.True(t, m.generating, "acknowledgment of the earlier stop must not end this generation")

	m.Update(key("x"))
	assert.Equal(t, "A b", m.Story())

	w.queue = []worker.Response{worker.Predicted{Piece: " c"}, worker.Done{}}
	m.Update(redrawMsg{})
	assert.False(t, m.generating)
	assert.Equal(t, "A b c", m.Story())
	assert.Equal(t, []string{"A", "A b"}, w.predicts)
}

func TestStopConsumedMidGenerationLeavesNextGenerationIntact(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "A")

	m.Update(key("ctrl+g"))
	m.Update(key("esc"))
	w.queue = []worker.Response{worker.Done{}}
	m.Update(redrawMsg{})
	require.False(t, m.generating)

	m.Update(key("ctrl+g"))
	w.queue = []worker.Response{worker.Predicted{Piece: " b"}, worker.Done{}}
	m.Update(redrawMsg{})
	assert.False(t, m.generating)
	assert.Equal(t, "done", m.status)
	assert.Equal(t, "A b", m.Story())
}

func TestStrayDoneWhileIdleIsHarmless(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "A")

	m.Update(key("ctrl+g"))
	m.Update(key("esc"))
	w.queue = []worker.Response{worker.Done{}, worker.Done{}}
	m.Update(redrawMsg{})
	require.False(t, m.generating)

	// Both acknowledgments are spent, so the next Done is terminal.
	m.Update(key("ctrl+g"))
	w.queue = []worker.Response{worker.Done{}}
	m.Update(redrawMsg{})
	assert.False(t, m.generating)
}

func TestBusyIsSurfacedWithoutUnlocking(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{Backend: "remote"}, "story")
	m.Update(key("ctrl+g"))
	m.Update(key("ctrl+l"))
	if len(w.sent) != 1 {
		t.Fatalf("expected a fetch command, got %v", w.sent)
	}
	if _, ok := w.sent[0].(worker.FetchModels); !ok {
		t.Fatalf("expected FetchModels for the remote backend, got %T", w.sent[0])
	}

	w.queue = []worker.Response{worker.Busy{Command: worker.FetchModels{}}}
	m.Update(redrawMsg{})
	if !strings.HasPrefix(m.status, "queued behind current generation") {
		t.Fatalf("unexpected status %q", m.status)
	}
	if !m.generating {
		t.Fatal("Busy must not end the generation")
	}
}

func TestModelsKeyLoadsLocalModel(t *testing.T) {
	cfg := &appconfig.Config{Local: appconfig.LocalConfig{ModelPath: "/models/tiny.gguf"}}
	m, w := newTestModel(t, cfg, "")

	m.Update(key("ctrl+l"))
	load, ok := w.sent[0].(worker.LoadModel)
	if !ok || load.Path != "/models/tiny.gguf" {
		t.Fatalf("expected LoadModel, got %#v", w.sent[0])
	}

	w.queue = []worker.Response{worker.LoadedModel{
		Path:         "/models/tiny.gguf",
		Capabilities: worker.Capabilities{ContextSize: 512, TrainedContextSize: 4096, Metadata: map[string]string{"name": "tiny"}},
	}}
	m.Update(redrawMsg{})
	if len(m.notes) == 0 || !strings.Contains(m.notes[len(m.notes)-1], "loaded tiny (context 512, trained 4096)") {
		t.Fatalf("unexpected notes %v", m.notes)
	}
}

func TestErrorUnlocksEditor(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")
	m.Update(key("ctrl+g"))

	w.queue = []worker.Response{worker.Error{Err: &worker.StreamError{Err: errors.New("connection reset")}}}
	m.Update(redrawMsg{})
	if m.generating || m.err == nil {
		t.Fatalf("expected error to unlock editor; generating=%v err=%v", m.generating, m.err)
	}
	if !strings.Contains(m.View(), "connection reset") {
		t.Fatal("expected the error in the view")
	}
}

func TestDisconnectShowsPanicDiagnostic(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")
	m.Update(key("ctrl+g"))

	w.disconn = errors.Join(worker.ErrDisconnected, &worker.PanicError{Value: "index out of range"})
	m.Update(redrawMsg{})

	if m.generating {
		t.Fatal("expected input to unlock after disconnect")
	}
	if m.diagnostic != "index out of range" {
		t.Fatalf("unexpected diagnostic %q", m.diagnostic)
	}
	if !errors.Is(m.err, worker.ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", m.err)
	}
	if !strings.Contains(m.View(), "panic: index out of range") {
		t.Fatal("expected the panic diagnostic in the view")
	}
}

func TestPredictRestartsDeadWorker(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")
	w.alive = false

	m.Update(key("ctrl+g"))
	if w.starts != 1 || len(w.predicts) != 1 {
		t.Fatalf("expected start then predict; starts=%d predicts=%d", w.starts, len(w.predicts))
	}
}

func TestPredictReportsStartFailure(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")
	w.alive = false
	w.startErr = worker.ErrModelNotFound

	m.Update(key("ctrl+g"))
	if m.generating || !errors.Is(m.err, worker.ErrModelNotFound) {
		t.Fatalf("expected start failure; generating=%v err=%v", m.generating, m.err)
	}
}

func TestRestartShutsDownAndStarts(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")
	m.Update(key("ctrl+g"))

	m.Update(key("ctrl+r"))
	if w.shutdowns != 1 || w.starts != 1 || !w.alive {
		t.Fatalf("expected shutdown then start; shutdowns=%d starts=%d", w.shutdowns, w.starts)
	}
	if m.generating {
		t.Fatal("restart must unlock input")
	}
}

func TestQuitShutsDownWorker(t *testing.T) {
	m, w := newTestModel(t, &appconfig.Config{}, "story")

	_, cmd := m.Update(key("ctrl+c"))
	if w.shutdowns != 1 {
		t.Fatalf("expected shutdown on quit, got %d", w.shutdowns)
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestViewShowsBadges(t *testing.T) {
	cfg := &appconfig.Config{Backend: "remote", Remote: appconfig.RemoteConfig{Model: "gpt-4o"}}
	m, _ := newTestModel(t, cfg, "")
	out := m.View()
	for _, want := range []string{"Backend: remote", "Model: gpt-4o", "Worker: idle", "ctrl+g generate"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in view:\n%s", want, out)
		}
	}
}

func TestProgramNotifierCoalesces(t *testing.T) {
	n := newProgramNotifier()
	for i := 0; i < 10; i++ {
		n.RequestRedraw()
	}
	if len(n.pending) != 1 {
		t.Fatalf("expected one pending redraw, got %d", len(n.pending))
	}
	<-n.pending

	n.RequestRedrawAfter(10 * time.Millisecond)
	select {
	case <-n.pending:
	case <-time.After(time.Second):
		t.Fatal("delayed redraw was not delivered")
	}
}
