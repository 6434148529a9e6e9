// internal/tui/program.go
package tui

import (
	"context"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/logging"
	"github.com/mwiater/weave/internal/providerfactory"
	"github.com/mwiater/weave/internal/worker"
)

// programNotifier forwards redraw requests to a running program. Requests
// are coalesced and never block the worker goroutine.
type programNotifier struct {
	pending chan struct{}

	mu      sync.Mutex
	program *tea.Program
}

var _ worker.Notifier = (*programNotifier)(nil)

func newProgramNotifier() *programNotifier {
	return &programNotifier{pending: make(chan struct{}, 1)}
}

func (n *programNotifier) RequestRedraw() {
	select {
	case n.pending <- struct{}{}:
	default:
	}
}

func (n *programNotifier) RequestRedrawAfter(d time.Duration) {
	time.AfterFunc(d, n.RequestRedraw)
}

// attach starts forwarding to p until ctx is done.
func (n *programNotifier) attach(ctx context.Context, p *tea.Program) {
	n.mu.Lock()
	n.program = p
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.pending:
				n.mu.Lock()
				program := n.program
				n.mu.Unlock()
				program.Send(redrawMsg{})
			}
		}
	}()
}

// Run opens the story editor on story and returns the edited text when the
// user quits. The worker is shut down before Run returns.
func Run(ctx context.Context, cfg *appconfig.Config, story string) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is not loaded")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	notifier := newProgramNotifier()
	w, err := providerfactory.NewWorker(cfg, notifier)
	if err != nil {
		return "", err
	}
	if err := w.Start(ctx); err != nil {
		return "", err
	}
	defer func() {
		if err := w.Shutdown(); err != nil {
			logging.LogEvent("worker shutdown error: %v", err)
		}
	}()

	m := newModel(ctx, cfg, w, story)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	notifier.attach(ctx, p)

	if _, err := p.Run(); err != nil {
		return m.Story(), fmt.Errorf("running editor: %w", err)
	}
	return m.Story(), nil
}
