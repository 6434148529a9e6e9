package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

const panicPrompt = "__panic__"

// fakeEngine yields pieces on demand. A nil script streams "tok" forever.
type fakeEngine struct {
	contextSize int
	trained     int
	script      []string
	delay       time.Duration
	failAfter   int
	stops       []string

	mu      sync.Mutex
	closed  bool
	lastReq providers.CompletionRequest
}

func (e *fakeEngine) ContextSize() int        { return e.contextSize }
func (e *fakeEngine) TrainedContextSize() int { return e.trained }
func (e *fakeEngine) StopSequences() []string { return e.stops }
func (e *fakeEngine) Metadata() map[string]string {
	return map[string]string{"general.name": "fake"}
}

func (e *fakeEngine) Predict(ctx context.Context, req providers.CompletionRequest) (providers.PieceStream, error) {
	if req.Prompt == panicPrompt {
		panic("engine exploded")
	}
	e.mu.Lock()
	e.lastReq = req
	e.mu.Unlock()
	return &fakeStream{ctx: ctx, script: e.script, delay: e.delay, failAfter: e.failAfter}, nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeEngine) request() providers.CompletionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeStream struct {
	ctx       context.Context
	script    []string
	delay     time.Duration
	failAfter int

	n   int
	cur string
	err error
}

func (s *fakeStream) Next() bool {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			s.err = s.ctx.Err()
			return false
		}
	}
	if s.failAfter > 0 && s.n == s.failAfter {
		s.err = errors.New("decode failed")
		return false
	}
	if s.script != nil {
		if s.n >= len(s.script) {
			return false
		}
		s.cur = s.script[s.n]
	} else {
		s.cur = "tok"
	}
	s.n++
	return true
}

func (s *fakeStream) Piece() string { return s.cur }
func (s *fakeStream) Err() error    { return s.err }
func (s *fakeStream) Close() error  { return nil }

// fakeLoader builds fakeEngines and records the context size of every load.
type fakeLoader struct {
	trained int
	script  []string
	delay   time.Duration
	stops   []string
	fail    error

	mu      sync.Mutex
	sizes   []int
	engines []*fakeEngine
}

func (l *fakeLoader) Load(_ context.Context, _ string, contextSize int) (providers.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sizes = append(l.sizes, contextSize)
	if l.fail != nil {
		return nil, l.fail
	}
	e := &fakeEngine{
		contextSize: contextSize,
		trained:     l.trained,
		script:      l.script,
		delay:       l.delay,
		stops:       l.stops,
	}
	l.engines = append(l.engines, e)
	return e, nil
}

func (l *fakeLoader) loadSizes() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.sizes...)
}

func (l *fakeLoader) lastEngine() *fakeEngine {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.engines) == 0 {
		return nil
	}
	return l.engines[len(l.engines)-1]
}

type countingNotifier struct {
	mu      sync.Mutex
	redraws int
	delays  []time.Duration
}

func (n *countingNotifier) RequestRedraw() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redraws++
}

func (n *countingNotifier) RequestRedrawAfter(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delays = append(n.delays, d)
}

func (n *countingNotifier) snapshot() (int, []time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.redraws, append([]time.Duration(nil), n.delays...)
}

func modelFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.gguf")
	require.NoError(t, os.WriteFile(path, []byte("GGUF"), 0o644))
	return path
}

func startWorker(t *testing.T, loader *fakeLoader, n worker.Notifier) *Worker {
	t.Helper()
	w := New(Config{ModelPath: modelFile(t), Loader: loader, Notifier: n})
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Shutdown() })
	return w
}

// collect polls until a terminal response arrives.
func collect(t *testing.T, w worker.Worker) []worker.Response {
	t.Helper()
	var out []worker.Response
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, ok, err := w.TryReceive()
		require.NoError(t, err)
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		out = append(out, resp)
		if worker.IsTerminal(resp) {
			return out
		}
	}
	t.Fatalf("no terminal response after %d responses", len(out))
	return nil
}

// next polls for one response of any kind.
func next(t *testing.T, w worker.Worker) worker.Response {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, ok, err := w.TryReceive()
		require.NoError(t, err)
		if ok {
			return resp
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no response")
	return nil
}

func pieces(responses []worker.Response) []string {
	var out []string
	for _, r := range responses {
		if p, ok := r.(worker.Predicted); ok {
			out = append(out, p.Piece)
		}
	}
	return out
}
