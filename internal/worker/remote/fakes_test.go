package remote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mwiater/weave/internal/providers"
	"github.com/mwiater/weave/internal/worker"
)

const panicPrompt = "__panic__"

// fakeClient replays a chunk script. A nil script streams "tok" deltas
// forever; stall makes every stream block until its context ends, and
// deaf makes it block until Close regardless of the context.
type fakeClient struct {
	script    []providers.Chunk
	delay     time.Duration
	stall     bool
	deaf      bool
	openErr   error
	streamErr error
	invalid   error

	models    []string
	listErr   error
	listGate  chan struct{}
	listCalls int

	mu        sync.Mutex
	requests  []providers.ChatRequest
	cancelled int
	closes    int
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Validate() error { return c.invalid }

func (c *fakeClient) ListModels(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	c.listCalls++
	gate := c.listGate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.models, nil
}

func (c *fakeClient) Stream(ctx context.Context, req providers.ChatRequest) (providers.ChunkStream, error) {
	if req.Prompt == panicPrompt {
		panic("client exploded")
	}
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &fakeStream{
		client: c, ctx: ctx, script: c.script, delay: c.delay,
		stall: c.stall, deaf: c.deaf, err: c.streamErr,
		closed: make(chan struct{}),
	}, nil
}

func (c *fakeClient) lastRequest() providers.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func (c *fakeClient) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeClient) cancellations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

type fakeStream struct {
	client *fakeClient
	ctx    context.Context
	script []providers.Chunk
	delay  time.Duration
	stall  bool
	deaf   bool
	err    error

	closed    chan struct{}
	closeOnce sync.Once

	n       int
	cur     providers.Chunk
	failure error
}

func (s *fakeStream) Next() bool {
	if s.deaf {
		<-s.closed
		s.failure = errors.New("read on closed body")
		return false
	}
	if s.stall {
		<-s.ctx.Done()
		s.cancelled()
		return false
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.ctx.Done():
			s.cancelled()
			return false
		}
	}
	if s.script == nil {
		s.cur = providers.Chunk{Delta: "tok"}
		return true
	}
	if s.n >= len(s.script) {
		s.failure = s.err
		return false
	}
	s.cur = s.script[s.n]
	s.n++
	return true
}

func (s *fakeStream) cancelled() {
	s.failure = s.ctx.Err()
	s.client.mu.Lock()
	s.client.cancelled++
	s.client.mu.Unlock()
}

func (s *fakeStream) Current() providers.Chunk { return s.cur }
func (s *fakeStream) Err() error               { return s.failure }

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.client.mu.Lock()
		s.client.closes++
		s.client.mu.Unlock()
	})
	return nil
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

func startWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	w := New(cfg)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { _ = w.Shutdown() })
	return w
}

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
