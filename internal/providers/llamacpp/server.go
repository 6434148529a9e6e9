package llamacpp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// serverProcess is a llama-server subprocess owned by one engine.
type serverProcess struct {
	cmd    *exec.Cmd
	exited chan struct{}

	mu  sync.Mutex
	err error
}

func serverArgs(opts Options, modelPath string, contextSize int) []string {
	args := []string{
		"-m", modelPath,
		"-c", strconv.Itoa(contextSize),
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(opts.Port),
		"--threads", strconv.Itoa(opts.Threads),
	}
	if opts.GPULayers != 0 {
		args = append(args, "-ngl", strconv.Itoa(opts.GPULayers))
	}
	return args
}

// startServer launches llama-server. The process is not bound to ctx; it
// lives until stop is called.
func startServer(ctx context.Context, opts Options, modelPath string, contextSize int, log *zap.Logger) (*serverProcess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	binary, err := exec.LookPath(opts.ServerBinary)
	if err != nil {
		return nil, fmt.Errorf("llama.cpp: server binary %q: %w", opts.ServerBinary, err)
	}

	args := serverArgs(opts, modelPath, contextSize)
	cmd := exec.Command(binary, args...)
	out := &lineLogger{log: log.With(zap.Int("port", opts.Port))}
	cmd.Stdout = out
	cmd.Stderr = out

	log.Info("starting llama.cpp server", zap.String("binary", binary), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("llama.cpp: start %s: %w", binary, err)
	}

	p := &serverProcess{cmd: cmd, exited: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.exited)
	}()
	return p, nil
}

func (p *serverProcess) waitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return errors.New("exit status 0")
	}
	return p.err
}

// stop interrupts the server and kills it if it does not exit promptly.
func (p *serverProcess) stop() error {
	select {
	case <-p.exited:
		return nil
	default:
	}

	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.exited:
		return nil
	case <-time.After(5 * time.Second):
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	<-p.exited
	return nil
}

// lineLogger forwards server output to the debug log one line at a time.
type lineLogger struct {
	log *zap.Logger

	mu  sync.Mutex
	buf []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(l.buf[:i]); len(line) > 0 {
			l.log.Debug("llama-server", zap.ByteString("line", line))
		}
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}
