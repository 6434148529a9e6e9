package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound is returned by Start when the model file does not exist.
	ErrModelNotFound = errors.New("model not found")
	// ErrInvalidConfig is returned by Start when the backend configuration cannot work.
	ErrInvalidConfig = errors.New("invalid worker configuration")
	// ErrInvalidOptions reports generation options no backend can honor.
	ErrInvalidOptions = errors.New("invalid generation options")
	// ErrNotAlive is the cause of a SendError when no worker goroutine exists.
	ErrNotAlive = errors.New("worker is not alive")
	// ErrDisconnected means the worker goroutine has exited, usually by panicking.
	ErrDisconnected = errors.New("worker disconnected; it may have panicked")
	// ErrQueueFull is the cause of a SendError when a bounded command queue is full.
	ErrQueueFull = errors.New("worker command queue is full")
	// ErrNoModelLoaded is reported when a prediction arrives without a usable engine.
	ErrNoModelLoaded = errors.New("cannot predict with no model loaded")
)

// NoModelLoadedError returns the prediction that could not run.
type NoModelLoadedError struct {
	Request Predict
}

func (e *NoModelLoadedError) Error() string { return ErrNoModelLoaded.Error() }

func (e *NoModelLoadedError) Unwrap() error { return ErrNoModelLoaded }

// SendError hands an undelivered command back to the caller.
type SendError struct {
	Command Command
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %s: %v", Describe(e.Command), e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// PanicError is returned by Shutdown when the worker goroutine panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker goroutine panicked: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// LoadError reports a failed model load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("error loading model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ContextTooLargeError reports a budget beyond what the model supports.
type ContextTooLargeError struct {
	Requested int
	Supported int
}

func (e *ContextTooLargeError) Error() string {
	return fmt.Sprintf("context size %d is too large for model; maximum supported: %d", e.Requested, e.Supported)
}

// StreamError reports a failure while opening or reading a generation stream.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("generation stream failed: %v", e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

// FinishError reports a stream that ended for a reason other than a stop
// sequence or the token budget.
type FinishError struct {
	Reason string
}

func (e *FinishError) Error() string {
	return fmt.Sprintf("generation ended with finish reason %q", e.Reason)
}
