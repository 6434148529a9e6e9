// Package worker defines the vocabulary shared by the generation workers:
// the commands a caller sends, the responses a worker emits, the options a
// prediction runs under, and the lifecycle contract every backend honors.
//
// A worker owns exactly one goroutine. The caller talks to it only through
// messages; nothing mutable is shared. Commands are observed in send order
// and responses are delivered in the order the worker produced them.
package worker

import (
	"fmt"

	"github.com/mwiater/weave/internal/appconfig"
)

// Command is a request from the caller to a worker.
type Command interface {
	command()
}

// Stop cancels any in-flight generation. It does not terminate the worker.
type Stop struct{}

// Predict asks the worker to continue Prompt under Options.
type Predict struct {
	Prompt  string
	Options Options
}

// LoadModel swaps the model of a local worker.
type LoadModel struct {
	Path string
}

// FetchModels asks a remote worker for its model catalog.
type FetchModels struct{}

func (Stop) command()        {}
func (Predict) command()     {}
func (LoadModel) command()   {}
func (FetchModels) command() {}

// Response is a message from a worker to the caller.
type Response interface {
	response()
}

// Predicted carries one incremental piece of generated text.
type Predicted struct {
	Piece string
}

// Done reports the end of the current request. The worker is idle again.
type Done struct{}

// Busy returns a command the worker could not act on while generating.
type Busy struct {
	Command Command
}

// Error reports a recoverable failure. The worker stays alive.
type Error struct {
	Err error
}

// LoadedModel acknowledges a LoadModel command.
type LoadedModel struct {
	Path         string
	Capabilities Capabilities
}

// Models answers a FetchModels command.
type Models struct {
	Catalog []string
}

func (Predicted) response()   {}
func (Done) response()        {}
func (Busy) response()        {}
func (Error) response()       {}
func (LoadedModel) response() {}
func (Models) response()      {}

func (e Error) Error() string { return e.Err.Error() }
func (e Error) Unwrap() error { return e.Err }

// Capabilities describes a loaded local model.
type Capabilities struct {
	// ContextSize is the context the engine was created with.
	ContextSize int
	// TrainedContextSize is the largest context the model supports.
	TrainedContextSize int
	Metadata           map[string]string
}

// Message is one turn of a chat bootstrap for remote backends.
type Message struct {
	Role    string
	Content string
}

// Options is the per-request generation configuration.
type Options struct {
	// MaxTokens is the token budget of the request.
	MaxTokens int
	Stop      []string
	// Seed fixes sampling randomness when set.
	Seed       *int64
	Parameters appconfig.Parameters
	// Model overrides the remote model for this request.
	Model string
	// System and Messages prefix the prompt for chat backends.
	System   string
	Messages []Message
}

// Clone deep-copies o so the copy shares no memory with the original.
func (o Options) Clone() Options {
	out := o
	out.Parameters = o.Parameters.Clone()
	if o.Stop != nil {
		out.Stop = append([]string(nil), o.Stop...)
	}
	if o.Seed != nil {
		seed := *o.Seed
		out.Seed = &seed
	}
	if o.Messages != nil {
		out.Messages = append([]Message(nil), o.Messages...)
	}
	return out
}

// Validate rejects options no backend can honor.
func (o Options) Validate() error {
	if o.MaxTokens < 1 {
		return fmt.Errorf("%w: token budget must be at least 1, got %d", ErrInvalidOptions, o.MaxTokens)
	}
	for i, s := range o.Stop {
		if s == "" {
			return fmt.Errorf("%w: stop string %d is empty", ErrInvalidOptions, i)
		}
	}
	return nil
}

// WithStops returns a copy of o with extra stop strings appended, skipping duplicates.
func (o Options) WithStops(extra ...string) Options {
	out := o.Clone()
	seen := make(map[string]struct{}, len(out.Stop))
	for _, s := range out.Stop {
		seen[s] = struct{}{}
	}
	for _, s := range extra {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out.Stop = append(out.Stop, s)
	}
	return out
}

// OptionsFromConfig builds the default request options from configuration.
func OptionsFromConfig(cfg appconfig.Config) Options {
	opts := Options{
		MaxTokens:  cfg.Generation.TokenBudget(),
		Parameters: cfg.Generation.EffectiveParameters(),
	}
	if len(cfg.Generation.Stop) > 0 {
		opts.Stop = append([]string(nil), cfg.Generation.Stop...)
	}
	if cfg.Generation.Seed != nil {
		seed := *cfg.Generation.Seed
		opts.Seed = &seed
	}
	if cfg.BackendName() == appconfig.BackendRemote {
		opts.Model = cfg.Remote.ModelName()
		opts.System = cfg.Remote.SystemPromptText()
	}
	return opts
}

// Describe renders a command for logs and user-facing messages without the prompt body.
func Describe(cmd Command) string {
	switch c := cmd.(type) {
	case Stop:
		return "stop"
	case Predict:
		return fmt.Sprintf("predict (%d chars, budget %d)", len(c.Prompt), c.Options.MaxTokens)
	case LoadModel:
		return fmt.Sprintf("load model %s", c.Path)
	case FetchModels:
		return "fetch models"
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}
