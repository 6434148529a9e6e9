// internal/commands/generate.go
package weave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mwiater/weave/internal/util"
	"github.com/mwiater/weave/internal/worker"
)

// stopGrace bounds how long an interrupted generation may take to acknowledge Stop.
const stopGrace = 5 * time.Second

var generateFile string

// generateCmd implements 'generate', which continues a prompt once and streams the result to stdout.
var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Continue a prompt once and print the generated text",
	Long:  `The 'generate' command starts a worker for the configured backend, continues the prompt (from arguments, --file, or stdin) and streams the generated text to stdout. Ctrl+C stops the generation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt, err := readPrompt(cmd.InOrStdin(), generateFile, args)
		if err != nil {
			return err
		}
		if strings.TrimSpace(prompt) == "" {
			return fmt.Errorf("nothing to continue: pass a prompt, --file, or text on stdin")
		}

		cfg := GetConfig()
		wake, notifier := newSessionNotifier()
		w, err := newWorker(cfg, notifier)
		if err != nil {
			return err
		}

		// The worker outlives an interrupt so it can acknowledge Stop.
		if err := w.Start(cmd.Context()); err != nil {
			return err
		}
		defer func() {
			if err := w.Shutdown(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), failedText("worker shutdown: "+err.Error()))
			}
		}()

		ctx, stop := notifyInterrupt(cmd.Context())
		defer stop()
		s := &session{w: w, wake: wake}
		return runGenerate(ctx, s, prompt, worker.OptionsFromConfig(*cfg), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	generateCmd.Flags().StringVarP(&generateFile, "file", "f", "", "read the prompt from this file")
	rootCmd.AddCommand(generateCmd)
}

// readPrompt prefers arguments, then the file, then stdin.
func readPrompt(stdin io.Reader, file string, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if file != "" {
		story, err := util.ReadStory(file)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return story, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// runGenerate predicts once and writes pieces to out until the request ends.
// Cancelling ctx stops the generation and waits for its acknowledgment.
func runGenerate(ctx context.Context, s *session, prompt string, opts worker.Options, out, errOut io.Writer) error {
	if err := s.w.Predict(prompt, opts); err != nil {
		return err
	}

	stopping := false
	var text strings.Builder
	for {
		resp, err := s.next(ctx)
		if err != nil {
			if stopping || !errors.Is(err, context.Canceled) {
				return err
			}
			stopping = true
			fmt.Fprintln(errOut, noticeText("\ninterrupted; stopping generation"))
			if err := s.w.Stop(); err != nil {
				return err
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(context.Background(), stopGrace)
			defer cancel()
			continue
		}

		switch r := resp.(type) {
		case worker.Predicted:
			text.WriteString(r.Piece)
			fmt.Fprint(out, r.Piece)
		case worker.Done:
			fmt.Fprintln(out)
			if !stopping {
				fmt.Fprintln(errOut, successText(fmt.Sprintf("done (%d chars)", text.Len())))
			}
			return nil
		case worker.Busy:
			fmt.Fprintln(errOut, noticeText("queued behind current generation: "+worker.Describe(r.Command)))
		case worker.Error:
			fmt.Fprintln(out)
			fmt.Fprintln(errOut, failedText("generation failed: "+r.Err.Error()))
			return r.Err
		}
	}
}
