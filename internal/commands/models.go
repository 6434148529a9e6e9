// internal/commands/models.go
package weave

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mwiater/weave/internal/appconfig"
	"github.com/mwiater/weave/internal/worker"
)

// modelsCmd implements 'models', which lists remote models or loads the local model.
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List remote models or describe the local model",
	Long:  `The 'models' command asks a remote backend for its model catalog, or loads the configured local model and prints its capabilities.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		wake, notifier := newSessionNotifier()
		w, err := newWorker(cfg, notifier)
		if err != nil {
			return err
		}

		if err := w.Start(cmd.Context()); err != nil {
			return err
		}
		defer func() { _ = w.Shutdown() }()

		ctx, stop := notifyInterrupt(cmd.Context())
		defer stop()

		return runModels(ctx, &session{w: w, wake: wake}, cfg, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}

func runModels(ctx context.Context, s *session, cfg *appconfig.Config, out io.Writer) error {
	var request worker.Command = worker.FetchModels{}
	if cfg.BackendName() == appconfig.BackendLocal {
		request = worker.LoadModel{Path: cfg.Local.ModelPath}
	}
	if err := s.w.Send(request); err != nil {
		return err
	}

	for {
		resp, err := s.next(ctx)
		if err != nil {
			return err
		}
		switch r := resp.(type) {
		case worker.Models:
			fmt.Fprintf(out, "%s models:\n", cfg.Remote.ProviderName())
			for _, id := range r.Catalog {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		case worker.LoadedModel:
			printCapabilities(out, r)
			return nil
		case worker.Error:
			fmt.Fprintln(out, failedText(r.Err.Error()))
			return r.Err
		case worker.Busy:
			return fmt.Errorf("worker busy: %s", worker.Describe(r.Command))
		}
	}
}

func printCapabilities(out io.Writer, r worker.LoadedModel) {
	fmt.Fprintf(out, "%s %s\n", successText("loaded"), r.Path)
	fmt.Fprintf(out, "  Context Size:    %d\n", r.Capabilities.ContextSize)
	fmt.Fprintf(out, "  Trained Context: %d\n", r.Capabilities.TrainedContextSize)

	keys := make([]string, 0, len(r.Capabilities.Metadata))
	for k := range r.Capabilities.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		fmt.Fprintln(out, "  Metadata:")
	}
	for _, k := range keys {
		fmt.Fprintf(out, "    %s: %s\n", k, r.Capabilities.Metadata[k])
	}
}
