// internal/commands/write.go
package weave

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mwiater/weave/internal/tui"
	"github.com/mwiater/weave/internal/util"
)

// runEditor is a function alias to tui.Run for starting the story editor.
var runEditor = tui.Run

// writeCmd implements 'write', which opens the interactive story editor.
var writeCmd = &cobra.Command{
	Use:   "write [story-file]",
	Short: "Open the interactive story editor",
	Long:  `The 'write' command opens the story editor. When a story file is given it is loaded on start and saved when the editor exits.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path, story string
		if len(args) == 1 {
			path = args[0]
			var err error
			if story, err = util.ReadStory(path); err != nil {
				return fmt.Errorf("open story: %w", err)
			}
		}

		edited, err := runEditor(cmd.Context(), GetConfig(), story)
		if path != "" && edited != story {
			if werr := util.WriteFile(path, []byte(edited)); werr != nil {
				return fmt.Errorf("save story: %w", werr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successText("saved "+path))
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(writeCmd)
}
