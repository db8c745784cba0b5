package cli

import (
	"fmt"
	"os"

	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/spf13/cobra"
)

func newDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect <file>",
		Short: "Print the detected format and MIME type of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			t, err := pipeline.DetectFormat(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t, t.MIME())
			return nil
		},
	}
}
