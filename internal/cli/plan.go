package cli

import (
	"errors"
	"fmt"

	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/spf13/cobra"
)

func newPlanCommand() *cobra.Command {
	var width, height, maxWidth, maxHeight int

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the output dimensions for a source size and bounds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if width <= 0 || height <= 0 {
				return errors.New("--width and --height must be positive")
			}
			params := pipeline.NewParams(pipeline.WithMaxWidth(maxWidth), pipeline.WithMaxHeight(maxHeight))
			w, h := pipeline.Plan(width, height, params.MaxWidth(), params.MaxHeight())
			fmt.Fprintf(cmd.OutOrStdout(), "%dx%d\n", w, h)
			return nil
		},
	}

	cmd.Flags().IntVarP(&width, "width", "W", 0, "source width in pixels")
	cmd.Flags().IntVarP(&height, "height", "H", 0, "source height in pixels")
	cmd.Flags().IntVar(&maxWidth, "max-width", 0, "maximum output width (default 4096)")
	cmd.Flags().IntVar(&maxHeight, "max-height", 0, "maximum output height (default 4096)")
	return cmd
}
