package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dunamismax/pixelproxy/internal/format"
	"github.com/dunamismax/pixelproxy/internal/pipeline"
	"github.com/spf13/cobra"
)

type transformOptions struct {
	maxWidth  int
	maxHeight int
	quality   int
	format    string
}

func newTransformCommand() *cobra.Command {
	var opts transformOptions

	cmd := &cobra.Command{
		Use:   "transform <in> <out>",
		Short: "Resize and re-encode an image file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransform(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().IntVarP(&opts.maxWidth, "width", "w", 0, "maximum output width")
	cmd.Flags().IntVarP(&opts.maxHeight, "height", "H", 0, "maximum output height")
	cmd.Flags().IntVarP(&opts.quality, "quality", "q", pipeline.DefaultQuality, "encoder quality 0-100")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: png, jpeg or webp (default: source format)")
	return cmd
}

func runTransform(cmd *cobra.Command, in, out string, opts transformOptions) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read %s: %w", in, err)
	}

	src, err := pipeline.DetectFormat(data)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}

	paramOpts := []pipeline.ParamOption{
		pipeline.WithMaxWidth(opts.maxWidth),
		pipeline.WithMaxHeight(opts.maxHeight),
		pipeline.WithQuality(opts.quality),
	}
	if opts.format != "" {
		paramOpts = append(paramOpts, pipeline.WithFormat(format.Parse(opts.format)))
	}

	transformer := pipeline.NewTransformer()
	started := time.Now()
	result, err := transformer.Transform(data, src, pipeline.NewParams(paramOpts...))
	if err != nil {
		return err
	}

	if err := os.WriteFile(out, result.Data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}

	mode := "transcoded"
	if result.FastPath {
		mode = "unchanged"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s %dx%d %d bytes (%s, %s, webp engine %s)\n",
		in, src, result.Format, result.Width, result.Height, len(result.Data),
		mode, time.Since(started).Round(time.Millisecond), transformer.Engine(),
	)
	return nil
}
