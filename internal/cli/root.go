// Package cli implements pixelctl, a local front end to the transform
// pipeline.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// NewRootCommand builds the pixelctl command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelctl",
		Short: "Inspect and transform images with the pixelproxy pipeline",
		Long: `pixelctl runs the same detection, resize planning and encoding as the
pixelproxy service against local files.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"pixelctl %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))

	root.AddCommand(
		newDetectCommand(),
		newPlanCommand(),
		newTransformCommand(),
	)
	return root
}
