package main

import (
	"fmt"
	"os"

	"github.com/dunamismax/pixelproxy/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pixelctl:", err)
		os.Exit(1)
	}
}
