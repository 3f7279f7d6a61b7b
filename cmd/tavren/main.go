// Package main provides the entry point for the tavren CLI.
package main

import (
	"os"

	"github.com/MacroAcon/tavren/cmd/tavren/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
