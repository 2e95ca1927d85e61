// Package main is the entry point for the retrovue server.
package main

import (
	"errors"
	"os"

	"github.com/retrovue/retrovue/cmd/retrovue/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps a top-level error to the CLI contract: 0 normal exit,
// 1 invalid configuration, 2 any other fatal startup failure.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, cmd.ErrConfig) {
		return 1
	}
	return 2
}
