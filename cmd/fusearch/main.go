// Package main provides the entry point for the fusearch CLI.
package main

import (
	"os"

	"github.com/larroy/fusearch/cmd/fusearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
