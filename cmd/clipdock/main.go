// Package main is the entry point for the clipdock application.
package main

import (
	"os"

	"github.com/clipdock/clipdock/cmd/clipdock/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
