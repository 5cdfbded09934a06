// Package main provides the entry point for the siftd daemon.
package main

import (
	"os"

	"github.com/siftdev/siftd/cmd/siftd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
