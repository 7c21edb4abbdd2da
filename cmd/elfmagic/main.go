package main

import (
	"os"

	"github.com/vk/elfmagic/internal/cli"
	"github.com/vk/elfmagic/internal/logging"
)

// main is the entry point for the elfmagic CLI binary.
func main() {
	if err := cli.Execute(os.Args[1:]); err != nil {
		logger := logging.NewLogger(os.Stderr, logging.LevelInfo)
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
