package main

import (
	"log/slog"
	"os"

	"github.com/imagewriter/flashctl/cmd/flashctl/commands"
)

func main() {
	// Logs go to stderr so stdout stays clean for tables, JSON and progress
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: commands.LogLevel,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
