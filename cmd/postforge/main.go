// Package main is the entry point for the postforge server. The serve
// command loads configuration, connects to services, sets up routing and
// starts the HTTP server with graceful shutdown support.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "postforge",
	Short: "Batch image template generation API",
	Long: `postforge generates batches of images from prompts, stages them as
drafts for review, and turns approved drafts into reusable templates that
end users personalise with their own photo.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// setupLogger installs the default structured logger: text in development,
// JSON everywhere else.
func setupLogger(dev bool) {
	var handler slog.Handler
	if dev {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	slog.SetDefault(slog.New(handler))
}
