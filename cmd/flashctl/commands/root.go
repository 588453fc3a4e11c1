package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// LogLevel is the level of the default logger; --log-level adjusts it.
var LogLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "flashctl",
	Short: "Write disk images to removable drives",
	Long: `Writes disk images (iso, img, raw, dmg) to USB sticks and SD cards with
confirmation before the write and before cancelling, live progress, and a
persistent history of every flash.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		LogLevel.Set(slog.LevelDebug)
	case "warn":
		LogLevel.Set(slog.LevelWarn)
	case "error":
		LogLevel.Set(slog.LevelError)
	default:
		LogLevel.Set(slog.LevelInfo)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/flashes.db", "SQLite history database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm", "FSM state directory")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/flashctl", "Directory for downloaded images")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket holding remote images")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("max-image-size", "0", "Max image size in bytes (0 = unlimited)")
	rootCmd.PersistentFlags().StringSlice("image-extensions", []string{"iso", "img", "raw", "dmg"}, "Accepted image extensions")
	rootCmd.PersistentFlags().String("writer-command", "dd", "dd-compatible writer command")
	rootCmd.PersistentFlags().String("block-size", "4M", "Writer block size")
	rootCmd.PersistentFlags().Bool("unmount-before-flash", true, "Unmount the target's partitions before writing")
	rootCmd.PersistentFlags().Bool("binary-units", false, "Show sizes in KiB/MiB/GiB")
	rootCmd.PersistentFlags().Int("fsm-max-retries", 3, "Max FSM retries per state")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	for _, name := range []string{
		"sqlite-path", "fsm-db-path", "work-dir", "s3-bucket", "s3-region",
		"max-image-size", "image-extensions", "writer-command", "block-size",
		"unmount-before-flash", "binary-units", "fsm-max-retries", "log-level",
	} {
		viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}
