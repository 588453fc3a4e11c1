package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imagewriter/flashctl/pkg/db"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/progress"
)

var historyOutput string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past flashes and their status",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	flashes, err := repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if done, err := writeStructured(os.Stdout, historyOutput, flashes); done || err != nil {
		return err
	}

	if len(flashes) == 0 {
		fmt.Println("No flashes recorded")
		return nil
	}

	fmt.Printf("%-36s %-30s %-14s %-10s %-12s %-16s\n", "RUN", "IMAGE", "DEVICE", "STATUS", "WRITTEN", "WHEN")
	fmt.Println("------------------------------------------------------------------------------------------------------------------------")

	for _, f := range flashes {
		fmt.Printf("%-36s %-30s %-14s %-10s %-12s %-16s\n",
			f.RunID, truncate(f.ImagePath, 30), f.DevicePath, f.Status,
			progress.FormatBytes(f.BytesWritten, cfg.BinaryUnits), when(f.CreatedAt))
		if f.Finished() && f.ErrorMessage != "" {
			fmt.Printf("    %s\n", f.ErrorMessage)
		}
	}
	return nil
}

// when renders an SQLite timestamp relative to now.
func when(ts string) string {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return humanize.Time(t)
		}
	}
	return ts
}

// truncate keeps the tail of long paths, which carries the file name.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
