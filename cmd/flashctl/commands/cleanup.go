package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/imagewriter/flashctl/internal/config"
	"github.com/imagewriter/flashctl/pkg/db"
	"github.com/imagewriter/flashctl/pkg/errors"
)

var (
	cleanupAll       bool
	cleanupDownloads bool
	cleanupHistory   bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove downloaded images and finished history entries",
	Long: `Clean up local state:
  --downloads   Remove images fetched into the work directory
  --history     Remove done, failed and cancelled flashes from history
  --all         Both of the above`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().BoolVar(&cleanupAll, "all", false, "Clean everything")
	cleanupCmd.Flags().BoolVar(&cleanupDownloads, "downloads", false, "Remove downloaded images")
	cleanupCmd.Flags().BoolVar(&cleanupHistory, "history", false, "Remove finished history entries")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if !cleanupAll && !cleanupDownloads && !cleanupHistory {
		return fmt.Errorf("must specify --all, --downloads, or --history")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cleanupAll || cleanupDownloads {
		if err := cleanupDownloadedImages(cfg); err != nil {
			return err
		}
	}
	if cleanupAll || cleanupHistory {
		if err := cleanupFinishedFlashes(context.Background(), cfg); err != nil {
			return err
		}
	}
	return nil
}

func cleanupDownloadedImages(cfg *config.Config) error {
	dir := filepath.Join(cfg.WorkDir, "images")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Println("No downloaded images")
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read download directory")
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			fmt.Printf("Failed to remove %s: %v\n", path, err)
			continue
		}
		removed++
	}

	fmt.Printf("Removed %d downloaded images\n", removed)
	return nil
}

func cleanupFinishedFlashes(ctx context.Context, cfg *config.Config) error {
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	n, err := repo.DeleteByStatus(ctx, db.StatusDone, db.StatusFailed, db.StatusCancelled)
	if err != nil {
		return errors.Wrap(err, "history cleanup failed")
	}

	fmt.Printf("Removed %d history entries\n", n)
	return nil
}
